// Package apikey defines the API key records customers manage from the
// dashboard.
package apikey

import "time"

// Key is a customer API key. The secret is returned exactly once at
// creation; only its hash is persisted.
type Key struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	SecretHash string     `json:"-"`
	Enabled    bool       `json:"enabled"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"-"`
}

// Active reports whether the key counts against the per-user key limit.
func (k Key) Active() bool {
	return k.DeletedAt == nil
}
