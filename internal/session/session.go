// Package session issues and validates sign-in sessions and derives the
// per-request user context the action pipeline authorizes against.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chainpulse/console/internal/app/domain/user"
	"github.com/chainpulse/console/internal/app/storage"
	"github.com/chainpulse/console/internal/apperr"
)

// UserContext is derived fresh from the current session on every action
// invocation and discarded when the request completes.
type UserContext struct {
	UserID     string
	Email      string
	Name       string
	IsAdmin    bool
	IsVerified bool
}

// Claims are the JWT claims carried by a session token.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Manager issues tokens, persists sessions, and resolves user contexts.
type Manager struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
	sessions storage.SessionStore
	users    storage.UserStore
	admins   map[string]struct{}
	now      func() time.Time
}

// NewManager constructs a session manager. adminUserIDs is the allowlist of
// user ids granted the admin role.
func NewManager(secret []byte, issuer string, tokenTTL time.Duration, sessions storage.SessionStore, users storage.UserStore, adminUserIDs []string) *Manager {
	admins := make(map[string]struct{}, len(adminUserIDs))
	for _, id := range adminUserIDs {
		admins[id] = struct{}{}
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Manager{
		secret:   secret,
		issuer:   issuer,
		tokenTTL: tokenTTL,
		sessions: sessions,
		users:    users,
		admins:   admins,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// HashToken returns the hex sha256 of a token. Only hashes are persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IssueToken signs a JWT for the user and records the backing session.
func (m *Manager) IssueToken(ctx context.Context, userID string) (string, error) {
	now := m.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", err
	}

	_, err = m.sessions.CreateSession(ctx, user.Session{
		UserID:    userID,
		TokenHash: HashToken(token),
		ExpiresAt: now.Add(m.tokenTTL),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// ValidateToken checks signature and expiry and returns the subject user id.
func (m *Manager) ValidateToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return "", apperr.ErrUnauthorized
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return "", apperr.ErrUnauthorized
	}
	return claims.UserID, nil
}

// Resolve derives the UserContext for a bearer token. An empty token yields
// (nil, nil): no session is not an error, the authorization step decides.
func (m *Manager) Resolve(ctx context.Context, token string) (*UserContext, error) {
	if token == "" {
		return nil, nil
	}
	userID, err := m.ValidateToken(token)
	if err != nil {
		return nil, nil
	}

	sess, err := m.sessions.GetSessionByTokenHash(ctx, HashToken(token))
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		// A store outage is not "no session"; let the caller translate it.
		return nil, apperr.WrapServiceError("session", "lookup", err)
	}
	if sess.Expired(m.now()) {
		return nil, nil
	}
	_ = m.sessions.UpdateSessionActivity(ctx, sess.ID, m.now())

	u, err := m.users.GetUser(ctx, userID)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.WrapServiceError("session", "load_user", err)
	}

	_, isAdmin := m.admins[u.ID]
	return &UserContext{
		UserID:     u.ID,
		Email:      u.Email,
		Name:       u.Name,
		IsAdmin:    isAdmin || u.Role == "admin",
		IsVerified: u.EmailVerified,
	}, nil
}

// Revoke deletes the session backing a token.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.sessions.DeleteSession(ctx, HashToken(token))
}

// PurgeExpired removes sessions past their expiry.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	return m.sessions.DeleteExpiredSessions(ctx, m.now())
}
