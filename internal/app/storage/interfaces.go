package storage

import (
	"context"
	"time"

	"github.com/chainpulse/console/internal/app/domain/apikey"
	"github.com/chainpulse/console/internal/app/domain/usage"
	"github.com/chainpulse/console/internal/app/domain/user"
)

// Store bundles every persistence concern behind one value. Both the
// in-memory and the Postgres implementation satisfy it.
type Store interface {
	UserStore
	SessionStore
	APIKeyStore
	UsageStore
}

// UserStore persists dashboard user records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
}

// SessionStore persists sign-in sessions keyed by token hash.
type SessionStore interface {
	CreateSession(ctx context.Context, s user.Session) (user.Session, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (user.Session, error)
	UpdateSessionActivity(ctx context.Context, id string, seen time.Time) error
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// APIKeyStore persists API keys. Listing excludes soft-deleted keys unless
// includeDeleted is set.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, k apikey.Key) (apikey.Key, error)
	UpdateAPIKey(ctx context.Context, k apikey.Key) (apikey.Key, error)
	GetAPIKey(ctx context.Context, id string) (apikey.Key, error)
	GetAPIKeyByHash(ctx context.Context, secretHash string) (apikey.Key, error)
	ListAPIKeys(ctx context.Context, userID string, includeDeleted bool) ([]apikey.Key, error)
}

// UsageStore persists daily usage rollups.
type UsageStore interface {
	UpsertDailyRollup(ctx context.Context, r usage.DailyRollup) error
	ListDailyRollups(ctx context.Context, userID string, from, to time.Time) ([]usage.DailyRollup, error)
}
