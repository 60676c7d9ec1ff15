// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chainpulse/console/internal/app/domain/apikey"
	"github.com/chainpulse/console/internal/app/domain/usage"
	"github.com/chainpulse/console/internal/app/domain/user"
	"github.com/chainpulse/console/internal/app/storage"
	"github.com/chainpulse/console/internal/apperr"
)

// Store implements the storage interfaces over a sqlx database handle.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.APIKeyStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type userRow struct {
	ID               string    `db:"id"`
	Email            string    `db:"email"`
	Name             string    `db:"name"`
	Role             string    `db:"role"`
	EmailVerified    bool      `db:"email_verified"`
	StripeCustomerID string    `db:"stripe_customer_id"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r userRow) toDomain() user.User {
	return user.User(r)
}

// --- UserStore ---------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	const q = `INSERT INTO users (id, email, name, role, email_verified, stripe_customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.db.ExecContext(ctx, q, u.ID, u.Email, u.Name, u.Role, u.EmailVerified, u.StripeCustomerID, u.CreatedAt, u.UpdatedAt); err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = time.Now().UTC()

	const q = `UPDATE users SET email = $2, name = $3, role = $4, email_verified = $5, stripe_customer_id = $6, updated_at = $7 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, u.ID, u.Email, u.Name, u.Role, u.EmailVerified, u.StripeCustomerID, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, apperr.NewNotFoundError("user", u.ID)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var row userRow
	const q = `SELECT id, email, name, role, email_verified, stripe_customer_id, created_at, updated_at FROM users WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, apperr.NewNotFoundError("user", id)
		}
		return user.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	const q = `SELECT id, email, name, role, email_verified, stripe_customer_id, created_at, updated_at FROM users WHERE lower(email) = lower($1)`
	if err := s.db.GetContext(ctx, &row, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, apperr.NewNotFoundError("user", email)
		}
		return user.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetUserByStripeCustomerID(ctx context.Context, customerID string) (user.User, error) {
	var row userRow
	const q = `SELECT id, email, name, role, email_verified, stripe_customer_id, created_at, updated_at FROM users WHERE stripe_customer_id = $1`
	if err := s.db.GetContext(ctx, &row, q, customerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, apperr.NewNotFoundError("user", customerID)
		}
		return user.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	var rows []userRow
	const q = `SELECT id, email, name, role, email_verified, stripe_customer_id, created_at, updated_at FROM users ORDER BY created_at`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]user.User, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// --- SessionStore ------------------------------------------------------------

type sessionRow struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	TokenHash  string    `db:"token_hash"`
	ExpiresAt  time.Time `db:"expires_at"`
	CreatedAt  time.Time `db:"created_at"`
	LastSeenAt time.Time `db:"last_seen_at"`
}

func (s *Store) CreateSession(ctx context.Context, sess user.Session) (user.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.LastSeenAt = now

	const q = `INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.ExecContext(ctx, q, sess.ID, sess.UserID, sess.TokenHash, sess.ExpiresAt, sess.CreatedAt, sess.LastSeenAt); err != nil {
		return user.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (user.Session, error) {
	var row sessionRow
	const q = `SELECT id, user_id, token_hash, expires_at, created_at, last_seen_at FROM sessions WHERE token_hash = $1`
	if err := s.db.GetContext(ctx, &row, q, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.Session{}, apperr.NewNotFoundError("session", "")
		}
		return user.Session{}, err
	}
	return user.Session(row), nil
}

func (s *Store) UpdateSessionActivity(ctx context.Context, id string, seen time.Time) error {
	const q = `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, q, id, seen)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	const q = `DELETE FROM sessions WHERE token_hash = $1`
	_, err := s.db.ExecContext(ctx, q, tokenHash)
	return err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	const q = `DELETE FROM sessions WHERE expires_at < $1`
	res, err := s.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- APIKeyStore -------------------------------------------------------------

type keyRow struct {
	ID         string       `db:"id"`
	UserID     string       `db:"user_id"`
	Name       string       `db:"name"`
	Prefix     string       `db:"prefix"`
	SecretHash string       `db:"secret_hash"`
	Enabled    bool         `db:"enabled"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
	DeletedAt  sql.NullTime `db:"deleted_at"`
}

func (r keyRow) toDomain() apikey.Key {
	k := apikey.Key{
		ID:         r.ID,
		UserID:     r.UserID,
		Name:       r.Name,
		Prefix:     r.Prefix,
		SecretHash: r.SecretHash,
		Enabled:    r.Enabled,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.LastUsedAt.Valid {
		t := r.LastUsedAt.Time
		k.LastUsedAt = &t
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		k.DeletedAt = &t
	}
	return k
}

const keyColumns = `id, user_id, name, prefix, secret_hash, enabled, last_used_at, created_at, updated_at, deleted_at`

func (s *Store) CreateAPIKey(ctx context.Context, k apikey.Key) (apikey.Key, error) {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	k.CreatedAt = now
	k.UpdatedAt = now

	const q = `INSERT INTO api_keys (id, user_id, name, prefix, secret_hash, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.db.ExecContext(ctx, q, k.ID, k.UserID, k.Name, k.Prefix, k.SecretHash, k.Enabled, k.CreatedAt, k.UpdatedAt); err != nil {
		return apikey.Key{}, err
	}
	return k, nil
}

func (s *Store) UpdateAPIKey(ctx context.Context, k apikey.Key) (apikey.Key, error) {
	k.UpdatedAt = time.Now().UTC()

	const q = `UPDATE api_keys SET name = $2, prefix = $3, secret_hash = $4, enabled = $5, last_used_at = $6, updated_at = $7, deleted_at = $8 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, k.ID, k.Name, k.Prefix, k.SecretHash, k.Enabled, nullTime(k.LastUsedAt), k.UpdatedAt, nullTime(k.DeletedAt))
	if err != nil {
		return apikey.Key{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apikey.Key{}, apperr.NewNotFoundError("api key", k.ID)
	}
	return k, nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (apikey.Key, error) {
	var row keyRow
	q := `SELECT ` + keyColumns + ` FROM api_keys WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apikey.Key{}, apperr.NewNotFoundError("api key", id)
		}
		return apikey.Key{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, secretHash string) (apikey.Key, error) {
	var row keyRow
	q := `SELECT ` + keyColumns + ` FROM api_keys WHERE secret_hash = $1 AND deleted_at IS NULL`
	if err := s.db.GetContext(ctx, &row, q, secretHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apikey.Key{}, apperr.NewNotFoundError("api key", "")
		}
		return apikey.Key{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string, includeDeleted bool) ([]apikey.Key, error) {
	q := `SELECT ` + keyColumns + ` FROM api_keys WHERE user_id = $1`
	if !includeDeleted {
		q += ` AND deleted_at IS NULL`
	}
	q += ` ORDER BY created_at`

	var rows []keyRow
	if err := s.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, err
	}
	out := make([]apikey.Key, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- UsageStore --------------------------------------------------------------

func (s *Store) UpsertDailyRollup(ctx context.Context, r usage.DailyRollup) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO usage_daily (user_id, day, requests, errors, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, day) DO UPDATE SET requests = EXCLUDED.requests, errors = EXCLUDED.errors`
	_, err := s.db.ExecContext(ctx, q, r.UserID, r.Day, r.Requests, r.Errors, r.CreatedAt)
	return err
}

func (s *Store) ListDailyRollups(ctx context.Context, userID string, from, to time.Time) ([]usage.DailyRollup, error) {
	type rollupRow struct {
		UserID    string    `db:"user_id"`
		Day       string    `db:"day"`
		Requests  int64     `db:"requests"`
		Errors    int64     `db:"errors"`
		CreatedAt time.Time `db:"created_at"`
	}

	const q = `SELECT user_id, day, requests, errors, created_at FROM usage_daily
		WHERE user_id = $1 AND day >= $2 AND day <= $3 ORDER BY day`
	var rows []rollupRow
	if err := s.db.SelectContext(ctx, &rows, q, userID, from.Format("2006-01-02"), to.Format("2006-01-02")); err != nil {
		return nil, err
	}
	out := make([]usage.DailyRollup, 0, len(rows))
	for _, r := range rows {
		out = append(out, usage.DailyRollup(r))
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
