// Package memory provides a thread-safe in-memory persistence layer
// implementing the storage interfaces. It is intended for tests and
// prototyping and deliberately keeps the implementation simple.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chainpulse/console/internal/app/domain/apikey"
	"github.com/chainpulse/console/internal/app/domain/usage"
	"github.com/chainpulse/console/internal/app/domain/user"
	"github.com/chainpulse/console/internal/apperr"
)

// Store is an in-memory implementation of every storage interface.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	users    map[string]user.User
	sessions map[string]user.Session // keyed by token hash
	keys     map[string]apikey.Key
	rollups  map[string]usage.DailyRollup // keyed by userID|day
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:   1,
		users:    make(map[string]user.User),
		sessions: make(map[string]user.Session),
		keys:     make(map[string]apikey.Key),
		rollups:  make(map[string]usage.DailyRollup),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, apperr.NewConflictError("user", u.ID, "already exists")
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return user.User{}, apperr.NewConflictError("user", u.Email, "email already registered")
		}
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, apperr.NewNotFoundError("user", u.ID)
	}
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, apperr.NewNotFoundError("user", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return user.User{}, apperr.NewNotFoundError("user", email)
}

func (s *Store) GetUserByStripeCustomerID(_ context.Context, customerID string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.StripeCustomerID != "" && u.StripeCustomerID == customerID {
			return u, nil
		}
	}
	return user.User{}, apperr.NewNotFoundError("user", customerID)
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SessionStore implementation -------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess user.Session) (user.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.LastSeenAt = now
	s.sessions[sess.TokenHash] = sess
	return sess, nil
}

func (s *Store) GetSessionByTokenHash(_ context.Context, tokenHash string) (user.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[tokenHash]
	if !ok {
		return user.Session{}, apperr.NewNotFoundError("session", "")
	}
	return sess, nil
}

func (s *Store) UpdateSessionActivity(_ context.Context, id string, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, sess := range s.sessions {
		if sess.ID == id {
			sess.LastSeenAt = seen
			s.sessions[hash] = sess
			return nil
		}
	}
	return apperr.NewNotFoundError("session", id)
}

func (s *Store) DeleteSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, tokenHash)
	return nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for hash, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, hash)
			deleted++
		}
	}
	return deleted, nil
}

// APIKeyStore implementation --------------------------------------------------

func (s *Store) CreateAPIKey(_ context.Context, k apikey.Key) (apikey.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k.ID == "" {
		k.ID = s.nextIDLocked()
	} else if _, exists := s.keys[k.ID]; exists {
		return apikey.Key{}, apperr.NewConflictError("api key", k.ID, "already exists")
	}

	now := time.Now().UTC()
	k.CreatedAt = now
	k.UpdatedAt = now
	s.keys[k.ID] = k
	return k, nil
}

func (s *Store) UpdateAPIKey(_ context.Context, k apikey.Key) (apikey.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.keys[k.ID]
	if !ok {
		return apikey.Key{}, apperr.NewNotFoundError("api key", k.ID)
	}
	k.CreatedAt = original.CreatedAt
	k.UpdatedAt = time.Now().UTC()
	s.keys[k.ID] = k
	return k, nil
}

func (s *Store) GetAPIKey(_ context.Context, id string) (apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return apikey.Key{}, apperr.NewNotFoundError("api key", id)
	}
	return k, nil
}

func (s *Store) GetAPIKeyByHash(_ context.Context, secretHash string) (apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, k := range s.keys {
		if k.SecretHash == secretHash && k.Active() {
			return k, nil
		}
	}
	return apikey.Key{}, apperr.NewNotFoundError("api key", "")
}

func (s *Store) ListAPIKeys(_ context.Context, userID string, includeDeleted bool) ([]apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []apikey.Key
	for _, k := range s.keys {
		if k.UserID != userID {
			continue
		}
		if !includeDeleted && !k.Active() {
			continue
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UsageStore implementation ---------------------------------------------------

func (s *Store) UpsertDailyRollup(_ context.Context, r usage.DailyRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.rollups[r.UserID+"|"+r.Day] = r
	return nil
}

func (s *Store) ListDailyRollups(_ context.Context, userID string, from, to time.Time) ([]usage.DailyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []usage.DailyRollup
	for _, r := range s.rollups {
		if r.UserID != userID {
			continue
		}
		day, err := time.Parse("2006-01-02", r.Day)
		if err != nil {
			continue
		}
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}
