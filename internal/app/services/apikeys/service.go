// Package apikeys implements API key management for the dashboard: create,
// list, rotate, enable/disable, and soft delete, within per-user limits.
package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/chainpulse/console/internal/apperr"
	"github.com/chainpulse/console/internal/app/domain/apikey"
	"github.com/chainpulse/console/internal/app/storage"
	"github.com/chainpulse/console/internal/cache"
	"github.com/chainpulse/console/pkg/logger"
)

const secretPrefix = "cp_live_"

// Limits bounds how many keys a user may hold and have enabled at once.
type Limits struct {
	MaxKeys    int
	MaxEnabled int
}

// Tag scopes cache invalidation to one user's key listing.
func Tag(userID string) string { return cache.Tag("api-keys", userID) }

// Service manages API keys.
type Service struct {
	store  storage.APIKeyStore
	cache  *cache.Cache
	limits Limits
	log    *logger.Logger
	now    func() time.Time
}

func NewService(store storage.APIKeyStore, c *cache.Cache, limits Limits, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:  store,
		cache:  c,
		limits: limits,
		log:    log,
		now:    time.Now,
	}
}

// CreatedKey carries the secret, which is shown exactly once.
type CreatedKey struct {
	Key    apikey.Key `json:"key"`
	Secret string     `json:"secret"`
}

// Create mints a new key. The per-user key limit is enforced before any
// secret material is generated or stored.
func (s *Service) Create(ctx context.Context, userID, name string) (*CreatedKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.NewValidationError("name", "is required")
	}

	existing, err := s.store.ListAPIKeys(ctx, userID, false)
	if err != nil {
		return nil, apperr.WrapServiceError("apikeys", "list", err)
	}
	if len(existing) >= s.limits.MaxKeys {
		return nil, apperr.NewLimitError("API key", s.limits.MaxKeys)
	}

	secret, prefix, hash, err := mintSecret()
	if err != nil {
		return nil, apperr.WrapServiceError("apikeys", "mint", err)
	}

	// New keys start enabled while there is room under the enabled limit.
	enabled := countEnabled(existing) < s.limits.MaxEnabled

	created, err := s.store.CreateAPIKey(ctx, apikey.Key{
		UserID:     userID,
		Name:       name,
		Prefix:     prefix,
		SecretHash: hash,
		Enabled:    enabled,
	})
	if err != nil {
		return nil, apperr.WrapServiceError("apikeys", "create", err)
	}

	s.log.WithField("user_id", userID).WithField("key_id", created.ID).Info("api key created")
	return &CreatedKey{Key: created, Secret: secret}, nil
}

// List returns the user's non-deleted keys, cached on the medium tier.
func (s *Service) List(ctx context.Context, userID string) ([]apikey.Key, error) {
	key := cache.BuildKey("api-keys", userID, nil)
	opts := cache.Options{TTL: cache.TTLMedium, Tags: []string{Tag(userID)}}
	return cache.Fetch(ctx, s.cache, key, opts, func(ctx context.Context) ([]apikey.Key, error) {
		return s.store.ListAPIKeys(ctx, userID, false)
	})
}

// Delete soft-deletes the key. Deleted keys stop counting against the limit.
func (s *Service) Delete(ctx context.Context, userID, keyID string) error {
	k, err := s.owned(ctx, userID, keyID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	k.DeletedAt = &now
	k.Enabled = false
	if _, err := s.store.UpdateAPIKey(ctx, k); err != nil {
		return apperr.WrapServiceError("apikeys", "delete", err)
	}
	s.log.WithField("user_id", userID).WithField("key_id", keyID).Info("api key deleted")
	return nil
}

// SetEnabled toggles the key. Enabling fails, leaving the key unchanged,
// when the enabled-key limit is already met.
func (s *Service) SetEnabled(ctx context.Context, userID, keyID string, enabled bool) (apikey.Key, error) {
	k, err := s.owned(ctx, userID, keyID)
	if err != nil {
		return apikey.Key{}, err
	}
	if k.Enabled == enabled {
		return k, nil
	}

	if enabled {
		keys, err := s.store.ListAPIKeys(ctx, userID, false)
		if err != nil {
			return apikey.Key{}, apperr.WrapServiceError("apikeys", "list", err)
		}
		if countEnabled(keys) >= s.limits.MaxEnabled {
			return apikey.Key{}, apperr.NewLimitError("enabled API key", s.limits.MaxEnabled)
		}
	}

	k.Enabled = enabled
	updated, err := s.store.UpdateAPIKey(ctx, k)
	if err != nil {
		return apikey.Key{}, apperr.WrapServiceError("apikeys", "toggle", err)
	}
	return updated, nil
}

// Rotate replaces the key's secret. The old secret stops working at once;
// the new one is returned exactly once.
func (s *Service) Rotate(ctx context.Context, userID, keyID string) (*CreatedKey, error) {
	k, err := s.owned(ctx, userID, keyID)
	if err != nil {
		return nil, err
	}

	secret, prefix, hash, err := mintSecret()
	if err != nil {
		return nil, apperr.WrapServiceError("apikeys", "mint", err)
	}

	k.Prefix = prefix
	k.SecretHash = hash
	updated, err := s.store.UpdateAPIKey(ctx, k)
	if err != nil {
		return nil, apperr.WrapServiceError("apikeys", "rotate", err)
	}

	s.log.WithField("user_id", userID).WithField("key_id", keyID).Info("api key rotated")
	return &CreatedKey{Key: updated, Secret: secret}, nil
}

// TouchLastUsed records key usage, matched by secret hash.
func (s *Service) TouchLastUsed(ctx context.Context, secret string) error {
	k, err := s.store.GetAPIKeyByHash(ctx, HashSecret(secret))
	if err != nil {
		return err
	}
	now := s.now().UTC()
	k.LastUsedAt = &now
	_, err = s.store.UpdateAPIKey(ctx, k)
	return err
}

// owned loads the key and verifies it belongs to userID and is not deleted.
func (s *Service) owned(ctx context.Context, userID, keyID string) (apikey.Key, error) {
	k, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return apikey.Key{}, err
	}
	if !k.Active() {
		return apikey.Key{}, apperr.NewNotFoundError("API key", keyID)
	}
	if k.UserID != userID {
		return apikey.Key{}, apperr.NewOwnershipError("API key", keyID, userID)
	}
	return k, nil
}

// HashSecret is the persisted form of a key secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// mintSecret generates a fresh secret, its display prefix, and its hash.
func mintSecret() (secret, prefix, hash string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", err
	}
	secret = secretPrefix + hex.EncodeToString(raw)
	prefix = secret[:len(secretPrefix)+8]
	return secret, prefix, HashSecret(secret), nil
}

func countEnabled(keys []apikey.Key) int {
	n := 0
	for _, k := range keys {
		if k.Enabled {
			n++
		}
	}
	return n
}
