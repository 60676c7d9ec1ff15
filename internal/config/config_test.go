package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromPath_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: production
server:
  port: 9090
  allowed_origins: ["https://console.chainpulse.io"]
auth:
  jwt_secret: file-secret
limits:
  max_api_keys: 10
`)
	t.Setenv("JWT_SECRET", "")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.True(t, cfg.Production())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://console.chainpulse.io"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 10, cfg.Limits.MaxAPIKeys)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Limits.MaxEnabledKeys)
	assert.Equal(t, "chainpulse-console", cfg.Auth.Issuer)
}

func TestLoadFromPath_EnvBeatsFile(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: file-secret
server:
  port: 9090
`)
	t.Setenv("PORT", "7070")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("ADMIN_USER_IDS", "u1, u2")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"u1", "u2"}, cfg.Auth.AdminUserIDs)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.Production())
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromPath_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	path := writeConfig(t, "environment: development\n")

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoadFromPath_RejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map\n")

	_, err := LoadFromPath(path)
	require.Error(t, err)
}
