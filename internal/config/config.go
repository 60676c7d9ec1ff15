// Package config loads application configuration from a YAML file with
// environment-variable overrides for deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Environment string         `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Auth        AuthConfig     `yaml:"auth"`
	Identity    IdentityConfig `yaml:"identity"`
	Billing     BillingConfig  `yaml:"billing"`
	Usage       UsageConfig    `yaml:"usage"`
	Limits      LimitsConfig   `yaml:"limits"`
	Logging     LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret    string   `yaml:"jwt_secret"`
	Issuer       string   `yaml:"issuer"`
	TokenTTL     int      `yaml:"token_ttl"` // seconds
	AdminUserIDs []string `yaml:"admin_user_ids"`
}

type IdentityConfig struct {
	Region     string `yaml:"region"`
	ClientID   string `yaml:"client_id"`
	UserPoolID string `yaml:"user_pool_id"`
}

type BillingConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	PortalReturn  string `yaml:"portal_return_url"`
}

// UsageConfig points at the metrics collector that serves raw per-request
// samples. Empty CollectorURL falls back to an in-process stub, which is
// only useful for local development.
type UsageConfig struct {
	CollectorURL string `yaml:"collector_url"`
	CollectorKey string `yaml:"collector_key"`
}

type LimitsConfig struct {
	MaxAPIKeys     int `yaml:"max_api_keys"`
	MaxEnabledKeys int `yaml:"max_enabled_keys"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config.yaml (or $CONSOLE_CONFIG) and applies env overrides.
func Load() (*Config, error) {
	path := os.Getenv("CONSOLE_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from an explicit path. A missing file is
// not an error; defaults plus env overrides apply.
func LoadFromPath(path string) (*Config, error) {
	cfg := defaults()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required (or JWT_SECRET)")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Auth: AuthConfig{
			Issuer:   "chainpulse-console",
			TokenTTL: 24 * 60 * 60,
		},
		Limits: LimitsConfig{
			MaxAPIKeys:     5,
			MaxEnabledKeys: 3,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ADMIN_USER_IDS"); v != "" {
		cfg.Auth.AdminUserIDs = splitCSV(v)
	}
	if v := os.Getenv("COGNITO_REGION"); v != "" {
		cfg.Identity.Region = v
	}
	if v := os.Getenv("COGNITO_CLIENT_ID"); v != "" {
		cfg.Identity.ClientID = v
	}
	if v := os.Getenv("COGNITO_USER_POOL_ID"); v != "" {
		cfg.Identity.UserPoolID = v
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		cfg.Billing.SecretKey = v
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.Billing.WebhookSecret = v
	}
	if v := os.Getenv("USAGE_COLLECTOR_URL"); v != "" {
		cfg.Usage.CollectorURL = v
	}
	if v := os.Getenv("USAGE_COLLECTOR_KEY"); v != "" {
		cfg.Usage.CollectorKey = v
	}
}

// Production reports whether the deployment is a production build. Error
// translation uses this to decide whether raw detail may surface.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
