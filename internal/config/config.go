// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN for principals and sessions.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// MigrateOnStart applies pending migrations before serving.
	MigrateOnStart bool `mapstructure:"MIGRATE_ON_START"`
	// RedisURL enables the shared revocation denylist (e.g. redis://localhost:6379/0). Empty uses an in-process denylist.
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; defaults to the private key's public half.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTKeyID is the kid header of issued tokens.
	JWTKeyID string `mapstructure:"JWT_KEY_ID"`
	// JWTPreviousPublicKeys lists verify-only keys as "kid=pem-or-path;..." during key rotation.
	JWTPreviousPublicKeys string `mapstructure:"JWT_PREVIOUS_PUBLIC_KEYS"`
	JWTIssuer             string `mapstructure:"JWT_ISSUER"`
	JWTAudience           string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "24h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// JWTClockSkew is the tolerated clock skew when checking exp.
	JWTClockSkew string `mapstructure:"JWT_CLOCK_SKEW"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	LockoutThreshold    int    `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutDuration     string `mapstructure:"LOCKOUT_DURATION"`
	SingleActiveSession bool   `mapstructure:"SINGLE_ACTIVE_SESSION"`
	ReaperEnabled       bool   `mapstructure:"REAPER_ENABLED"`
	ReaperInterval      string `mapstructure:"REAPER_INTERVAL"`
	// ReaperTimeout bounds one sweep; it must be shorter than ReaperInterval.
	ReaperTimeout string `mapstructure:"REAPER_TIMEOUT"`
	// StoreTimeout bounds every store call made while serving a request.
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables propagation.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// PropagationKafkaTopic receives principal.created events.
	PropagationKafkaTopic string `mapstructure:"PROPAGATION_KAFKA_TOPIC"`
	PropagationTimeout    string `mapstructure:"PROPAGATION_TIMEOUT"`

	// OTelEndpoint is the OTLP/gRPC collector (e.g. localhost:4317). Empty disables export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// SentryDSN enables error reporting when set.
	SentryDSN string `mapstructure:"SENTRY_DSN"`
	// LokiURL, when set, also pushes security events to Loki (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// Env is the application environment (e.g. "development", "production").
	Env       string `mapstructure:"APP_ENV"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_KEY_ID", "")
	v.SetDefault("JWT_PREVIOUS_PUBLIC_KEYS", "")
	v.SetDefault("JWT_ISSUER", "nexabank-auth")
	v.SetDefault("JWT_AUDIENCE", "nexabank-api")
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("JWT_CLOCK_SKEW", "30s")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "10m")
	v.SetDefault("SINGLE_ACTIVE_SESSION", true)
	v.SetDefault("REAPER_ENABLED", true)
	v.SetDefault("REAPER_INTERVAL", "1h")
	v.SetDefault("REAPER_TIMEOUT", "5m")
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("PROPAGATION_KAFKA_TOPIC", "nexabank-principal-events")
	v.SetDefault("PROPAGATION_TIMEOUT", "5s")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("SENTRY_DSN", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.LockoutThreshold < 1 {
		return nil, errors.New("config: LOCKOUT_THRESHOLD must be at least 1")
	}
	for key, value := range map[string]string{
		"JWT_ACCESS_TTL":      cfg.JWTAccessTTL,
		"JWT_REFRESH_TTL":     cfg.JWTRefreshTTL,
		"LOCKOUT_DURATION":    cfg.LockoutDuration,
		"REAPER_INTERVAL":     cfg.ReaperInterval,
		"REAPER_TIMEOUT":      cfg.ReaperTimeout,
		"STORE_TIMEOUT":       cfg.StoreTimeout,
		"PROPAGATION_TIMEOUT": cfg.PropagationTimeout,
	} {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return nil, errors.New("config: " + key + " must be a positive duration")
		}
	}
	if d, err := time.ParseDuration(cfg.JWTClockSkew); err != nil || d < 0 {
		return nil, errors.New("config: JWT_CLOCK_SKEW must be a non-negative duration")
	}
	if cfg.ReaperSweepTimeout() >= cfg.ReaperEvery() {
		return nil, errors.New("config: REAPER_TIMEOUT must be shorter than REAPER_INTERVAL")
	}
	if cfg.AccessTTL() > cfg.RefreshTTL() {
		return nil, errors.New("config: JWT_ACCESS_TTL must not exceed JWT_REFRESH_TTL")
	}
	if cfg.JWTIssuer == "" || cfg.JWTAudience == "" {
		return nil, errors.New("config: JWT_ISSUER and JWT_AUDIENCE must be set")
	}

	return &cfg, nil
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return duration(c.JWTAccessTTL, 24*time.Hour) }

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return duration(c.JWTRefreshTTL, 168*time.Hour) }

// ClockSkew parses JWTClockSkew. Returns 0 if unset or invalid.
func (c *Config) ClockSkew() time.Duration { return duration(c.JWTClockSkew, 0) }

func (c *Config) LockoutWindow() time.Duration       { return duration(c.LockoutDuration, 10*time.Minute) }
func (c *Config) ReaperEvery() time.Duration         { return duration(c.ReaperInterval, time.Hour) }
func (c *Config) ReaperSweepTimeout() time.Duration  { return duration(c.ReaperTimeout, 5*time.Minute) }
func (c *Config) StoreCallTimeout() time.Duration    { return duration(c.StoreTimeout, 3*time.Second) }
func (c *Config) PropagationDeadline() time.Duration { return duration(c.PropagationTimeout, 5*time.Second) }

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables identity propagation.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
