// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP read surface listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis address for risk-signal stores (host:port); empty disables them.
	RedisAddr string `mapstructure:"REDIS_ADDR"`

	// JWTIssuer is the iss claim (e.g. "auth-core"); validated on every token.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "auth-api"); validated on every token.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// JWTClockSkew is the verification leeway for exp/iat (e.g. "60s").
	JWTClockSkew string `mapstructure:"JWT_CLOCK_SKEW"`
	// JWTSigningAlg selects the key type generated on rotation: RS256 or ES256.
	JWTSigningAlg string `mapstructure:"JWT_SIGNING_ALG"`
	// KeyRotationInterval is how often the server rotates the signing key (e.g. "720h"); 0 disables.
	KeyRotationInterval string `mapstructure:"KEY_ROTATION_INTERVAL"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// RiskBlockThreshold denies a login outright when the risk score reaches it.
	RiskBlockThreshold int `mapstructure:"RISK_BLOCK_THRESHOLD"`
	// RiskStepUpThreshold flags the session for step-up verification.
	RiskStepUpThreshold int `mapstructure:"RISK_STEPUP_THRESHOLD"`
	// RiskIPBlocklist is a comma-separated list of known-bad IPs.
	RiskIPBlocklist string `mapstructure:"RISK_IP_BLOCKLIST"`

	// SweepInterval is how often the worker marks expired sessions revoked (e.g. "5m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`

	// AuditKafkaBrokers is a comma-separated broker list for the audit fallback sink; empty disables it.
	AuditKafkaBrokers string `mapstructure:"AUDIT_KAFKA_BROKERS"`
	// AuditKafkaTopic is the fallback sink topic (default audit-fallback).
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the fallback worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the worker ships fallback audit events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC endpoint for telemetry; empty means no-op providers.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("JWT_ISSUER", "auth-core")
	v.SetDefault("JWT_AUDIENCE", "auth-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("JWT_CLOCK_SKEW", "60s")
	v.SetDefault("JWT_SIGNING_ALG", "RS256")
	v.SetDefault("KEY_ROTATION_INTERVAL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("RISK_BLOCK_THRESHOLD", 80)
	v.SetDefault("RISK_STEPUP_THRESHOLD", 50)
	v.SetDefault("RISK_IP_BLOCKLIST", "")
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("AUDIT_KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "audit-fallback")
	v.SetDefault("KAFKA_GROUP_ID", "audit-fallback-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	switch cfg.JWTSigningAlg {
	case "RS256", "ES256":
	default:
		return nil, fmt.Errorf("config: JWT_SIGNING_ALG must be RS256 or ES256, got %q", cfg.JWTSigningAlg)
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.RiskBlockThreshold <= 0 || cfg.RiskBlockThreshold > 100 {
		return nil, errors.New("config: RISK_BLOCK_THRESHOLD must be in (0,100]")
	}
	if cfg.RiskStepUpThreshold <= 0 || cfg.RiskStepUpThreshold > cfg.RiskBlockThreshold {
		return nil, errors.New("config: RISK_STEPUP_THRESHOLD must be in (0,RISK_BLOCK_THRESHOLD]")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// ClockSkew parses JWTClockSkew as a time.Duration. Returns 60s if unset or invalid.
func (c *Config) ClockSkew() time.Duration {
	d, err := time.ParseDuration(c.JWTClockSkew)
	if err != nil || d < 0 {
		return 60 * time.Second
	}
	return d
}

// RotationInterval parses KeyRotationInterval. Returns 0 (disabled) if unset or invalid.
func (c *Config) RotationInterval() time.Duration {
	d, err := time.ParseDuration(c.KeyRotationInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// SweepEvery parses SweepInterval. Returns 5m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// AuditKafkaBrokersList returns broker addresses from the comma-separated config.
// Used to decide if the fallback sink is enabled (non-empty list) and to create the producer.
func (c *Config) AuditKafkaBrokersList() []string {
	return splitCSV(c.AuditKafkaBrokers)
}

// IPBlocklist returns the configured known-bad IPs.
func (c *Config) IPBlocklist() []string {
	return splitCSV(c.RiskIPBlocklist)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
