// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "CVAULT"

// MinJWTSecretLength is the shortest accepted grant signing secret.
const MinJWTSecretLength = 32

// Config holds the application configuration loaded from CVAULT_ variables.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8080"`
	DBPath     string `envconfig:"DB_PATH" default:"contractorvault.db"`

	KMSProvider   string `envconfig:"KMS_PROVIDER" default:"aead"`
	KMSKeyID      string `envconfig:"KMS_KEY_ID" default:"primary"`
	EncryptionKey string `envconfig:"ENCRYPTION_KEY"`

	TransitAddress   string `envconfig:"TRANSIT_ADDRESS"`
	TransitToken     string `envconfig:"TRANSIT_TOKEN"`
	TransitKeyName   string `envconfig:"TRANSIT_KEY_NAME"`
	TransitMountPath string `envconfig:"TRANSIT_MOUNT_PATH"`

	JWTSecret string `envconfig:"JWT_SECRET"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"contractor-vault"`

	MaxTokenDuration     time.Duration `envconfig:"MAX_TOKEN_DURATION" default:"8h"`
	DefaultTokenDuration time.Duration `envconfig:"DEFAULT_TOKEN_DURATION" default:"1h"`

	WebhookURL      string `envconfig:"WEBHOOK_URL"`
	NotifyQueueSize int    `envconfig:"NOTIFY_QUEUE_SIZE" default:"64"`

	GenerateRatePerMinute int `envconfig:"GENERATE_RATE_PER_MINUTE" default:"10"`
	ClaimRatePerMinute    int `envconfig:"CLAIM_RATE_PER_MINUTE" default:"30"`

	PurgeInterval  time.Duration `envconfig:"PURGE_INTERVAL" default:"0"`
	PurgeRetention time.Duration `envconfig:"PURGE_RETENTION" default:"2160h"`

	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON      bool   `envconfig:"LOG_JSON" default:"false"`
	DrainSeconds int    `envconfig:"DRAIN_SECONDS" default:"10"`
}

// HasWebhook reports whether notifications should be posted to a webhook.
func (c *Config) HasWebhook() bool {
	return c.WebhookURL != ""
}

// DrainTimeout is how long shutdown waits for in-flight requests.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainSeconds) * time.Second
}

// Load reads configuration from the environment and returns a validated
// Config. CVAULT_JWT_SECRET is always required; CVAULT_ENCRYPTION_KEY is
// required for the aead provider and the CVAULT_TRANSIT_* variables for the
// transit provider. Decoding the key itself is left to the kms package.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.KMSProvider = strings.ToLower(strings.TrimSpace(cfg.KMSProvider))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.KMSProvider {
	case "aead":
		if c.EncryptionKey == "" {
			return fmt.Errorf("%s_ENCRYPTION_KEY is required for the aead provider", Prefix)
		}
	case "transit":
		if c.TransitAddress == "" || c.TransitKeyName == "" {
			return fmt.Errorf("%s_TRANSIT_ADDRESS and %s_TRANSIT_KEY_NAME are required for the transit provider", Prefix, Prefix)
		}
	default:
		return fmt.Errorf("%s_KMS_PROVIDER must be aead or transit, got %q", Prefix, c.KMSProvider)
	}

	if len(c.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("%s_JWT_SECRET must be at least %d characters", Prefix, MinJWTSecretLength)
	}

	if c.MaxTokenDuration <= 0 {
		return fmt.Errorf("%s_MAX_TOKEN_DURATION must be positive, got %s", Prefix, c.MaxTokenDuration)
	}
	if c.DefaultTokenDuration <= 0 || c.DefaultTokenDuration > c.MaxTokenDuration {
		return fmt.Errorf("%s_DEFAULT_TOKEN_DURATION must be positive and at most %s, got %s",
			Prefix, c.MaxTokenDuration, c.DefaultTokenDuration)
	}

	if c.NotifyQueueSize <= 0 {
		return fmt.Errorf("%s_NOTIFY_QUEUE_SIZE must be positive", Prefix)
	}
	if c.GenerateRatePerMinute <= 0 || c.ClaimRatePerMinute <= 0 {
		return fmt.Errorf("%s rate limits must be positive", Prefix)
	}
	if c.PurgeInterval < 0 {
		return fmt.Errorf("%s_PURGE_INTERVAL must not be negative", Prefix)
	}
	if c.PurgeInterval > 0 && c.PurgeRetention <= 0 {
		return fmt.Errorf("%s_PURGE_RETENTION must be positive when purging is enabled", Prefix)
	}
	if c.DrainSeconds < 0 {
		return fmt.Errorf("%s_DRAIN_SECONDS must not be negative", Prefix)
	}
	return nil
}
