package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="
	testSecret = "0123456789abcdef0123456789abcdef"
)

// allConfigKeys lists every CVAULT_ env var that Load() reads.
var allConfigKeys = []string{
	"CVAULT_LISTEN_ADDR",
	"CVAULT_DB_PATH",
	"CVAULT_KMS_PROVIDER",
	"CVAULT_KMS_KEY_ID",
	"CVAULT_ENCRYPTION_KEY",
	"CVAULT_TRANSIT_ADDRESS",
	"CVAULT_TRANSIT_TOKEN",
	"CVAULT_TRANSIT_KEY_NAME",
	"CVAULT_TRANSIT_MOUNT_PATH",
	"CVAULT_JWT_SECRET",
	"CVAULT_JWT_ISSUER",
	"CVAULT_MAX_TOKEN_DURATION",
	"CVAULT_DEFAULT_TOKEN_DURATION",
	"CVAULT_WEBHOOK_URL",
	"CVAULT_NOTIFY_QUEUE_SIZE",
	"CVAULT_GENERATE_RATE_PER_MINUTE",
	"CVAULT_CLAIM_RATE_PER_MINUTE",
	"CVAULT_PURGE_INTERVAL",
	"CVAULT_PURGE_RETENTION",
	"CVAULT_LOG_LEVEL",
	"CVAULT_LOG_JSON",
	"CVAULT_DRAIN_SECONDS",
}

// isolateConfigEnv saves and unsets all CVAULT_ env vars so tests don't
// inherit values from the host environment. t.Cleanup restores them.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		key := key
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CVAULT_ENCRYPTION_KEY", testKey)
	t.Setenv("CVAULT_JWT_SECRET", testSecret)
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)
	setRequired(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "contractorvault.db", cfg.DBPath)
	assert.Equal(t, "aead", cfg.KMSProvider)
	assert.Equal(t, "primary", cfg.KMSKeyID)
	assert.Equal(t, "contractor-vault", cfg.JWTIssuer)
	assert.Equal(t, 8*time.Hour, cfg.MaxTokenDuration)
	assert.Equal(t, time.Hour, cfg.DefaultTokenDuration)
	assert.Equal(t, 64, cfg.NotifyQueueSize)
	assert.Equal(t, 10, cfg.GenerateRatePerMinute)
	assert.Equal(t, 30, cfg.ClaimRatePerMinute)
	assert.Zero(t, cfg.PurgeInterval)
	assert.Equal(t, 90*24*time.Hour, cfg.PurgeRetention)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogJSON)
	assert.Equal(t, 10*time.Second, cfg.DrainTimeout())
	assert.False(t, cfg.HasWebhook())
}

func TestLoad_Overrides(t *testing.T) {
	isolateConfigEnv(t)
	setRequired(t)
	t.Setenv("CVAULT_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("CVAULT_DB_PATH", "/data/vault.db")
	t.Setenv("CVAULT_MAX_TOKEN_DURATION", "12h")
	t.Setenv("CVAULT_DEFAULT_TOKEN_DURATION", "30m")
	t.Setenv("CVAULT_WEBHOOK_URL", "https://discord.test/hook")
	t.Setenv("CVAULT_PURGE_INTERVAL", "1h")
	t.Setenv("CVAULT_LOG_JSON", "true")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/data/vault.db", cfg.DBPath)
	assert.Equal(t, 12*time.Hour, cfg.MaxTokenDuration)
	assert.Equal(t, 30*time.Minute, cfg.DefaultTokenDuration)
	assert.Equal(t, time.Hour, cfg.PurgeInterval)
	assert.True(t, cfg.LogJSON)
	assert.True(t, cfg.HasWebhook())
}

func TestLoad_Transit(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("CVAULT_JWT_SECRET", testSecret)
	t.Setenv("CVAULT_KMS_PROVIDER", "Transit")
	t.Setenv("CVAULT_TRANSIT_ADDRESS", "https://vault.internal:8200")
	t.Setenv("CVAULT_TRANSIT_KEY_NAME", "contractor-vault")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "transit", cfg.KMSProvider)
	assert.Empty(t, cfg.EncryptionKey)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing encryption key",
			env:     map[string]string{"CVAULT_JWT_SECRET": testSecret},
			wantErr: "CVAULT_ENCRYPTION_KEY",
		},
		{
			name:    "missing jwt secret",
			env:     map[string]string{"CVAULT_ENCRYPTION_KEY": testKey},
			wantErr: "CVAULT_JWT_SECRET",
		},
		{
			name:    "short jwt secret",
			env:     map[string]string{"CVAULT_ENCRYPTION_KEY": testKey, "CVAULT_JWT_SECRET": "short"},
			wantErr: "at least 32",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"CVAULT_KMS_PROVIDER": "hsm", "CVAULT_JWT_SECRET": testSecret},
			wantErr: "aead or transit",
		},
		{
			name:    "transit without address",
			env:     map[string]string{"CVAULT_KMS_PROVIDER": "transit", "CVAULT_TRANSIT_KEY_NAME": "k", "CVAULT_JWT_SECRET": testSecret},
			wantErr: "CVAULT_TRANSIT_ADDRESS",
		},
		{
			name:    "default above max",
			env:     map[string]string{"CVAULT_ENCRYPTION_KEY": testKey, "CVAULT_JWT_SECRET": testSecret, "CVAULT_DEFAULT_TOKEN_DURATION": "9h"},
			wantErr: "CVAULT_DEFAULT_TOKEN_DURATION",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"CVAULT_ENCRYPTION_KEY": testKey, "CVAULT_JWT_SECRET": testSecret, "CVAULT_MAX_TOKEN_DURATION": "forever"},
			wantErr: "MAX_TOKEN_DURATION",
		},
		{
			name:    "zero queue",
			env:     map[string]string{"CVAULT_ENCRYPTION_KEY": testKey, "CVAULT_JWT_SECRET": testSecret, "CVAULT_NOTIFY_QUEUE_SIZE": "0"},
			wantErr: "CVAULT_NOTIFY_QUEUE_SIZE",
		},
		{
			name:    "negative purge interval",
			env:     map[string]string{"CVAULT_ENCRYPTION_KEY": testKey, "CVAULT_JWT_SECRET": testSecret, "CVAULT_PURGE_INTERVAL": "-1h"},
			wantErr: "CVAULT_PURGE_INTERVAL",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			isolateConfigEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
