// Package kms is the vault's encryption boundary. It is the only package that
// holds key material; everything else sees ciphertext or, transiently at claim
// time, plaintext handed back by Decrypt.
package kms

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	kmsaead "github.com/hashicorp/go-kms-wrapping/v2/aead"
	transit "github.com/hashicorp/go-kms-wrapping/wrappers/transit/v2"

	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// ProviderType selects the key-management backend.
type ProviderType string

const (
	// ProviderAEAD keeps a 32-byte AES-256-GCM key in process memory.
	ProviderAEAD ProviderType = "aead"
	// ProviderTransit delegates encryption to a Vault Transit key.
	ProviderTransit ProviderType = "transit"
)

// keySize is the AES-256 key length required by the aead provider.
const keySize = 32

// Config describes how to build the key wrapper.
type Config struct {
	Provider ProviderType
	KeyID    string

	// Key is the base64 encoded AES-256 key for ProviderAEAD.
	Key string

	TransitAddress   string
	TransitToken     string
	TransitKeyName   string
	TransitMountPath string
}

// NewWrapper builds the configured wrapping.Wrapper. It fails on any missing
// or malformed key configuration so that startup aborts instead of deferring
// the error to the first encrypt.
func NewWrapper(ctx context.Context, cfg Config) (wrapping.Wrapper, error) {
	switch cfg.Provider {
	case ProviderAEAD, "":
		return newAEADWrapper(ctx, cfg)
	case ProviderTransit:
		return newTransitWrapper(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported kms provider %q", cfg.Provider)
	}
}

func newAEADWrapper(ctx context.Context, cfg Config) (wrapping.Wrapper, error) {
	key, err := DecodeKey(cfg.Key)
	if err != nil {
		return nil, err
	}

	w := kmsaead.NewWrapper()
	opts := []wrapping.Option{kmsaead.WithKey(key)}
	if cfg.KeyID != "" {
		opts = append(opts, wrapping.WithKeyId(cfg.KeyID))
	}
	if _, err := w.SetConfig(ctx, opts...); err != nil {
		return nil, fmt.Errorf("configure aead wrapper: %w", err)
	}
	return w, nil
}

func newTransitWrapper(ctx context.Context, cfg Config) (wrapping.Wrapper, error) {
	if cfg.TransitAddress == "" || cfg.TransitKeyName == "" {
		return nil, fmt.Errorf("transit provider requires an address and a key name")
	}

	configMap := map[string]string{
		"address":  cfg.TransitAddress,
		"key_name": cfg.TransitKeyName,
	}
	if cfg.TransitMountPath != "" {
		configMap["mount_path"] = cfg.TransitMountPath
	}
	if cfg.TransitToken != "" {
		configMap["token"] = cfg.TransitToken
	}

	w := transit.NewWrapper()
	if _, err := w.SetConfig(ctx, wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("configure transit wrapper: %w", err)
	}
	return w, nil
}

// DecodeKey parses a base64 AES-256 key. Both standard and URL-safe alphabets
// are accepted.
func DecodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("empty key: %w", driven.ErrEncryptionKeyInvalid)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", driven.ErrEncryptionKeyInvalid)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("key is %d bytes, want %d: %w", len(key), keySize, driven.ErrEncryptionKeyInvalid)
	}
	return key, nil
}

// GenerateKey returns a fresh random AES-256 key, base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
