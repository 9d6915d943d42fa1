package kms

import (
	"context"
	"errors"
	"fmt"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"

	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// formatV1 prefixes every ciphertext: one version byte followed by a
// protobuf-encoded wrapping.BlobInfo (nonce, sealed bytes, key id).
const formatV1 byte = 0x01

// selfTestPlaintext is round-tripped once at construction.
const selfTestPlaintext = "contractor-vault self test"

// Compile-time interface satisfaction check.
var _ driven.Cipher = (*Boundary)(nil)

// Boundary implements driven.Cipher on top of a go-kms-wrapping wrapper.
type Boundary struct {
	wrapper wrapping.Wrapper
	logger  zerolog.Logger
}

// NewBoundary wraps w and proves it works with an encrypt/decrypt round trip.
func NewBoundary(ctx context.Context, w wrapping.Wrapper, logger zerolog.Logger) (*Boundary, error) {
	if w == nil {
		return nil, errors.New("kms wrapper is nil")
	}

	b := &Boundary{wrapper: w, logger: logger.With().Str("component", "kms").Logger()}
	if err := b.SelfTest(ctx); err != nil {
		return nil, err
	}

	keyID, _ := w.KeyId(ctx)
	b.logger.Info().Str("key_id", keyID).Msg("encryption boundary ready")
	return b, nil
}

// SelfTest encrypts and decrypts a fixed value.
func (b *Boundary) SelfTest(ctx context.Context) error {
	ct, err := b.Encrypt(ctx, selfTestPlaintext)
	if err != nil {
		return fmt.Errorf("kms self test encrypt: %w", err)
	}
	pt, err := b.Decrypt(ctx, ct)
	if err != nil {
		return fmt.Errorf("kms self test decrypt: %w", err)
	}
	if pt != selfTestPlaintext {
		return errors.New("kms self test: round trip mismatch")
	}
	return nil
}

// Encrypt seals plaintext under a fresh nonce.
func (b *Boundary) Encrypt(ctx context.Context, plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, driven.ErrEmptyPlaintext
	}

	blob, err := b.wrapper.Encrypt(ctx, []byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("wrap plaintext: %w", err)
	}

	encoded, err := proto.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("encode blob: %w", err)
	}

	out := make([]byte, 0, len(encoded)+1)
	out = append(out, formatV1)
	return append(out, encoded...), nil
}

// Decrypt opens ciphertext produced by Encrypt. Every failure, whether a bad
// version byte, an undecodable blob, a wrong key or a failed authentication
// tag, returns driven.ErrDecrypt and nothing else.
func (b *Boundary) Decrypt(ctx context.Context, ciphertext []byte) (string, error) {
	if len(ciphertext) < 2 || ciphertext[0] != formatV1 {
		return "", driven.ErrDecrypt
	}

	var blob wrapping.BlobInfo
	if err := proto.Unmarshal(ciphertext[1:], &blob); err != nil {
		return "", driven.ErrDecrypt
	}

	pt, err := b.wrapper.Decrypt(ctx, &blob)
	if err != nil {
		b.logger.Debug().Msg("ciphertext failed authentication")
		return "", driven.ErrDecrypt
	}
	return string(pt), nil
}

// Rekey re-encrypts ciphertext from one cipher to another. It has no side
// effects: on any failure it returns an error and the caller keeps the
// original ciphertext.
func Rekey(ctx context.Context, from, to driven.Cipher, ciphertext []byte) ([]byte, error) {
	pt, err := from.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("rekey decrypt: %w", err)
	}
	out, err := to.Encrypt(ctx, pt)
	if err != nil {
		return nil, fmt.Errorf("rekey encrypt: %w", err)
	}
	return out, nil
}
