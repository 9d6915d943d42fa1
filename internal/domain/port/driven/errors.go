package driven

import "errors"

// Sentinel errors shared by driven adapters. Adapters wrap them with context;
// callers match with errors.Is.
var (
	// ErrRecordNotFound is returned by mutating store operations whose target row does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a uniqueness constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate record")

	// ErrEncryptionKeyInvalid is returned when the configured key cannot be decoded or has the wrong size.
	ErrEncryptionKeyInvalid = errors.New("encryption key invalid: set CVAULT_ENCRYPTION_KEY to base64 of 32 random bytes")

	// ErrEmptyPlaintext is returned by Cipher.Encrypt for empty input.
	ErrEmptyPlaintext = errors.New("plaintext must not be empty")

	// ErrDecrypt is the single opaque failure returned by Cipher.Decrypt.
	ErrDecrypt = errors.New("decryption failed")
)
