package driven

import "context"

// Cipher is the encryption boundary: the only component that holds key
// material. Encrypt rejects empty input with ErrEmptyPlaintext. Decrypt
// reports every failure cause as ErrDecrypt.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) (string, error)
}
