package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

// SecretStore defines the driven port for secret persistence. Values cross
// this port as ciphertext only.
type SecretStore interface {
	Create(ctx context.Context, secret model.Secret) error

	// GetByID returns nil, nil if the secret does not exist.
	GetByID(ctx context.Context, id string) (*model.Secret, error)

	List(ctx context.Context, includeInactive bool) ([]model.Secret, error)

	// UpdateValue replaces the ciphertext of an active secret and stamps last_rotated_at.
	UpdateValue(ctx context.Context, id string, ciphertext []byte, now time.Time) error

	// ReplaceCiphertext swaps old for next only if the stored ciphertext still equals old.
	ReplaceCiphertext(ctx context.Context, id string, old, next []byte, now time.Time) (bool, error)

	Deactivate(ctx context.Context, id string, now time.Time) error

	// RecordAccess bumps access_count and last_accessed_at after a successful claim.
	RecordAccess(ctx context.Context, id string, now time.Time) error
}

// SessionStore defines the driven port for stored browser sessions.
type SessionStore interface {
	Create(ctx context.Context, session model.StoredSession) error

	// GetByID returns nil, nil if the session does not exist.
	GetByID(ctx context.Context, id string) (*model.StoredSession, error)

	List(ctx context.Context, includeInactive bool) ([]model.StoredSession, error)
	ReplaceCiphertext(ctx context.Context, id string, old, next []byte, now time.Time) (bool, error)
	Deactivate(ctx context.Context, id string, now time.Time) error
}
