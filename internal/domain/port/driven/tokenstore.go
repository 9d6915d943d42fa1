package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

// TokenStore defines the driven port for access token persistence. Every state
// transition is a conditional update so that concurrent engine instances
// racing on one row produce exactly one winner.
type TokenStore interface {
	Create(ctx context.Context, token model.AccessToken) error

	// GetByToken returns nil, nil when no token has that string.
	GetByToken(ctx context.Context, token string) (*model.AccessToken, error)

	// GetByID returns nil, nil when no token has that id.
	GetByID(ctx context.Context, id string) (*model.AccessToken, error)

	List(ctx context.Context, filter model.TokenFilter, now time.Time) ([]model.AccessToken, error)

	// MarkUsed increments use_count and stamps last_used_at only if the token is
	// still unrevoked and unexpired at now. One-time tokens are revoked in the
	// same statement. It returns false when the condition matched no row.
	MarkUsed(ctx context.Context, id string, now time.Time) (bool, error)

	// Revoke revokes an unrevoked token. It returns false when the token was
	// already revoked or does not exist.
	Revoke(ctx context.Context, id, actor, reason string, now time.Time) (bool, error)

	// RevokeActiveForContractor revokes every unrevoked, unexpired token of the
	// identity in one statement and returns what it revoked.
	RevokeActiveForContractor(ctx context.Context, identity, actor, reason string, now time.Time) ([]model.RevokedToken, error)

	// PurgeExpired deletes tokens whose expiry is before the cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
