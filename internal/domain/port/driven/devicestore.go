package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

// DeviceStore defines the driven port for device trust persistence. Score
// adjustments are single statements so concurrent updates are never lost.
type DeviceStore interface {
	// Observe inserts the device at initialScore or, if (fingerprint, owner)
	// exists, bumps last_seen, access_count and ip_address. The returned
	// device reflects the row after the write.
	Observe(ctx context.Context, device model.Device, initialScore int, now time.Time) (*model.Device, error)

	// GetByID returns nil, nil if the device does not exist.
	GetByID(ctx context.Context, id string) (*model.Device, error)

	ListByOwner(ctx context.Context, owner string) ([]model.Device, error)

	RecordSuccess(ctx context.Context, id string, bonus int, now time.Time) (*model.Device, error)
	RecordFailure(ctx context.Context, id string, penalty int, now time.Time) (*model.Device, error)

	SetTrusted(ctx context.Context, id, actor string, score int, now time.Time) (*model.Device, error)
	SetBlocked(ctx context.Context, id, actor, reason string, now time.Time) (*model.Device, error)
	ClearBlock(ctx context.Context, id string, score int) (*model.Device, error)
}
