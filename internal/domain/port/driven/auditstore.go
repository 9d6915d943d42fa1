package driven

import (
	"context"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

// AuditStore defines the driven port for the append-only audit trail.
// There is deliberately no update or delete method.
type AuditStore interface {
	Append(ctx context.Context, event model.AuditEvent) error

	// GetByID returns nil, nil if no event has that id.
	GetByID(ctx context.Context, id string) (*model.AuditEvent, error)

	// Query returns matching events ordered by (timestamp, id) ascending.
	Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, error)
}
