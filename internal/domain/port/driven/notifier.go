package driven

import (
	"context"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

// Notifier delivers a notification to an external channel.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}
