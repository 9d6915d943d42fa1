package application

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
	"github.com/ericfisherdev/contractorvault/internal/metrics"
)

const (
	deliveryTimeout = 15 * time.Second
	drainTimeout    = 5 * time.Second
)

// Dispatcher decouples notification delivery from the request path. Publish
// never blocks; when the queue is full the notification is dropped.
type Dispatcher struct {
	notifier driven.Notifier
	queue    chan model.Notification
	metrics  *metrics.Recorder
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher with a queue of the given size.
func NewDispatcher(notifier driven.Notifier, size int, rec *metrics.Recorder, logger zerolog.Logger) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	return &Dispatcher{
		notifier: notifier,
		queue:    make(chan model.Notification, size),
		metrics:  rec,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Publish enqueues n for delivery.
func (d *Dispatcher) Publish(n model.Notification) {
	select {
	case d.queue <- n:
	default:
		d.metrics.NotificationDropped()
		d.logger.Warn().Str("kind", string(n.Kind)).Msg("notification queue full, dropping")
	}
}

// Start delivers queued notifications until ctx is canceled, then drains what
// is left with a short deadline. Start blocks.
func (d *Dispatcher) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			d.logger.Info().Msg("dispatcher stopped")
			return
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	for {
		select {
		case n := <-d.queue:
			d.deliver(ctx, n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n model.Notification) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, n); err != nil {
		d.metrics.NotificationDropped()
		d.logger.Warn().Err(err).Str("kind", string(n.Kind)).Msg("notification delivery failed")
	}
}
