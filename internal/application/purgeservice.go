package application

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// PurgeService periodically deletes token rows that expired long ago. Expiry
// itself is always evaluated at claim time, so the purge is housekeeping only.
type PurgeService struct {
	tx        driven.Transactor
	audit     *AuditService
	clock     clock.Clock
	logger    zerolog.Logger
	interval  time.Duration
	retention time.Duration
}

// NewPurgeService creates a new PurgeService. An interval of zero disables
// the background loop; PurgeOnce still works.
func NewPurgeService(
	tx driven.Transactor,
	audit *AuditService,
	clk clock.Clock,
	logger zerolog.Logger,
	interval, retention time.Duration,
) *PurgeService {
	return &PurgeService{
		tx:        tx,
		audit:     audit,
		clock:     clk,
		logger:    logger.With().Str("component", "purge").Logger(),
		interval:  interval,
		retention: retention,
	}
}

// Start runs PurgeOnce on the configured interval until ctx is canceled.
func (s *PurgeService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info().Msg("token purge disabled")
		return
	}

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("purge service stopped")
			return
		case <-ticker.C:
			if _, err := s.PurgeOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("purge cycle failed")
			}
		}
	}
}

// PurgeOnce deletes tokens that expired before now minus the retention
// window and records TOKENS_PURGED when anything was removed.
func (s *PurgeService) PurgeOnce(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.retention).UTC()

	var (
		purged int64
		event  model.AuditEvent
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, st driven.Stores) error {
		var err error
		purged, err = st.Tokens.PurgeExpired(ctx, cutoff)
		if err != nil || purged == 0 {
			return err
		}
		event, err = s.audit.record(ctx, st.Audit, model.AuditEvent{
			Actor:          actorPurge,
			Action:         model.ActionTokensPurged,
			TargetResource: "access_tokens",
			ExtraData: map[string]any{
				"purged_count": purged,
				"cutoff":       cutoff.Format(time.RFC3339),
			},
		})
		return err
	})
	if err != nil {
		return 0, storeFailure("purge expired tokens", err)
	}

	if purged > 0 {
		s.audit.published(event)
		s.logger.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("expired tokens purged")
	}
	return purged, nil
}
