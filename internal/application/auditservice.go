package application

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
	"github.com/ericfisherdev/contractorvault/internal/metrics"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

var csvHeader = []string{
	"id", "timestamp", "actor", "action", "target_resource", "ip_address", "description", "metadata",
}

// AuditService owns the append-only trail. Events are written either on their
// own or inside a caller's transaction through record, and are mirrored to
// the log and metrics once durable.
type AuditService struct {
	store   driven.AuditStore
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *metrics.Recorder
}

// NewAuditService creates a new AuditService.
func NewAuditService(store driven.AuditStore, clk clock.Clock, logger zerolog.Logger, rec *metrics.Recorder) *AuditService {
	return &AuditService{
		store:   store,
		clock:   clk,
		logger:  logger.With().Str("component", "audit").Logger(),
		metrics: rec,
	}
}

// Append persists a single event outside any transaction and returns its id.
func (s *AuditService) Append(ctx context.Context, e model.AuditEvent) (string, error) {
	stored, err := s.record(ctx, s.store, e)
	if err != nil {
		return "", err
	}
	s.published(stored)
	return stored.ID, nil
}

// record stamps e with an id and timestamp and writes it through store, which
// may be bound to a transaction. Callers must call published after commit.
func (s *AuditService) record(ctx context.Context, store driven.AuditStore, e model.AuditEvent) (model.AuditEvent, error) {
	if !e.Action.Valid() {
		return model.AuditEvent{}, model.InvalidInput(model.ReasonInvalidInput, "unknown audit action %q", e.Action)
	}
	if e.Actor == "" {
		return model.AuditEvent{}, model.InvalidInput(model.ReasonInvalidInput, "audit actor is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.AuditEvent{}, model.Unavailable("generate audit id", err)
	}
	e.ID = id.String()
	e.Timestamp = s.clock.Now().UTC()

	if err := store.Append(ctx, e); err != nil {
		return model.AuditEvent{}, storeFailure("append audit event", err)
	}
	return e, nil
}

// published mirrors committed events to the log and metrics.
func (s *AuditService) published(events ...model.AuditEvent) {
	for _, e := range events {
		ev := s.logger.Info()
		if e.Action == model.ActionRevokeAccess || e.Action == model.ActionSecurityAlert {
			ev = s.logger.Warn()
		}
		ev.Str("audit_id", e.ID).
			Str("action", string(e.Action)).
			Str("actor", e.Actor).
			Str("target", e.TargetResource).
			Str("ip", e.IPAddress).
			Msg("audit event")
		s.metrics.AuditAppended(string(e.Action))
	}
}

// Query returns events matching filter ordered by (timestamp, id).
func (s *AuditService) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, error) {
	if filter.Action != "" && !filter.Action.Valid() {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "unknown audit action %q", filter.Action)
	}
	if filter.Offset < 0 {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "offset must not be negative")
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "from must be before to")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultAuditLimit
	case filter.Limit > maxAuditLimit:
		filter.Limit = maxAuditLimit
	}

	events, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, storeFailure("query audit events", err)
	}
	return events, nil
}

// Get returns one event by id.
func (s *AuditService) Get(ctx context.Context, id string) (*model.AuditEvent, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, storeFailure("get audit event", err)
	}
	if e == nil {
		return nil, model.NotFound("audit event", id)
	}
	return e, nil
}

// ExportCSV renders events as CSV in the order given. The metadata column is
// the JSON encoding of each event's extra data.
func ExportCSV(events []model.AuditEvent) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)

	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}

	for _, e := range events {
		meta := "{}"
		if len(e.ExtraData) > 0 {
			raw, err := json.Marshal(e.ExtraData)
			if err != nil {
				return "", fmt.Errorf("encode metadata for event %s: %w", e.ID, err)
			}
			meta = string(raw)
		}

		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Actor,
			string(e.Action),
			e.TargetResource,
			e.IPAddress,
			e.Description,
			meta,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row for event %s: %w", e.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return b.String(), nil
}
