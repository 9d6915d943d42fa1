package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditStore = (*AuditRepo)(nil)

const auditColumns = `id, timestamp, actor, action, target_resource, ip_address, extra_data, description`

// AuditRepo is the SQLite implementation of the AuditStore port interface.
// The table carries triggers that abort any UPDATE or DELETE.
type AuditRepo struct {
	w querier
	r querier
}

// NewAuditRepo creates a new AuditRepo backed by the given DB.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{w: db.Writer, r: db.Reader}
}

// Append writes one event.
func (r *AuditRepo) Append(ctx context.Context, e model.AuditEvent) error {
	const query = `INSERT INTO audit_events (` + auditColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	extra, err := json.Marshal(nonNilMap(e.ExtraData))
	if err != nil {
		return fmt.Errorf("marshal extra_data for audit event %q: %w", e.ID, err)
	}

	_, err = r.w.ExecContext(ctx, query,
		e.ID, formatTime(e.Timestamp), e.Actor, string(e.Action), e.TargetResource,
		e.IPAddress, string(extra), e.Description,
	)
	if err != nil {
		return fmt.Errorf("append audit event %s: %w", e.Action, err)
	}
	return nil
}

// GetByID retrieves one event. Returns nil, nil if it does not exist.
func (r *AuditRepo) GetByID(ctx context.Context, id string) (*model.AuditEvent, error) {
	const query = `SELECT ` + auditColumns + ` FROM audit_events WHERE id = ?`

	e, err := scanAuditEvent(r.r.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audit event %q: %w", id, err)
	}
	return e, nil
}

// Query returns events matching filter in (timestamp, id) order.
func (r *AuditRepo) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if filter.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.TargetResource != "" {
		where = append(where, "target_resource = ?")
		args = append(args, filter.TargetResource)
	}
	if filter.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "timestamp < ?")
		args = append(args, formatTime(*filter.To))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}

func scanAuditEvent(s scanner) (*model.AuditEvent, error) {
	var (
		e                 model.AuditEvent
		ts, action, extra string
	)

	err := s.Scan(&e.ID, &ts, &e.Actor, &action, &e.TargetResource, &e.IPAddress, &extra, &e.Description)
	if err != nil {
		return nil, err
	}

	e.Action = model.AuditAction(action)
	if e.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(extra), &e.ExtraData); err != nil {
		return nil, fmt.Errorf("unmarshal extra_data: %w", err)
	}

	return &e, nil
}
