package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DeviceStore = (*DeviceRepo)(nil)

const deviceColumns = `id, fingerprint, owner_identity, user_agent, browser, os, device_type,
	ip_address, is_trusted, is_blocked, trust_score, first_seen, last_seen, access_count,
	failed_attempts, consecutive_successes, last_failed_at, trusted_by, trusted_at,
	blocked_by, blocked_at, block_reason`

// DeviceRepo is the SQLite implementation of the DeviceStore port interface.
// Each mutation is one statement with RETURNING, so the caller sees the row
// exactly as its own write left it.
type DeviceRepo struct {
	w querier
	r querier
}

// NewDeviceRepo creates a new DeviceRepo backed by the given DB.
func NewDeviceRepo(db *DB) *DeviceRepo {
	return &DeviceRepo{w: db.Writer, r: db.Reader}
}

// Observe registers the device on first sight or refreshes it on repeat sight.
func (r *DeviceRepo) Observe(ctx context.Context, d model.Device, initialScore int, now time.Time) (*model.Device, error) {
	const query = `INSERT INTO devices (
			id, fingerprint, owner_identity, user_agent, browser, os, device_type,
			ip_address, trust_score, first_seen, last_seen, access_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (fingerprint, owner_identity) DO UPDATE SET
			last_seen = excluded.last_seen,
			access_count = devices.access_count + 1,
			ip_address = CASE WHEN excluded.ip_address <> '' THEN excluded.ip_address ELSE devices.ip_address END,
			user_agent = CASE WHEN excluded.user_agent <> '' THEN excluded.user_agent ELSE devices.user_agent END
		RETURNING ` + deviceColumns

	ts := formatTime(now)
	dev, err := scanDevice(r.w.QueryRowContext(ctx, query,
		d.ID, d.Fingerprint, d.OwnerIdentity, d.UserAgent, d.Browser, d.OS, d.DeviceType,
		d.IPAddress, initialScore, ts, ts,
	))
	if err != nil {
		return nil, fmt.Errorf("observe device for %q: %w", d.OwnerIdentity, err)
	}
	return dev, nil
}

// GetByID retrieves a device. Returns nil, nil if it does not exist.
func (r *DeviceRepo) GetByID(ctx context.Context, id string) (*model.Device, error) {
	const query = `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	dev, err := scanDevice(r.r.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device %q: %w", id, err)
	}
	return dev, nil
}

// ListByOwner returns an owner's devices, most recently seen first.
func (r *DeviceRepo) ListByOwner(ctx context.Context, owner string) ([]model.Device, error) {
	const query = `SELECT ` + deviceColumns + ` FROM devices WHERE owner_identity = ? ORDER BY last_seen DESC, id`

	rows, err := r.r.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("list devices for %q: %w", owner, err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	return devices, nil
}

// RecordSuccess raises the score by bonus, capped at 100, and clears failures.
func (r *DeviceRepo) RecordSuccess(ctx context.Context, id string, bonus int, now time.Time) (*model.Device, error) {
	const query = `UPDATE devices SET
			trust_score = MIN(100, trust_score + ?),
			consecutive_successes = consecutive_successes + 1,
			failed_attempts = 0,
			last_seen = ?
		WHERE id = ?
		RETURNING ` + deviceColumns

	return r.mutate(ctx, "record success for device "+id, query, bonus, formatTime(now), id)
}

// RecordFailure lowers the score by penalty, floored at 0, and resets the success streak.
func (r *DeviceRepo) RecordFailure(ctx context.Context, id string, penalty int, now time.Time) (*model.Device, error) {
	const query = `UPDATE devices SET
			trust_score = MAX(0, trust_score - ?),
			failed_attempts = failed_attempts + 1,
			consecutive_successes = 0,
			last_failed_at = ?
		WHERE id = ?
		RETURNING ` + deviceColumns

	return r.mutate(ctx, "record failure for device "+id, query, penalty, formatTime(now), id)
}

// SetTrusted marks the device trusted at score and clears any block.
func (r *DeviceRepo) SetTrusted(ctx context.Context, id, actor string, score int, now time.Time) (*model.Device, error) {
	const query = `UPDATE devices SET
			is_trusted = 1, trust_score = ?, trusted_by = ?, trusted_at = ?,
			is_blocked = 0, blocked_by = '', blocked_at = NULL, block_reason = ''
		WHERE id = ?
		RETURNING ` + deviceColumns

	return r.mutate(ctx, "trust device "+id, query, score, actor, formatTime(now), id)
}

// SetBlocked blocks the device, zeroing its score and revoking trust.
func (r *DeviceRepo) SetBlocked(ctx context.Context, id, actor, reason string, now time.Time) (*model.Device, error) {
	const query = `UPDATE devices SET
			is_blocked = 1, is_trusted = 0, trust_score = 0,
			blocked_by = ?, blocked_at = ?, block_reason = ?
		WHERE id = ?
		RETURNING ` + deviceColumns

	return r.mutate(ctx, "block device "+id, query, actor, formatTime(now), reason, id)
}

// ClearBlock unblocks the device and resets its score.
func (r *DeviceRepo) ClearBlock(ctx context.Context, id string, score int) (*model.Device, error) {
	const query = `UPDATE devices SET
			is_blocked = 0, trust_score = ?, blocked_by = '', blocked_at = NULL, block_reason = ''
		WHERE id = ?
		RETURNING ` + deviceColumns

	return r.mutate(ctx, "unblock device "+id, query, score, id)
}

func (r *DeviceRepo) mutate(ctx context.Context, op, query string, args ...any) (*model.Device, error) {
	dev, err := scanDevice(r.w.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, driven.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return dev, nil
}

func scanDevice(s scanner) (*model.Device, error) {
	var (
		d                                model.Device
		firstSeen, lastSeen              string
		isTrusted, isBlocked             int
		lastFailed, trustedAt, blockedAt sql.NullString
	)

	err := s.Scan(
		&d.ID, &d.Fingerprint, &d.OwnerIdentity, &d.UserAgent, &d.Browser, &d.OS, &d.DeviceType,
		&d.IPAddress, &isTrusted, &isBlocked, &d.TrustScore, &firstSeen, &lastSeen, &d.AccessCount,
		&d.FailedAttempts, &d.ConsecutiveSuccesses, &lastFailed, &d.TrustedBy, &trustedAt,
		&d.BlockedBy, &blockedAt, &d.BlockReason,
	)
	if err != nil {
		return nil, err
	}

	d.IsTrusted = isTrusted != 0
	d.IsBlocked = isBlocked != 0

	if d.FirstSeen, err = parseTime(firstSeen); err != nil {
		return nil, fmt.Errorf("parse first_seen: %w", err)
	}
	if d.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	if d.LastFailedAt, err = parseNullTime(lastFailed); err != nil {
		return nil, fmt.Errorf("parse last_failed_at: %w", err)
	}
	if d.TrustedAt, err = parseNullTime(trustedAt); err != nil {
		return nil, fmt.Errorf("parse trusted_at: %w", err)
	}
	if d.BlockedAt, err = parseNullTime(blockedAt); err != nil {
		return nil, fmt.Errorf("parse blocked_at: %w", err)
	}

	return &d, nil
}
