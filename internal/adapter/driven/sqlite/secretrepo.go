package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecretStore = (*SecretRepo)(nil)

const secretColumns = `id, name, type, encrypted_value, metadata, created_by, created_at, updated_at,
	is_active, expires_at, last_rotated_at, rotation_reminder_days, access_count, last_accessed_at`

// SecretRepo is the SQLite implementation of the SecretStore port interface.
// It stores ciphertext as produced by the encryption boundary and never sees plaintext.
type SecretRepo struct {
	w querier
	r querier
}

// NewSecretRepo creates a new SecretRepo backed by the given DB.
func NewSecretRepo(db *DB) *SecretRepo {
	return &SecretRepo{w: db.Writer, r: db.Reader}
}

// Create inserts a new secret.
func (r *SecretRepo) Create(ctx context.Context, s model.Secret) error {
	const query = `INSERT INTO secrets (` + secretColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	metadata, err := json.Marshal(nonNilMap(s.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata for secret %q: %w", s.ID, err)
	}

	var reminder sql.NullInt64
	if s.RotationReminderDays != nil {
		reminder = sql.NullInt64{Int64: int64(*s.RotationReminderDays), Valid: true}
	}

	_, err = r.w.ExecContext(ctx, query,
		s.ID, s.Name, string(s.Type), s.EncryptedValue, string(metadata), s.CreatedBy,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt), boolToInt(s.IsActive),
		formatTimePtr(s.ExpiresAt), formatTimePtr(s.LastRotatedAt), reminder,
		s.AccessCount, formatTimePtr(s.LastAccessedAt),
	)
	if err != nil {
		return fmt.Errorf("create secret %q: %w", s.ID, err)
	}
	return nil
}

// GetByID retrieves a secret. Returns nil, nil if it does not exist.
func (r *SecretRepo) GetByID(ctx context.Context, id string) (*model.Secret, error) {
	const query = `SELECT ` + secretColumns + ` FROM secrets WHERE id = ?`

	s, err := scanSecret(r.r.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret %q: %w", id, err)
	}
	return s, nil
}

// List returns secrets ordered by name.
func (r *SecretRepo) List(ctx context.Context, includeInactive bool) ([]model.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets`
	if !includeInactive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := r.r.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	var secrets []model.Secret
	for rows.Next() {
		s, err := scanSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		secrets = append(secrets, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate secrets: %w", err)
	}

	return secrets, nil
}

// UpdateValue replaces the ciphertext of an active secret and records the rotation.
func (r *SecretRepo) UpdateValue(ctx context.Context, id string, ciphertext []byte, now time.Time) error {
	const query = `UPDATE secrets SET encrypted_value = ?, last_rotated_at = ?, updated_at = ?
		WHERE id = ? AND is_active = 1`

	ts := formatTime(now)
	return execOne(ctx, r.w, "update secret "+id, query, ciphertext, ts, ts, id)
}

// ReplaceCiphertext swaps the stored ciphertext only if it still equals old.
func (r *SecretRepo) ReplaceCiphertext(ctx context.Context, id string, old, next []byte, now time.Time) (bool, error) {
	const query = `UPDATE secrets SET encrypted_value = ?, updated_at = ?
		WHERE id = ? AND encrypted_value = ?`

	result, err := r.w.ExecContext(ctx, query, next, formatTime(now), id, old)
	if err != nil {
		return false, fmt.Errorf("replace ciphertext for secret %q: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// Deactivate soft-deletes a secret.
func (r *SecretRepo) Deactivate(ctx context.Context, id string, now time.Time) error {
	const query = `UPDATE secrets SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`
	return execOne(ctx, r.w, "deactivate secret "+id, query, formatTime(now), id)
}

// RecordAccess bumps the access counters after a successful claim.
func (r *SecretRepo) RecordAccess(ctx context.Context, id string, now time.Time) error {
	const query = `UPDATE secrets SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`
	return execOne(ctx, r.w, "record access for secret "+id, query, formatTime(now), id)
}

func scanSecret(s scanner) (*model.Secret, error) {
	var (
		sec                                  model.Secret
		typ, metadata, createdAt, updatedAt  string
		isActive                             int
		expiresAt, rotatedAt, lastAccessedAt sql.NullString
		reminder                             sql.NullInt64
	)

	err := s.Scan(
		&sec.ID, &sec.Name, &typ, &sec.EncryptedValue, &metadata, &sec.CreatedBy,
		&createdAt, &updatedAt, &isActive, &expiresAt, &rotatedAt, &reminder,
		&sec.AccessCount, &lastAccessedAt,
	)
	if err != nil {
		return nil, err
	}

	sec.Type = model.SecretType(typ)
	sec.IsActive = isActive != 0
	if reminder.Valid {
		days := int(reminder.Int64)
		sec.RotationReminderDays = &days
	}
	if err := json.Unmarshal([]byte(metadata), &sec.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	if sec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if sec.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if sec.LastRotatedAt, err = parseNullTime(rotatedAt); err != nil {
		return nil, fmt.Errorf("parse last_rotated_at: %w", err)
	}
	if sec.LastAccessedAt, err = parseNullTime(lastAccessedAt); err != nil {
		return nil, fmt.Errorf("parse last_accessed_at: %w", err)
	}

	return &sec, nil
}

// execOne runs a mutating statement that must touch exactly one row and maps
// zero rows to driven.ErrRecordNotFound.
func execOne(ctx context.Context, q querier, op, query string, args ...any) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, driven.ErrRecordNotFound)
	}
	return nil
}

func nonNilMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}
