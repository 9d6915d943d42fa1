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
var _ driven.SessionStore = (*SessionRepo)(nil)

const sessionColumns = `id, name, target_url, target_domain, encrypted_cookies, cookie_count,
	notes, created_by, created_at, updated_at, is_active`

// SessionRepo is the SQLite implementation of the SessionStore port interface.
type SessionRepo struct {
	w querier
	r querier
}

// NewSessionRepo creates a new SessionRepo backed by the given DB.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{w: db.Writer, r: db.Reader}
}

// Create inserts a new stored session.
func (r *SessionRepo) Create(ctx context.Context, s model.StoredSession) error {
	const query = `INSERT INTO stored_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.w.ExecContext(ctx, query,
		s.ID, s.Name, s.TargetURL, s.TargetDomain, s.EncryptedCookies, s.CookieCount,
		s.Notes, s.CreatedBy, formatTime(s.CreatedAt), formatTime(s.UpdatedAt), boolToInt(s.IsActive),
	)
	if err != nil {
		return fmt.Errorf("create stored session %q: %w", s.ID, err)
	}
	return nil
}

// GetByID retrieves a stored session. Returns nil, nil if it does not exist.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.StoredSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM stored_sessions WHERE id = ?`

	s, err := scanSession(r.r.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stored session %q: %w", id, err)
	}
	return s, nil
}

// List returns stored sessions ordered by name.
func (r *SessionRepo) List(ctx context.Context, includeInactive bool) ([]model.StoredSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM stored_sessions`
	if !includeInactive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := r.r.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list stored sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.StoredSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stored session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stored sessions: %w", err)
	}

	return sessions, nil
}

// ReplaceCiphertext swaps the cookie ciphertext only if it still equals old.
func (r *SessionRepo) ReplaceCiphertext(ctx context.Context, id string, old, next []byte, now time.Time) (bool, error) {
	const query = `UPDATE stored_sessions SET encrypted_cookies = ?, updated_at = ?
		WHERE id = ? AND encrypted_cookies = ?`

	result, err := r.w.ExecContext(ctx, query, next, formatTime(now), id, old)
	if err != nil {
		return false, fmt.Errorf("replace ciphertext for stored session %q: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// Deactivate soft-deletes a stored session.
func (r *SessionRepo) Deactivate(ctx context.Context, id string, now time.Time) error {
	const query = `UPDATE stored_sessions SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`
	return execOne(ctx, r.w, "deactivate stored session "+id, query, formatTime(now), id)
}

func scanSession(s scanner) (*model.StoredSession, error) {
	var (
		sess                 model.StoredSession
		createdAt, updatedAt string
		isActive             int
	)

	err := s.Scan(
		&sess.ID, &sess.Name, &sess.TargetURL, &sess.TargetDomain, &sess.EncryptedCookies,
		&sess.CookieCount, &sess.Notes, &sess.CreatedBy, &createdAt, &updatedAt, &isActive,
	)
	if err != nil {
		return nil, err
	}

	sess.IsActive = isActive != 0
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &sess, nil
}
