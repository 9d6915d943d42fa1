package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TokenStore = (*TokenRepo)(nil)

// revokedByOneTime is recorded as revoked_by when a one-time token burns on claim.
const revokedByOneTime = "system:one-time"

const tokenColumns = `id, token, resource_kind, resource_id, contractor_identity, expires_at,
	is_revoked, revoked_at, revoked_by, revoke_reason, is_one_time, allowed_ip,
	created_by, created_at, last_used_at, use_count`

// TokenRepo is the SQLite implementation of the TokenStore port interface.
type TokenRepo struct {
	w querier
	r querier
}

// NewTokenRepo creates a new TokenRepo backed by the given DB.
func NewTokenRepo(db *DB) *TokenRepo {
	return &TokenRepo{w: db.Writer, r: db.Reader}
}

// Create inserts a new token.
func (r *TokenRepo) Create(ctx context.Context, t model.AccessToken) error {
	const query = `INSERT INTO access_tokens (` + tokenColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.w.ExecContext(ctx, query,
		t.ID, t.Token, string(t.Resource.Kind), t.Resource.ID, t.ContractorIdentity,
		formatTime(t.ExpiresAt), boolToInt(t.IsRevoked), formatTimePtr(t.RevokedAt),
		t.RevokedBy, t.RevokeReason, boolToInt(t.IsOneTime), t.AllowedIP,
		t.CreatedBy, formatTime(t.CreatedAt), formatTimePtr(t.LastUsedAt), t.UseCount,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("create token %q: %w", t.ID, driven.ErrDuplicate)
		}
		return fmt.Errorf("create token %q: %w", t.ID, err)
	}
	return nil
}

// GetByToken looks a token up by its opaque string. Returns nil, nil if absent.
func (r *TokenRepo) GetByToken(ctx context.Context, token string) (*model.AccessToken, error) {
	const query = `SELECT ` + tokenColumns + ` FROM access_tokens WHERE token = ?`

	t, err := scanToken(r.r.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token by value: %w", err)
	}
	return t, nil
}

// GetByID looks a token up by id. Returns nil, nil if absent.
func (r *TokenRepo) GetByID(ctx context.Context, id string) (*model.AccessToken, error) {
	const query = `SELECT ` + tokenColumns + ` FROM access_tokens WHERE id = ?`

	t, err := scanToken(r.r.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token %q: %w", id, err)
	}
	return t, nil
}

// List returns tokens newest first, optionally narrowed to one contractor and
// to tokens that are still claimable at now.
func (r *TokenRepo) List(ctx context.Context, filter model.TokenFilter, now time.Time) ([]model.AccessToken, error) {
	var (
		where []string
		args  []any
	)
	if filter.ContractorIdentity != "" {
		where = append(where, "contractor_identity = ?")
		args = append(args, filter.ContractorIdentity)
	}
	if filter.ActiveOnly {
		where = append(where, "is_revoked = 0", "expires_at > ?")
		args = append(args, formatTime(now))
	}

	query := `SELECT ` + tokenColumns + ` FROM access_tokens`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.AccessToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}

	return tokens, nil
}

// MarkUsed records one successful use. The WHERE clause is the compare-and-set:
// only an unrevoked, unexpired token matches, and a one-time token is revoked
// by the same statement, so at most one concurrent claim can win it.
func (r *TokenRepo) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	const query = `UPDATE access_tokens SET
			use_count = use_count + 1,
			last_used_at = ?,
			is_revoked = CASE WHEN is_one_time = 1 THEN 1 ELSE is_revoked END,
			revoked_at = CASE WHEN is_one_time = 1 THEN ? ELSE revoked_at END,
			revoked_by = CASE WHEN is_one_time = 1 THEN ? ELSE revoked_by END
		WHERE id = ? AND is_revoked = 0 AND expires_at > ?
			AND NOT (is_one_time = 1 AND use_count > 0)`

	ts := formatTime(now)
	result, err := r.w.ExecContext(ctx, query, ts, ts, revokedByOneTime, id, ts)
	if err != nil {
		return false, fmt.Errorf("mark token %q used: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// Revoke flips is_revoked for a token that is not yet revoked.
func (r *TokenRepo) Revoke(ctx context.Context, id, actor, reason string, now time.Time) (bool, error) {
	const query = `UPDATE access_tokens
		SET is_revoked = 1, revoked_at = ?, revoked_by = ?, revoke_reason = ?
		WHERE id = ? AND is_revoked = 0`

	result, err := r.w.ExecContext(ctx, query, formatTime(now), actor, reason, id)
	if err != nil {
		return false, fmt.Errorf("revoke token %q: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// RevokeActiveForContractor revokes every claimable token of the identity in
// a single statement and returns the revoked rows.
func (r *TokenRepo) RevokeActiveForContractor(ctx context.Context, identity, actor, reason string, now time.Time) ([]model.RevokedToken, error) {
	const query = `UPDATE access_tokens
		SET is_revoked = 1, revoked_at = ?, revoked_by = ?, revoke_reason = ?
		WHERE contractor_identity = ? AND is_revoked = 0 AND expires_at > ?
		RETURNING id, resource_kind, resource_id`

	ts := formatTime(now)
	rows, err := r.w.QueryContext(ctx, query, ts, actor, reason, identity, ts)
	if err != nil {
		return nil, fmt.Errorf("revoke tokens for %q: %w", identity, err)
	}
	defer rows.Close()

	var revoked []model.RevokedToken
	for rows.Next() {
		var rt model.RevokedToken
		var kind string
		if err := rows.Scan(&rt.ID, &kind, &rt.Resource.ID); err != nil {
			return nil, fmt.Errorf("scan revoked token: %w", err)
		}
		rt.Resource.Kind = model.ResourceKind(kind)
		revoked = append(revoked, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revoked tokens: %w", err)
	}

	return revoked, nil
}

// PurgeExpired deletes tokens that expired before cutoff.
func (r *TokenRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM access_tokens WHERE expires_at < ?`

	result, err := r.w.ExecContext(ctx, query, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}

func scanToken(s scanner) (*model.AccessToken, error) {
	var (
		t                          model.AccessToken
		kind, expiresAt, createdAt string
		revokedAt, lastUsedAt      sql.NullString
		isRevoked, isOneTime       int
	)

	err := s.Scan(
		&t.ID, &t.Token, &kind, &t.Resource.ID, &t.ContractorIdentity, &expiresAt,
		&isRevoked, &revokedAt, &t.RevokedBy, &t.RevokeReason, &isOneTime, &t.AllowedIP,
		&t.CreatedBy, &createdAt, &lastUsedAt, &t.UseCount,
	)
	if err != nil {
		return nil, err
	}

	t.Resource.Kind = model.ResourceKind(kind)
	t.IsRevoked = isRevoked != 0
	t.IsOneTime = isOneTime != 0

	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return nil, fmt.Errorf("parse revoked_at: %w", err)
	}
	if t.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, fmt.Errorf("parse last_used_at: %w", err)
	}

	return &t, nil
}
