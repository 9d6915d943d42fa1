package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Transactor = (*TxRunner)(nil)

// TxRunner is the SQLite implementation of the Transactor port. The stores it
// hands to fn read and write through one *sql.Tx on the writer connection.
type TxRunner struct {
	db *DB
}

// NewTxRunner creates a TxRunner backed by the given DB.
func NewTxRunner(db *DB) *TxRunner {
	return &TxRunner{db: db}
}

// WithinTx begins a write transaction, runs fn, and commits only if fn succeeds.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context, s driven.Stores) error) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stores := driven.Stores{
		Tokens:   &TokenRepo{w: tx, r: tx},
		Secrets:  &SecretRepo{w: tx, r: tx},
		Sessions: &SessionRepo{w: tx, r: tx},
		Audit:    &AuditRepo{w: tx, r: tx},
		Devices:  &DeviceRepo{w: tx, r: tx},
	}

	if err := fn(ctx, stores); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
