package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/username/carteira/src/logger"
)

// withTx runs fn inside a database transaction and commits when fn returns
// nil. Everything fn does must go through tx: the pool has one connection,
// so touching the *sql.DB inside fn would block forever.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning database transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logger.FromContext(ctx).Error("Failed to rollback transaction", "error", rbErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	committed = true
	return nil
}
