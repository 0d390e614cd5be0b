package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Store wraps the database handle and enforces the transactional
// discipline for multi-row mutations.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger
}

func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{DB: db, logger: logger}
}

// WithTx runs fn inside a single transaction. Any error (or panic) rolls
// back every row touched in the call; failures are logged with the
// operation name and returned, never swallowed.
func (s *Store) WithTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		s.logger.Error("transaction failed", "op", op, "error", err)
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("transaction commit failed", "op", op, "error", err)
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}
