package database

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the stores react to
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeNotNullViolation     = "23502"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// maxTxAttempts bounds WithTransaction retries of serialization failures and deadlocks
const maxTxAttempts = 3

// MapPostgresError turns constraint and no-rows errors into model sentinels.
// Everything else, including connection failures, comes back unchanged so the
// services can report it as an infrastructure error.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	switch sqlState(err) {
	case codeUniqueViolation:
		return models.ErrConflict
	case codeForeignKeyViolation, codeNotNullViolation, codeCheckViolation:
		return models.ErrBadRequest
	}
	return err
}

// IsRetryable reports whether err is a transient conflict that a fresh
// transaction can succeed after
func IsRetryable(err error) bool {
	switch sqlState(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// WithTransaction runs fn in a transaction, committing on nil and rolling back
// otherwise (panics included). Serialization failures and deadlocks are retried
// with a new transaction while ctx is live, so fn must be safe to run again.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{}, fn)
		if err == nil || !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		if db.logger != nil {
			db.logger.WarnContext(ctx, "retrying transaction",
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		}
	}
	return err
}
