package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/database"
	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/jackc/pgx/v5"
)

// LoginAttemptRepository is the Postgres failure store. Rows for one
// identifier are serialized with a transaction-scoped advisory lock.
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Append inserts a failure and deletes all but the newest keep rows for the identifier
func (r *LoginAttemptRepository) Append(ctx context.Context, identifier string, at time.Time, keep int) error {
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, identifier); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO failed_login_attempts (identifier, attempted_at)
			VALUES ($1, $2)
		`, identifier, at); err != nil {
			return err
		}

		if keep <= 0 {
			return nil
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM failed_login_attempts
			WHERE identifier = $1 AND id NOT IN (
				SELECT id FROM failed_login_attempts
				WHERE identifier = $1
				ORDER BY attempted_at DESC, id DESC
				LIMIT $2
			)
		`, identifier, keep)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record login failure: %w", database.MapPostgresError(err))
	}
	return nil
}

// List returns retained failures oldest first
func (r *LoginAttemptRepository) List(ctx context.Context, identifier string) (*models.FailedAttemptRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT attempted_at FROM failed_login_attempts
		WHERE identifier = $1
		ORDER BY attempted_at ASC, id ASC
	`, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to query login failures: %w", err)
	}

	timestamps, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("failed to scan login failures: %w", err)
	}

	return &models.FailedAttemptRecord{Identifier: identifier, Timestamps: timestamps}, nil
}

func (r *LoginAttemptRepository) Clear(ctx context.Context, identifier string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM failed_login_attempts WHERE identifier = $1`, identifier); err != nil {
		return fmt.Errorf("failed to clear login failures: %w", err)
	}
	return nil
}

// Prune deletes failures recorded before cutoff
func (r *LoginAttemptRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM failed_login_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune login failures: %w", err)
	}
	return tag.RowsAffected(), nil
}
