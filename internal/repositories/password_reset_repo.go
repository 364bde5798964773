package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/database"
	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PasswordResetRepository is the Postgres reset token store, one row per user
type PasswordResetRepository struct {
	pool *pgxpool.Pool
}

// NewPasswordResetRepository creates a new PasswordResetRepository
func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{pool: db.Pool}
}

func scanResetTokenRow(row rowScanner) (*models.PasswordResetToken, error) {
	var token models.PasswordResetToken
	if err := row.Scan(&token.UserID, &token.TokenHash, &token.ExpiresAt, &token.CreatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &token, nil
}

func scanResetTokenRows(rows pgx.Rows) ([]*models.PasswordResetToken, error) {
	defer rows.Close()

	tokens := make([]*models.PasswordResetToken, 0)
	for rows.Next() {
		token, err := scanResetTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan password reset token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token rows: %w", err)
	}
	return tokens, nil
}

// Upsert replaces any existing token for the user
func (r *PasswordResetRepository) Upsert(ctx context.Context, token *models.PasswordResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at
	`
	if _, err := r.pool.Exec(ctx, query, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert password reset token: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListActive returns tokens with expires_at after now
func (r *PasswordResetRepository) ListActive(ctx context.Context, now time.Time) ([]*models.PasswordResetToken, error) {
	query := `
		SELECT user_id, token_hash, expires_at, created_at
		FROM password_reset_tokens
		WHERE expires_at > $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query password reset tokens: %w", err)
	}
	return scanResetTokenRows(rows)
}

func (r *PasswordResetRepository) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete password reset token: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens with expires_at before now. Safe to run concurrently.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired password reset tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
