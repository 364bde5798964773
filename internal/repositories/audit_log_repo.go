package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/fieldnotes/internal/database"
	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository is the append-only Postgres audit sink
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

func scanAuditLogRow(row rowScanner) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	err := row.Scan(
		&entry.ID, &entry.Timestamp, &entry.UserID, &entry.Action,
		&entry.Details, &entry.IPAddress, &entry.UserAgent, &entry.SessionID,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &entry, nil
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLogEntry, error) {
	defer rows.Close()

	entries := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		entry, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}
	return entries, nil
}

// Append inserts entry. Rows are never updated or deleted by this package.
func (r *AuditLogRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO audit_logs (id, occurred_at, user_id, action, details, ip_address, user_agent, session_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.Timestamp, entry.UserID, entry.Action,
		entry.Details, entry.IPAddress, entry.UserAgent, entry.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListByUserID returns the newest entries for a user
func (r *AuditLogRepository) ListByUserID(ctx context.Context, userID string, limit int) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT id, occurred_at, user_id, action, details, ip_address, user_agent, session_ref
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	return scanAuditLogRows(rows)
}
