package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit actions
const (
	AuditActionLogin                  = "login"
	AuditActionLogout                 = "logout"
	AuditActionLoginFailed            = "login_failed"
	AuditActionLoginThrottled         = "login_throttled"
	AuditActionSessionRotated         = "session_rotated"
	AuditActionSessionExpired         = "session_expired"
	AuditActionPasswordResetRequested = "password_reset_requested"
	AuditActionPasswordResetCompleted = "password_reset_completed"
	AuditActionCSRFRejected           = "csrf_rejected"
)

// AuditLogEntry is an immutable security event. SessionID holds a fingerprint
// of the session handle, never the handle itself.
type AuditLogEntry struct {
	ID        uuid.UUID    `db:"id"`
	Timestamp time.Time    `db:"occurred_at"`
	UserID    *string      `db:"user_id"`
	Action    string       `db:"action"`
	Details   AuditDetails `db:"details"`
	IPAddress string       `db:"ip_address"`
	UserAgent string       `db:"user_agent"`
	SessionID string       `db:"session_ref"`
}

// AuditDetails holds additional context for audit events
type AuditDetails map[string]string

// Scan implements sql.Scanner for JSONB
func (ad *AuditDetails) Scan(value interface{}) error {
	if value == nil {
		*ad = make(AuditDetails)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	m := make(map[string]string)
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*ad = AuditDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (ad AuditDetails) Value() (driver.Value, error) {
	if ad == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(ad))
}
