package logger

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	Action     string
	UserID     string
	SessionRef string // fingerprint, never the raw session id
	IPAddress  string
	UserAgent  string
	Details    map[string]string
	Warn       bool
	OccurredAt time.Time
}

// AuditLogger writes audit events as structured log lines
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log emits event at info level, or warn when event.Warn is set
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	attrs := []slog.Attr{
		slog.String("audit_action", event.Action),
		slog.String("timestamp", occurred.UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.SessionRef != "" {
		attrs = append(attrs, slog.String("session_ref", event.SessionRef))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	if len(event.Details) > 0 {
		keys := make([]string, 0, len(event.Details))
		for k := range event.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		detailAttrs := make([]any, 0, len(keys))
		for _, k := range keys {
			detailAttrs = append(detailAttrs, slog.String(k, event.Details[k]))
		}
		attrs = append(attrs, slog.Group("details", detailAttrs...))
	}

	level := slog.LevelInfo
	if event.Warn {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
