package services

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/models"
	pkglogger "github.com/BradenHooton/fieldnotes/pkg/logger"
	"github.com/google/uuid"
)

// AuditSink is the append-only store behind the audit log
type AuditSink interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
}

// AuditEvent is what callers hand to Record. SessionID is the raw handle;
// only its fingerprint is ever written.
type AuditEvent struct {
	Action    string
	UserID    string
	SessionID string
	Details   map[string]string
}

// warnActions are logged at warn level
var warnActions = map[string]bool{
	models.AuditActionLoginFailed:    true,
	models.AuditActionLoginThrottled: true,
	models.AuditActionCSRFRejected:   true,
}

// AuditService writes every security event twice: a structured log line and
// a sink row. Sink failures are logged and counted but never returned.
type AuditService struct {
	sink         AuditSink
	auditLogger  *pkglogger.AuditLogger
	logger       *slog.Logger
	metrics      *AuthMetrics
	writeTimeout time.Duration
	now          func() time.Time
	failedWrites atomic.Int64
}

// NewAuditService creates a new AuditService. writeTimeout bounds each sink append.
func NewAuditService(sink AuditSink, logger *slog.Logger, metrics *AuthMetrics, writeTimeout time.Duration) *AuditService {
	return &AuditService{
		sink:         sink,
		auditLogger:  pkglogger.NewAuditLogger(logger),
		logger:       logger,
		metrics:      metrics,
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

// Record logs and persists event. It never fails the caller.
func (s *AuditService) Record(ctx context.Context, event AuditEvent) {
	meta := models.RequestMetaFromContext(ctx)
	now := s.now().UTC()
	sessionRef := pkglogger.Fingerprint(event.SessionID)

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		Action:     event.Action,
		UserID:     event.UserID,
		SessionRef: sessionRef,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		Details:    event.Details,
		Warn:       warnActions[event.Action],
		OccurredAt: now,
	})

	entry := &models.AuditLogEntry{
		ID:        uuid.New(),
		Timestamp: now,
		Action:    event.Action,
		Details:   models.AuditDetails(event.Details),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		SessionID: sessionRef,
	}
	if event.UserID != "" {
		userID := event.UserID
		entry.UserID = &userID
	}

	// The request may already be cancelled (e.g. expiry detected on a
	// disconnecting client); the event still has to land.
	writeCtx := context.WithoutCancel(ctx)
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(writeCtx, s.writeTimeout)
		defer cancel()
	}

	if err := s.sink.Append(writeCtx, entry); err != nil {
		s.failedWrites.Add(1)
		s.metrics.auditWriteFailed(ctx, event.Action)
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("audit_action", event.Action),
			slog.String("audit_id", entry.ID.String()),
			slog.Any("error", err),
		)
	}
}

// FailedWrites returns how many sink appends have failed since start
func (s *AuditService) FailedWrites() int64 {
	return s.failedWrites.Load()
}
