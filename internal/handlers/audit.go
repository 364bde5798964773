package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/auth"
	"github.com/BradenHooton/fieldnotes/internal/models"
	pkghttp "github.com/BradenHooton/fieldnotes/pkg/http"
)

// AuditReader lists a user's audit entries, newest first
type AuditReader interface {
	ListByUserID(ctx context.Context, userID string, limit int) ([]*models.AuditLogEntry, error)
}

// AuditHandler serves the caller's own security history
type AuditHandler struct {
	reader AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(reader AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		reader: reader,
		logger: logger,
	}
}

// AuditLogResponse represents an audit log entry in HTTP response
type AuditLogResponse struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	OccurredAt string            `json:"occurred_at"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// MyAuditTrail returns recent events for the authenticated user. Session
// fingerprints are not exposed.
func (h *AuditHandler) MyAuditTrail(w http.ResponseWriter, r *http.Request) {
	handle := auth.SessionFromContext(r.Context())
	if handle == nil || !handle.Session.IsAuthenticated() {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	entries, err := h.reader.ListByUserID(r.Context(), handle.Session.Identity.UserID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list audit trail", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Audit log unavailable")
		return
	}

	resp := make([]AuditLogResponse, len(entries))
	for i, e := range entries {
		resp[i] = auditLogToResponse(e)
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"logs":  resp,
		"limit": limit,
	})
}

func auditLogToResponse(e *models.AuditLogEntry) AuditLogResponse {
	return AuditLogResponse{
		ID:         e.ID.String(),
		Action:     e.Action,
		OccurredAt: e.Timestamp.UTC().Format(time.RFC3339),
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		Details:    e.Details,
	}
}
