package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/handlers"
	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAuditReader struct {
	ListFunc func(ctx context.Context, userID string, limit int) ([]*models.AuditLogEntry, error)
}

func (m *mockAuditReader) ListByUserID(ctx context.Context, userID string, limit int) ([]*models.AuditLogEntry, error) {
	return m.ListFunc(ctx, userID, limit)
}

func TestMyAuditTrail(t *testing.T) {
	userID := "42"
	var gotLimit int
	reader := &mockAuditReader{ListFunc: func(ctx context.Context, id string, limit int) ([]*models.AuditLogEntry, error) {
		assert.Equal(t, "42", id)
		gotLimit = limit
		return []*models.AuditLogEntry{{
			ID:        uuid.New(),
			Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			UserID:    &userID,
			Action:    models.AuditActionLogin,
			SessionID: "0123456789abcdef",
		}}, nil
	}}
	handler := handlers.NewAuditHandler(reader, discardLogger())

	req := WithSession(httptest.NewRequest(http.MethodGet, "/me/audit?limit=10", nil), authenticatedHandle("s"))
	w := httptest.NewRecorder()
	handler.MyAuditTrail(w, req)

	var resp struct {
		Logs []handlers.AuditLogResponse `json:"logs"`
	}
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 10, gotLimit)
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "login", resp.Logs[0].Action)
	assert.Equal(t, "2026-03-01T09:00:00Z", resp.Logs[0].OccurredAt)
	assert.NotContains(t, w.Body.String(), "0123456789abcdef")
}

func TestMyAuditTrail_Errors(t *testing.T) {
	reader := &mockAuditReader{ListFunc: func(ctx context.Context, id string, limit int) ([]*models.AuditLogEntry, error) {
		return nil, errors.New("db down")
	}}
	handler := handlers.NewAuditHandler(reader, discardLogger())

	w := httptest.NewRecorder()
	handler.MyAuditTrail(w, WithSession(httptest.NewRequest(http.MethodGet, "/me/audit", nil), authenticatedHandle("s")))
	AssertErrorResponse(t, w, http.StatusServiceUnavailable, "service_unavailable")

	w = httptest.NewRecorder()
	handler.MyAuditTrail(w, WithSession(httptest.NewRequest(http.MethodGet, "/me/audit", nil), anonymousHandle("s")))
	AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(ctx context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	ok := handlers.NewHealthHandler(map[string]handlers.HealthChecker{"postgres": stubHealth{}}, discardLogger())
	w := httptest.NewRecorder()
	ok.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	degraded := handlers.NewHealthHandler(map[string]handlers.HealthChecker{
		"postgres": stubHealth{},
		"redis":    stubHealth{err: errors.New("refused")},
	}, discardLogger())
	w = httptest.NewRecorder()
	degraded.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"unavailable"`)
}
