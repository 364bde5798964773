package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/fieldnotes/internal/auth"
	"github.com/BradenHooton/fieldnotes/internal/models"
	pkghttp "github.com/BradenHooton/fieldnotes/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSession attaches a session handle the way the session middleware does
func WithSession(req *http.Request, h *models.SessionHandle) *http.Request {
	return req.WithContext(auth.ContextWithSession(req.Context(), h))
}

func anonymousHandle(id string) *models.SessionHandle {
	return &models.SessionHandle{Session: &models.Session{ID: id}, PreviousID: id}
}

func authenticatedHandle(id string) *models.SessionHandle {
	return &models.SessionHandle{
		Session: &models.Session{
			ID:       id,
			Identity: &models.Identity{UserID: "42", Email: "a@b.com", DisplayName: "Ada", Role: "user"},
		},
		State:      models.SessionValid,
		PreviousID: id,
	}
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockAuthFlows implements handlers.AuthFlows for testing
type MockAuthFlows struct {
	LoginFunc                 func(ctx context.Context, h *models.SessionHandle, identifier, password string) (*models.Identity, error)
	RequestPasswordResetFunc  func(ctx context.Context, email string) error
	CompletePasswordResetFunc func(ctx context.Context, rawToken, newPassword string) error
}

func (m *MockAuthFlows) Login(ctx context.Context, h *models.SessionHandle, identifier, password string) (*models.Identity, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, h, identifier, password)
}

func (m *MockAuthFlows) RequestPasswordReset(ctx context.Context, email string) error {
	if m.RequestPasswordResetFunc == nil {
		return nil
	}
	return m.RequestPasswordResetFunc(ctx, email)
}

func (m *MockAuthFlows) CompletePasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if m.CompletePasswordResetFunc == nil {
		return models.ErrResetTokenInvalid
	}
	return m.CompletePasswordResetFunc(ctx, rawToken, newPassword)
}

// MockSessionController implements handlers.SessionController for testing
type MockSessionController struct {
	EvaluateFunc func(ctx context.Context, h *models.SessionHandle) (models.SessionState, error)
	LogoutFunc   func(ctx context.Context, h *models.SessionHandle) error
}

func (m *MockSessionController) Evaluate(ctx context.Context, h *models.SessionHandle) (models.SessionState, error) {
	if m.EvaluateFunc == nil {
		return h.State, nil
	}
	return m.EvaluateFunc(ctx, h)
}

func (m *MockSessionController) Logout(ctx context.Context, h *models.SessionHandle) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, h)
}

// MockCSRFIssuer implements handlers.CSRFIssuer for testing
type MockCSRFIssuer struct {
	IssueTokenFunc func(ctx context.Context, sess *models.Session) (string, error)
}

func (m *MockCSRFIssuer) IssueToken(ctx context.Context, sess *models.Session) (string, error) {
	if m.IssueTokenFunc == nil {
		return "csrf-token", nil
	}
	return m.IssueTokenFunc(ctx, sess)
}
