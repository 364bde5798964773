package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/auth"
	"github.com/BradenHooton/fieldnotes/internal/models"
	pkgauth "github.com/BradenHooton/fieldnotes/pkg/auth"
	pkghttp "github.com/BradenHooton/fieldnotes/pkg/http"
)

// AuthFlows runs the credential flows
type AuthFlows interface {
	Login(ctx context.Context, h *models.SessionHandle, identifier, password string) (*models.Identity, error)
	RequestPasswordReset(ctx context.Context, email string) error
	CompletePasswordReset(ctx context.Context, rawToken, newPassword string) error
}

// SessionController evaluates and destroys sessions
type SessionController interface {
	Evaluate(ctx context.Context, h *models.SessionHandle) (models.SessionState, error)
	Logout(ctx context.Context, h *models.SessionHandle) error
}

// CSRFIssuer hands out the per-session CSRF token
type CSRFIssuer interface {
	IssueToken(ctx context.Context, sess *models.Session) (string, error)
}

// AuthHandler handles session and credential HTTP requests
type AuthHandler struct {
	flows    AuthFlows
	sessions SessionController
	csrf     CSRFIssuer
	cookies  auth.CookieConfig
	// retryAfter is the throttle window, reported on 429s
	retryAfter time.Duration
	logger     *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(flows AuthFlows, sessions SessionController, csrf CSRFIssuer, cookies auth.CookieConfig, retryAfter time.Duration, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		flows:      flows,
		sessions:   sessions,
		csrf:       csrf,
		cookies:    cookies,
		retryAfter: retryAfter,
		logger:     logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// ForgotPasswordRequest represents the request body for starting a reset
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=128"`
	NewPassword string `json:"new_password" validate:"required"`
}

// Response DTOs

// CSRFResponse carries the session's CSRF token
type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// SessionResponse describes the caller's session
type SessionResponse struct {
	Authenticated bool             `json:"authenticated"`
	State         string           `json:"state"`
	User          *models.Identity `json:"user,omitempty"`
}

// UserResponse wraps an identity
type UserResponse struct {
	User models.Identity `json:"user"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

const resetRequestedMessage = "If the account exists, a password reset link has been sent."

// CSRFToken returns the session's CSRF token, creating it on first use
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	handle := auth.SessionFromContext(r.Context())
	if handle == nil || handle.Session == nil {
		pkghttp.WriteUnauthorized(w, "session required")
		return
	}

	token, err := h.csrf.IssueToken(r.Context(), handle.Session)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, CSRFResponse{CSRFToken: token})
}

// Session reports whether the caller is authenticated. An idle session is
// terminated here and replaced by an anonymous one.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	handle := auth.SessionFromContext(r.Context())

	state, err := h.sessions.Evaluate(r.Context(), handle)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	h.reissueCookie(w, handle)

	resp := SessionResponse{State: state.String()}
	if state == models.SessionValid {
		resp.Authenticated = true
		id := *handle.Session.Identity
		resp.User = &id
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeRequestError(w, err)
		return
	}

	handle := auth.SessionFromContext(r.Context())
	identity, err := h.flows.Login(r.Context(), handle, req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	h.reissueCookie(w, handle)
	pkghttp.WriteJSON(w, http.StatusOK, UserResponse{User: *identity})
}

// Logout destroys the session and clears the cookie
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	handle := auth.SessionFromContext(r.Context())

	if err := h.sessions.Logout(r.Context(), handle); err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	auth.ClearSessionCookie(w, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

// ForgotPassword starts a reset. The response is identical whether or not the account exists.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeRequestError(w, err)
		return
	}

	if err := h.flows.RequestPasswordReset(r.Context(), req.Email); err != nil {
		// Only reachable on programming errors; still answer uniformly
		h.logger.ErrorContext(r.Context(), "password reset request failed", slog.Any("error", err))
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: resetRequestedMessage})
}

// ResetPassword completes a reset with the emailed token
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeRequestError(w, err)
		return
	}

	if err := h.flows.CompletePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password updated"})
}

// Me returns the authenticated identity. Routed behind auth.RequireAuthenticated.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	handle := auth.SessionFromContext(r.Context())
	if handle == nil || !handle.Session.IsAuthenticated() {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, UserResponse{User: *handle.Session.Identity})
}

func (h *AuthHandler) reissueCookie(w http.ResponseWriter, handle *models.SessionHandle) {
	if handle.IDChanged() {
		auth.SetSessionCookie(w, handle.Session.ID, h.cookies)
	}
}

func (h *AuthHandler) writeRequestError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "validation_failed", "Invalid request", ve.Error())
		return
	}
	pkghttp.WriteBadRequest(w, "Invalid request body")
}

// writeAuthError maps the authentication taxonomy onto HTTP responses
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var weak *pkgauth.PasswordValidationError
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrThrottled):
		pkghttp.WriteTooManyRequests(w, "Too many failed login attempts. Please try again later.", h.retryAfter)
	case errors.Is(err, models.ErrCSRFInvalid):
		pkghttp.WriteForbidden(w, "CSRF token missing or invalid")
	case errors.Is(err, models.ErrSessionExpired):
		pkghttp.WriteUnauthorized(w, "Session expired")
	case errors.Is(err, models.ErrResetTokenInvalid):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid or expired reset token")
	case errors.As(err, &weak):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password", "Password does not meet requirements", weak.Error())
	default:
		h.logger.ErrorContext(r.Context(), "authentication request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Authentication service unavailable")
	}
}
