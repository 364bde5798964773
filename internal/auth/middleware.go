package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/BradenHooton/fieldnotes/internal/models"
	pkghttp "github.com/BradenHooton/fieldnotes/pkg/http"
)

type sessionContextKey struct{}

// SessionLoader loads or creates the session for a transport identifier
type SessionLoader interface {
	Init(ctx context.Context, transportID string) (*models.SessionHandle, error)
}

// AuthenticationChecker gates protected operations
type AuthenticationChecker interface {
	RequireAuthenticated(ctx context.Context, h *models.SessionHandle) error
}

// CSRFVerifier checks a submitted token against the session's
type CSRFVerifier interface {
	RequireValid(sess *models.Session, supplied string) error
}

// RejectionHook is told about CSRF rejections on authenticated sessions
type RejectionHook func(ctx context.Context, h *models.SessionHandle, reason string)

const (
	CSRFHeader    = "X-CSRF-Token"
	CSRFFormField = "csrf_token"
)

// ContextWithSession attaches a session handle to ctx
func ContextWithSession(ctx context.Context, h *models.SessionHandle) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, h)
}

// SessionFromContext returns the handle attached by SessionMiddleware, or nil
func SessionFromContext(ctx context.Context) *models.SessionHandle {
	h, _ := ctx.Value(sessionContextKey{}).(*models.SessionHandle)
	return h
}

// SessionMiddleware records request metadata, loads the session and re-issues
// the cookie whenever the session id differs from the one the client sent.
func SessionMiddleware(loader SessionLoader, cookies CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := models.ContextWithRequestMeta(r.Context(), models.RequestMeta{
				IPAddress: pkghttp.ExtractClientIP(r, ipConfig),
				UserAgent: r.UserAgent(),
			})

			handle, err := loader.Init(ctx, GetSessionCookie(r, cookies))
			if err != nil {
				logger.Error("failed to load session", slog.Any("error", err))
				pkghttp.WriteServiceUnavailable(w, "authentication service unavailable")
				return
			}

			if handle.IDChanged() {
				SetSessionCookie(w, handle.Session.ID, cookies)
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(ctx, handle)))
		})
	}
}

// RequireAuthenticated rejects requests whose session is not authenticated.
// Browsers asking for HTML are redirected to loginPath; everyone else gets a 401.
func RequireAuthenticated(checker AuthenticationChecker, cookies CookieConfig, loginPath string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle := SessionFromContext(r.Context())
			err := checker.RequireAuthenticated(r.Context(), handle)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, models.ErrSessionExpired):
				// An idle session was just replaced by an anonymous one
				if handle.IDChanged() {
					SetSessionCookie(w, handle.Session.ID, cookies)
				}
				if wantsHTML(r) {
					http.Redirect(w, r, loginPath+"?next="+url.QueryEscape(r.URL.Path), http.StatusSeeOther)
					return
				}
				pkghttp.WriteUnauthorized(w, "authentication required")
			default:
				logger.Error("failed to check authentication", slog.Any("error", err))
				pkghttp.WriteServiceUnavailable(w, "authentication service unavailable")
			}
		})
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// RequireCSRF rejects state-changing requests whose token, taken from the
// X-CSRF-Token header or the csrf_token form field, does not match the session.
// Rejected requests never reach next.
func RequireCSRF(verifier CSRFVerifier, onReject RejectionHook, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			handle := SessionFromContext(r.Context())
			var sess *models.Session
			if handle != nil {
				sess = handle.Session
			}

			supplied := csrfTokenFromRequest(r)
			if err := verifier.RequireValid(sess, supplied); err != nil {
				reason := "mismatch"
				if supplied == "" {
					reason = "missing"
				}
				logger.Warn("CSRF token rejected",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("reason", reason))
				if onReject != nil && sess.IsAuthenticated() {
					onReject(r.Context(), handle, reason)
				}
				pkghttp.WriteForbidden(w, "CSRF token missing or invalid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func csrfTokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(CSRFHeader); token != "" {
		return token
	}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
		return r.PostFormValue(CSRFFormField)
	}
	return ""
}

func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
