package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/auth"
	"github.com/BradenHooton/fieldnotes/internal/handlers"
	"github.com/BradenHooton/fieldnotes/internal/middleware"
	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/BradenHooton/fieldnotes/internal/services"
	pkghttp "github.com/BradenHooton/fieldnotes/pkg/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Config carries the transport settings shared by the middleware stack
type Config struct {
	Env       string
	Cookies   auth.CookieConfig
	IPConfig  *pkghttp.IPConfig
	RateLimit middleware.RateLimitConfig
	LoginPath string
}

// Deps are the components the routes are served by
type Deps struct {
	Sessions    *services.SessionService
	Flows       handlers.AuthFlows
	CSRF        *auth.CSRFGuard
	Audit       services.Auditor
	AuditReader handlers.AuditReader
	Health      map[string]handlers.HealthChecker

	// ThrottleWindow is reported as Retry-After on throttled logins
	ThrottleWindow time.Duration
}

// NewRouter builds the full middleware stack and registers every route
func NewRouter(deps Deps, cfg Config, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Env}))
	router.Use(middleware.SecureLogger(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	RegisterRoutes(router, deps, cfg, logger)
	return router
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Deps, cfg Config, logger *slog.Logger) {
	authHandler := handlers.NewAuthHandler(deps.Flows, deps.Sessions, deps.CSRF, cfg.Cookies, deps.ThrottleWindow, logger)
	auditHandler := handlers.NewAuditHandler(deps.AuditReader, logger)
	healthHandler := handlers.NewHealthHandler(deps.Health, logger)

	router.Get("/health", healthHandler.Health)

	// One limiter shared by every credential endpoint
	credentialLimit := middleware.RateLimitByIP(cfg.RateLimit, cfg.IPConfig)

	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(deps.Sessions, cfg.Cookies, cfg.IPConfig, logger))
		r.Use(auth.RequireCSRF(deps.CSRF, csrfAuditHook(deps.Audit), logger))

		r.Get("/auth/csrf", authHandler.CSRFToken)
		r.Get("/auth/session", authHandler.Session)
		r.Post("/auth/logout", authHandler.Logout)

		r.With(credentialLimit).Post("/auth/login", authHandler.Login)
		r.With(credentialLimit).Post("/auth/password/forgot", authHandler.ForgotPassword)
		r.With(credentialLimit).Post("/auth/password/reset", authHandler.ResetPassword)

		// Authenticated only
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuthenticated(deps.Sessions, cfg.Cookies, cfg.LoginPath, logger))
			r.Get("/me", authHandler.Me)
			r.Get("/me/audit", auditHandler.MyAuditTrail)
		})
	})
}

func csrfAuditHook(audit services.Auditor) auth.RejectionHook {
	if audit == nil {
		return nil
	}
	return func(ctx context.Context, h *models.SessionHandle, reason string) {
		audit.Record(ctx, services.AuditEvent{
			Action:    models.AuditActionCSRFRejected,
			UserID:    h.Session.Identity.UserID,
			SessionID: h.Session.ID,
			Details:   map[string]string{"reason": reason},
		})
	}
}
