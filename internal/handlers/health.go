package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/fieldnotes/pkg/http"
)

// HealthChecker is one backing store the service depends on
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports whether every backing store answers
type HealthHandler struct {
	checks map[string]HealthChecker
	logger *slog.Logger
}

// NewHealthHandler creates a new HealthHandler. checks is keyed by component name.
func NewHealthHandler(checks map[string]HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// Health answers 200 when all checks pass and 503 otherwise
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.HealthCheck(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", slog.String("component", name), slog.Any("error", err))
			components[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	pkghttp.WriteJSON(w, status, map[string]any{
		"status":     overall,
		"components": components,
	})
}
