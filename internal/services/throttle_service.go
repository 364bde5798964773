package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/models"
	pkglogger "github.com/BradenHooton/fieldnotes/pkg/logger"
)

// FailureStore holds the bounded failure history per identifier.
// Append must add and trim atomically.
type FailureStore interface {
	Append(ctx context.Context, identifier string, at time.Time, keep int) error
	List(ctx context.Context, identifier string) (*models.FailedAttemptRecord, error)
	Clear(ctx context.Context, identifier string) error
}

// ThrottleConfig holds configuration for the brute-force throttle
type ThrottleConfig struct {
	MaxAttempts     int
	Window          time.Duration
	RetainedHistory int
	StoreTimeout    time.Duration
}

// DefaultThrottleConfig returns 5 failures per 15 minutes, keeping the last 10
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MaxAttempts:     5,
		Window:          900 * time.Second,
		RetainedHistory: 10,
		StoreTimeout:    2 * time.Second,
	}
}

// BruteForceThrottle counts recent failures per identifier over a sliding
// window ending now.
type BruteForceThrottle struct {
	store   FailureStore
	config  ThrottleConfig
	logger  *slog.Logger
	metrics *AuthMetrics
	now     func() time.Time
}

// NewBruteForceThrottle creates a new BruteForceThrottle
func NewBruteForceThrottle(store FailureStore, config ThrottleConfig, logger *slog.Logger, metrics *AuthMetrics) *BruteForceThrottle {
	if config.RetainedHistory < config.MaxAttempts {
		config.RetainedHistory = config.MaxAttempts
	}
	return &BruteForceThrottle{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// NormalizeIdentifier folds case and surrounding whitespace so "A@B.com " and
// "a@b.com" share one history.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Window is the sliding window length; handlers use it for Retry-After
func (t *BruteForceThrottle) Window() time.Duration {
	return t.config.Window
}

// IsBlocked applies the configured limit
func (t *BruteForceThrottle) IsBlocked(ctx context.Context, identifier string) (bool, error) {
	return t.IsBlockedWith(ctx, identifier, t.config.MaxAttempts, t.config.Window)
}

// IsBlockedWith reports whether at least maxAttempts failures fall within window of now
func (t *BruteForceThrottle) IsBlockedWith(ctx context.Context, identifier string, maxAttempts int, window time.Duration) (bool, error) {
	identifier = NormalizeIdentifier(identifier)

	ctx, cancel := boundedContext(ctx, t.config.StoreTimeout)
	defer cancel()

	record, err := t.store.List(ctx, identifier)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to read failure history",
			slog.String("identifier", maskIdentifier(identifier)),
			slog.Any("error", err))
		return false, models.NewInfrastructureError("throttle.is_blocked", err)
	}

	blocked := record.CountSince(t.now().Add(-window)) >= maxAttempts
	if blocked {
		t.metrics.throttleBlocked(ctx, scopeOf(identifier))
	}
	return blocked, nil
}

// RecordFailure appends now to the identifier's history
func (t *BruteForceThrottle) RecordFailure(ctx context.Context, identifier string) error {
	identifier = NormalizeIdentifier(identifier)

	ctx, cancel := boundedContext(ctx, t.config.StoreTimeout)
	defer cancel()

	if err := t.store.Append(ctx, identifier, t.now(), t.config.RetainedHistory); err != nil {
		t.logger.ErrorContext(ctx, "failed to record authentication failure",
			slog.String("identifier", maskIdentifier(identifier)),
			slog.Any("error", err))
		return models.NewInfrastructureError("throttle.record_failure", err)
	}
	return nil
}

// Clear forgets every recorded failure for the identifier
func (t *BruteForceThrottle) Clear(ctx context.Context, identifier string) error {
	identifier = NormalizeIdentifier(identifier)

	ctx, cancel := boundedContext(ctx, t.config.StoreTimeout)
	defer cancel()

	if err := t.store.Clear(ctx, identifier); err != nil {
		return models.NewInfrastructureError("throttle.clear", err)
	}
	return nil
}

const resetScope = "reset:"

func scopeOf(identifier string) string {
	if strings.HasPrefix(identifier, resetScope) {
		return "reset"
	}
	return "login"
}

// maskIdentifier keeps emails out of logs, scoped or not
func maskIdentifier(identifier string) string {
	scope := ""
	if strings.HasPrefix(identifier, resetScope) {
		scope, identifier = resetScope, strings.TrimPrefix(identifier, resetScope)
	}
	if strings.Contains(identifier, "@") {
		return scope + pkglogger.SanitizedEmail(identifier)
	}
	return scope + pkglogger.Fingerprint(identifier)
}
