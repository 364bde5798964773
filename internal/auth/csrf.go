package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/BradenHooton/fieldnotes/internal/models"
	pkglogger "github.com/BradenHooton/fieldnotes/pkg/logger"
)

// SessionUpdater is the slice of the session store the CSRF guard needs
type SessionUpdater interface {
	Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error)
}

// CSRFGuard issues and verifies per-session anti-forgery tokens.
// The token lives on the session, so every tab of a browser shares it.
type CSRFGuard struct {
	store  SessionUpdater
	logger *slog.Logger
}

// NewCSRFGuard creates a new CSRFGuard
func NewCSRFGuard(store SessionUpdater, logger *slog.Logger) *CSRFGuard {
	return &CSRFGuard{
		store:  store,
		logger: logger,
	}
}

// IssueToken returns the session's token, generating and persisting one on first use.
// sess is updated in place with the persisted value.
func (g *CSRFGuard) IssueToken(ctx context.Context, sess *models.Session) (string, error) {
	if sess == nil {
		return "", models.ErrSessionExpired
	}
	if sess.CSRFToken != "" {
		return sess.CSRFToken, nil
	}

	token, err := RandomToken()
	if err != nil {
		return "", models.NewInfrastructureError("csrf.issue", err)
	}

	// A concurrent request may have won the race; keep whichever token landed first.
	updated, err := g.store.Update(ctx, sess.ID, func(s *models.Session) error {
		if s.CSRFToken == "" {
			s.CSRFToken = token
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrSessionExpired
		}
		g.logger.Error("failed to persist csrf token",
			slog.String("session_ref", pkglogger.Fingerprint(sess.ID)),
			slog.Any("error", err))
		return "", models.NewInfrastructureError("csrf.issue", err)
	}

	sess.CSRFToken = updated.CSRFToken
	return sess.CSRFToken, nil
}

// Verify reports whether supplied equals the session's token.
// Both values must be non-empty; the comparison does not exit early on a mismatching byte.
func (g *CSRFGuard) Verify(sess *models.Session, supplied string) bool {
	if sess == nil || sess.CSRFToken == "" || supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sess.CSRFToken), []byte(supplied)) == 1
}

// RequireValid returns models.ErrCSRFInvalid unless Verify succeeds.
func (g *CSRFGuard) RequireValid(sess *models.Session, supplied string) error {
	if !g.Verify(sess, supplied) {
		return models.ErrCSRFInvalid
	}
	return nil
}
