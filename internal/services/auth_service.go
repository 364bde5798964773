package services

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/auth"
	"github.com/BradenHooton/fieldnotes/internal/models"
	pkgauth "github.com/BradenHooton/fieldnotes/pkg/auth"
	pkglogger "github.com/BradenHooton/fieldnotes/pkg/logger"
)

// CredentialStore looks users up and checks their passwords
type CredentialStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.UserRecord, error)
	VerifyPassword(record *models.UserRecord, plaintext string) bool
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

// UserStore is the credential store plus the password write used by resets
type UserStore interface {
	CredentialStore
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// AuthConfig holds configuration for the login and reset flows
type AuthConfig struct {
	ResetURLBase string
	// ResetMaxRequests caps reset emails per identifier per ResetWindow
	ResetMaxRequests int
	ResetWindow      time.Duration
	StoreTimeout     time.Duration
}

// AuthService runs the login and password reset flows on top of the
// session, throttle and reset token components.
type AuthService struct {
	users          UserStore
	sessions       *SessionService
	throttle       *BruteForceThrottle
	resets         *PasswordResetService
	mailer         Mailer
	audit          Auditor
	timing         *auth.TimingDelay
	passwordHasher TokenHasher
	metrics        *AuthMetrics
	config         AuthConfig
	logger         *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService creates a new AuthService. A nil passwordHasher uses bcrypt at BcryptCost.
func NewAuthService(
	users UserStore,
	sessions *SessionService,
	throttle *BruteForceThrottle,
	resets *PasswordResetService,
	mailer Mailer,
	audit Auditor,
	timing *auth.TimingDelay,
	passwordHasher TokenHasher,
	metrics *AuthMetrics,
	config AuthConfig,
	logger *slog.Logger,
) *AuthService {
	if passwordHasher == nil {
		passwordHasher = pkgauth.NewPasswordHasher()
	}
	if config.ResetMaxRequests <= 0 {
		config.ResetMaxRequests = 3
	}
	if config.ResetWindow <= 0 {
		config.ResetWindow = time.Hour
	}
	return &AuthService{
		users:          users,
		sessions:       sessions,
		throttle:       throttle,
		resets:         resets,
		mailer:         mailer,
		audit:          audit,
		timing:         timing,
		passwordHasher: passwordHasher,
		metrics:        metrics,
		config:         config,
		logger:         logger,
	}
}

// Login authenticates identifier/password and attaches the identity to h under a new id.
// The throttle is consulted before the credential store is touched.
func (s *AuthService) Login(ctx context.Context, h *models.SessionHandle, identifier, password string) (*models.Identity, error) {
	start := time.Now()
	identifier = NormalizeIdentifier(identifier)
	sessionID := sessionIDOf(h)

	if identifier == "" || password == "" {
		s.timing.WaitFrom(ctx, start)
		return nil, models.ErrInvalidCredentials
	}

	blocked, err := s.throttle.IsBlocked(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if blocked {
		s.metrics.loginResult(ctx, "throttled")
		s.audit.Record(ctx, AuditEvent{
			Action:    models.AuditActionLoginThrottled,
			SessionID: sessionID,
			Details:   map[string]string{"identifier": maskIdentifier(identifier)},
		})
		return nil, models.ErrThrottled
	}

	fctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	user, err := s.users.FindByIdentifier(fctx, identifier)
	cancel()

	switch {
	case errors.Is(err, models.ErrNotFound):
		// Burn a hash comparison so unknown users cost the same as wrong passwords
		s.passwordHasher.Matches(s.placeholderHash(), password)
		return nil, s.failLogin(ctx, start, identifier, sessionID, "", "unknown_identifier")
	case err != nil:
		s.logger.ErrorContext(ctx, "credential lookup failed", slog.Any("error", err))
		return nil, models.NewInfrastructureError("credentials.find", err)
	}

	if !s.users.VerifyPassword(user, password) {
		return nil, s.failLogin(ctx, start, identifier, sessionID, user.ID, "wrong_password")
	}

	if err := s.throttle.Clear(ctx, identifier); err != nil {
		s.logger.WarnContext(ctx, "failed to clear failure history", slog.Any("error", err))
	}

	identity := user.Identity()
	if err := s.sessions.Login(ctx, h, identity); err != nil {
		return nil, err
	}

	s.metrics.loginResult(ctx, "success")
	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", identity.UserID),
		slog.String("email", pkglogger.SanitizedEmail(identity.Email)))
	return &identity, nil
}

func (s *AuthService) failLogin(ctx context.Context, start time.Time, identifier, sessionID, userID, reason string) error {
	if err := s.throttle.RecordFailure(ctx, identifier); err != nil {
		return err
	}

	s.metrics.loginResult(ctx, "failed")
	s.audit.Record(ctx, AuditEvent{
		Action:    models.AuditActionLoginFailed,
		UserID:    userID,
		SessionID: sessionID,
		Details: map[string]string{
			"identifier": maskIdentifier(identifier),
			"reason":     reason,
		},
	})

	s.timing.WaitFrom(ctx, start)
	return models.ErrInvalidCredentials
}

// RequestPasswordReset emails a reset link when the account exists. It
// returns nil in every case so callers cannot learn whether it does.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	start := time.Now()
	defer s.timing.WaitFrom(ctx, start)

	identifier := NormalizeIdentifier(email)
	if identifier == "" {
		return nil
	}

	scoped := resetScope + identifier
	blocked, err := s.throttle.IsBlockedWith(ctx, scoped, s.config.ResetMaxRequests, s.config.ResetWindow)
	if err != nil {
		return nil
	}
	if blocked {
		s.logger.WarnContext(ctx, "password reset requests throttled", slog.String("identifier", maskIdentifier(scoped)))
		return nil
	}
	if err := s.throttle.RecordFailure(ctx, scoped); err != nil {
		return nil
	}

	fctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	user, err := s.users.FindByIdentifier(fctx, identifier)
	cancel()
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "credential lookup failed during reset request", slog.Any("error", err))
		}
		return nil
	}

	raw, expiresAt, err := s.resets.Generate(ctx, user.ID)
	if err != nil {
		return nil
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, s.resetLink(raw), expiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to deliver password reset", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.audit.Record(ctx, AuditEvent{
		Action: models.AuditActionPasswordResetRequested,
		UserID: user.ID,
	})
	return nil
}

// CompletePasswordReset sets a new password for the owner of rawToken and
// consumes the token
func (s *AuthService) CompletePasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	rc, err := s.resets.Verify(ctx, rawToken)
	if err != nil {
		return err
	}

	hash, err := s.passwordHasher.Hash(newPassword)
	if err != nil {
		return models.NewInfrastructureError("password.hash", err)
	}

	uctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	err = s.users.UpdatePassword(uctx, rc.UserID, hash)
	cancel()
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrResetTokenInvalid
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to update password", slog.String("user_id", rc.UserID), slog.Any("error", err))
		return models.NewInfrastructureError("credentials.update_password", err)
	}

	if err := s.resets.Invalidate(ctx, rc.UserID); err != nil {
		s.logger.ErrorContext(ctx, "password changed but reset token not invalidated",
			slog.String("user_id", rc.UserID), slog.Any("error", err))
	}

	s.audit.Record(ctx, AuditEvent{
		Action: models.AuditActionPasswordResetCompleted,
		UserID: rc.UserID,
	})
	return nil
}

func (s *AuthService) resetLink(raw string) string {
	return s.config.ResetURLBase + "?token=" + url.QueryEscape(raw)
}

func (s *AuthService) placeholderHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.passwordHasher.Hash("fieldnotes-placeholder-credential")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

func sessionIDOf(h *models.SessionHandle) string {
	if h == nil || h.Session == nil {
		return ""
	}
	return h.Session.ID
}
