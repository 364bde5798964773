package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/auth"
	"github.com/BradenHooton/fieldnotes/internal/models"
	pkgauth "github.com/BradenHooton/fieldnotes/pkg/auth"
)

// ResetTokenStore holds at most one row per user
type ResetTokenStore interface {
	Upsert(ctx context.Context, token *models.PasswordResetToken) error
	ListActive(ctx context.Context, now time.Time) ([]*models.PasswordResetToken, error)
	DeleteByUserID(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenHasher is a one-way, salted hash for reset tokens
type TokenHasher interface {
	Hash(secret string) (string, error)
	Matches(hashed, secret string) bool
}

// DefaultResetTTL is how long a reset link stays usable
const DefaultResetTTL = time.Hour

// PasswordResetConfig holds configuration for reset tokens
type PasswordResetConfig struct {
	TokenTTL     time.Duration
	StoreTimeout time.Duration
}

// PasswordResetService issues, verifies and invalidates single-use reset tokens.
// Only hashes are stored, so verification scans the live rows.
type PasswordResetService struct {
	store  ResetTokenStore
	hasher TokenHasher
	config PasswordResetConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewPasswordResetService creates a new PasswordResetService. A nil hasher uses bcrypt.
func NewPasswordResetService(store ResetTokenStore, hasher TokenHasher, config PasswordResetConfig, logger *slog.Logger) *PasswordResetService {
	if hasher == nil {
		hasher = pkgauth.NewResetTokenHasher()
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultResetTTL
	}
	return &PasswordResetService{
		store:  store,
		hasher: hasher,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Generate replaces the user's token and returns the raw value for delivery
func (s *PasswordResetService) Generate(ctx context.Context, userID string) (string, time.Time, error) {
	raw, err := auth.RandomToken()
	if err != nil {
		return "", time.Time{}, models.NewInfrastructureError("reset.generate", err)
	}
	hash, err := s.hasher.Hash(raw)
	if err != nil {
		return "", time.Time{}, models.NewInfrastructureError("reset.hash", err)
	}

	now := s.now()
	token := &models.PasswordResetToken{
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.config.TokenTTL),
		CreatedAt: now,
	}

	sctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	defer cancel()
	if err := s.store.Upsert(sctx, token); err != nil {
		s.logger.ErrorContext(ctx, "failed to store password reset token", slog.String("user_id", userID), slog.Any("error", err))
		return "", time.Time{}, models.NewInfrastructureError("reset.upsert", err)
	}

	return raw, token.ExpiresAt, nil
}

// Verify finds the live row whose hash matches raw. Unknown, expired and
// replaced tokens all yield models.ErrResetTokenInvalid.
func (s *PasswordResetService) Verify(ctx context.Context, raw string) (*models.ResetContext, error) {
	if raw == "" || len(raw) > pkgauth.MaxPasswordLen {
		return nil, models.ErrResetTokenInvalid
	}

	now := s.now()
	sctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	defer cancel()

	active, err := s.store.ListActive(sctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list password reset tokens", slog.Any("error", err))
		return nil, models.NewInfrastructureError("reset.list_active", err)
	}

	for _, token := range active {
		if !token.IsLiveAt(now) {
			continue
		}
		if s.hasher.Matches(token.TokenHash, raw) {
			return &models.ResetContext{UserID: token.UserID, ExpiresAt: token.ExpiresAt}, nil
		}
	}
	return nil, models.ErrResetTokenInvalid
}

// Invalidate deletes the user's token
func (s *PasswordResetService) Invalidate(ctx context.Context, userID string) error {
	sctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	defer cancel()
	if err := s.store.DeleteByUserID(sctx, userID); err != nil {
		return models.NewInfrastructureError("reset.invalidate", err)
	}
	return nil
}

// SweepExpired deletes every row past its expiry. Running it concurrently is harmless.
func (s *PasswordResetService) SweepExpired(ctx context.Context) (int64, error) {
	sctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	defer cancel()
	n, err := s.store.DeleteExpired(sctx, s.now())
	if err != nil {
		return 0, models.NewInfrastructureError("reset.sweep", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "swept expired password reset tokens", slog.Int64("count", n))
	}
	return n, nil
}
