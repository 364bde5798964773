package services

import (
	"testing"

	"github.com/BradenHooton/fieldnotes/internal/auth"
	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/BradenHooton/fieldnotes/internal/repositories"
)

type fixture struct {
	clock      *testClock
	store      *repositories.MemorySessionStore
	failures   *repositories.MemoryFailureStore
	resetStore *repositories.MemoryResetTokenStore
	users      *MockUserStore
	auditor    *MockAuditor
	mailer     *MockMailer
	sessions   *SessionService
	throttle   *BruteForceThrottle
	resets     *PasswordResetService
	auth       *AuthService
}

const testPassword = "Correct-Horse-9"

func testUser() *models.UserRecord {
	return &models.UserRecord{
		ID:           "42",
		Email:        "a@b.com",
		PasswordHash: mustHash(testPassword),
		Name:         "Ada",
		Role:         "user",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:      newTestClock(),
		store:      repositories.NewMemorySessionStore(),
		failures:   repositories.NewMemoryFailureStore(),
		resetStore: repositories.NewMemoryResetTokenStore(),
		users:      NewMockUserStore(testUser()),
		auditor:    &MockAuditor{},
		mailer:     &MockMailer{},
	}

	f.sessions = NewSessionService(f.store, f.users, f.auditor, DefaultSessionConfig(), discardLogger())
	f.sessions.now = f.clock.Now

	f.throttle = NewBruteForceThrottle(f.failures, DefaultThrottleConfig(), discardLogger(), nil)
	f.throttle.now = f.clock.Now

	f.resets = NewPasswordResetService(f.resetStore, fastHasher, PasswordResetConfig{TokenTTL: DefaultResetTTL}, discardLogger())
	f.resets.now = f.clock.Now

	f.auth = NewAuthService(
		f.users, f.sessions, f.throttle, f.resets, f.mailer, f.auditor,
		auth.NewTimingDelay(auth.TimingConfig{}), fastHasher, nil,
		AuthConfig{ResetURLBase: "https://fieldnotes.test/reset"},
		discardLogger(),
	)
	return f
}
