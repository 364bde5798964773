package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/models"
	pkgauth "github.com/BradenHooton/fieldnotes/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

// MockUserStore implements UserStore for testing. Unset funcs fall back to
// an in-memory user table.
type MockUserStore struct {
	FindByIdentifierFunc func(ctx context.Context, identifier string) (*models.UserRecord, error)
	UpdateLastLoginFunc  func(ctx context.Context, userID string, at time.Time) error
	UpdatePasswordFunc   func(ctx context.Context, userID, passwordHash string) error

	mu          sync.Mutex
	users       map[string]*models.UserRecord // by email
	verifyCalls int
	lookups     int
}

func NewMockUserStore(users ...*models.UserRecord) *MockUserStore {
	m := &MockUserStore{users: map[string]*models.UserRecord{}}
	for _, u := range users {
		m.users[u.Email] = u
	}
	return m
}

func (m *MockUserStore) FindByIdentifier(ctx context.Context, identifier string) (*models.UserRecord, error) {
	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()
	if m.FindByIdentifierFunc != nil {
		return m.FindByIdentifierFunc(ctx, identifier)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[identifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *MockUserStore) VerifyPassword(record *models.UserRecord, plaintext string) bool {
	m.mu.Lock()
	m.verifyCalls++
	m.mu.Unlock()
	return pkgauth.ComparePassword(record.PasswordHash, plaintext) == nil
}

func (m *MockUserStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, userID, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			t := at
			u.LastLoginAt = &t
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MockUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, userID, passwordHash)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			u.PasswordHash = passwordHash
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MockUserStore) VerifyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyCalls
}

func (m *MockUserStore) Lookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

// MockMailer records sent reset links
type MockMailer struct {
	SendFunc func(ctx context.Context, email, link string, expiresAt time.Time) error

	mu    sync.Mutex
	Links []string
}

func (m *MockMailer) SendPasswordReset(ctx context.Context, email, link string, expiresAt time.Time) error {
	m.mu.Lock()
	m.Links = append(m.Links, link)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, email, link, expiresAt)
	}
	return nil
}

// MockAuditor records events in order
type MockAuditor struct {
	mu     sync.Mutex
	Events []AuditEvent
}

func (m *MockAuditor) Record(_ context.Context, event AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
}

func (m *MockAuditor) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Events))
	for i, e := range m.Events {
		out[i] = e.Action
	}
	return out
}

// testClock is a settable clock shared by the services under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastHasher keeps bcrypt tests quick
var fastHasher = pkgauth.Hasher{Cost: bcrypt.MinCost}

func mustHash(password string) string {
	h, err := fastHasher.Hash(password)
	if err != nil {
		panic(err)
	}
	return h
}
