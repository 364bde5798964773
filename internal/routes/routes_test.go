package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/auth"
	"github.com/BradenHooton/fieldnotes/internal/handlers"
	"github.com/BradenHooton/fieldnotes/internal/middleware"
	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/BradenHooton/fieldnotes/internal/repositories"
	"github.com/BradenHooton/fieldnotes/internal/routes"
	"github.com/BradenHooton/fieldnotes/internal/services"
	pkgauth "github.com/BradenHooton/fieldnotes/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Correct-Horse-9"

var fastHasher = pkgauth.Hasher{Cost: bcrypt.MinCost}

// userTable is a credential store keyed by email
type userTable struct {
	mu    sync.Mutex
	users map[string]*models.UserRecord
}

func (u *userTable) FindByIdentifier(ctx context.Context, identifier string) (*models.UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, ok := u.users[identifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (u *userTable) VerifyPassword(record *models.UserRecord, plaintext string) bool {
	return fastHasher.Matches(record.PasswordHash, plaintext)
}

func (u *userTable) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return nil
}

func (u *userTable) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, rec := range u.users {
		if rec.ID == userID {
			rec.PasswordHash = passwordHash
			return nil
		}
	}
	return models.ErrNotFound
}

type stack struct {
	server   *httptest.Server
	sessions *repositories.MemorySessionStore
	sink     *repositories.MemoryAuditSink
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hash, err := fastHasher.Hash(testPassword)
	require.NoError(t, err)
	users := &userTable{users: map[string]*models.UserRecord{
		"a@b.com": {ID: "42", Email: "a@b.com", PasswordHash: hash, Name: "Ada", Role: "user"},
	}}

	st := &stack{
		sessions: repositories.NewMemorySessionStore(),
		sink:     repositories.NewMemoryAuditSink(),
	}
	audit := services.NewAuditService(st.sink, logger, nil, time.Second)
	sessionSvc := services.NewSessionService(st.sessions, users, audit, services.DefaultSessionConfig(), logger)
	throttle := services.NewBruteForceThrottle(repositories.NewMemoryFailureStore(), services.DefaultThrottleConfig(), logger, nil)
	resets := services.NewPasswordResetService(repositories.NewMemoryResetTokenStore(), fastHasher, services.PasswordResetConfig{}, logger)
	authSvc := services.NewAuthService(users, sessionSvc, throttle, resets, services.NewLogMailer("test", logger), audit,
		nil, fastHasher, nil, services.AuthConfig{ResetURLBase: "http://localhost/reset"}, logger)

	router := routes.NewRouter(routes.Deps{
		Sessions:       sessionSvc,
		Flows:          authSvc,
		CSRF:           auth.NewCSRFGuard(st.sessions, logger),
		Audit:          audit,
		AuditReader:    st.sink,
		Health:         map[string]handlers.HealthChecker{},
		ThrottleWindow: throttle.Window(),
	}, routes.Config{
		Env:       "test",
		Cookies:   auth.CookieConfig{Name: "sid", SameSite: "strict"},
		RateLimit: middleware.RateLimitConfig{Requests: 100, Window: time.Minute},
		LoginPath: "/login",
	}, logger)

	st.server = httptest.NewServer(router)
	t.Cleanup(st.server.Close)
	return st
}

type browser struct {
	t      *testing.T
	client *http.Client
	base   string
}

func (s *stack) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:      t,
		client: &http.Client{Jar: jar, CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }},
		base:   s.server.URL,
	}
}

func (b *browser) do(method, path, csrf string, body any) (*http.Response, map[string]any) {
	b.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(b.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, b.base+path, &buf)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	if csrf != "" {
		req.Header.Set(auth.CSRFHeader, csrf)
	}
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (b *browser) sessionCookie() string {
	b.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, b.base, nil)
	for _, c := range b.client.Jar.Cookies(req.URL) {
		if c.Name == "sid" {
			return c.Value
		}
	}
	return ""
}

func (b *browser) csrfToken() string {
	b.t.Helper()
	resp, body := b.do(http.MethodGet, "/auth/csrf", "", nil)
	require.Equal(b.t, http.StatusOK, resp.StatusCode)
	token, _ := body["csrf_token"].(string)
	require.NotEmpty(b.t, token)
	return token
}

func TestLoginFlow_RotatesSessionAndKeepsCSRF(t *testing.T) {
	st := newStack(t)
	b := st.browser(t)

	token := b.csrfToken()
	anonID := b.sessionCookie()
	require.NotEmpty(t, anonID)

	resp, body := b.do(http.MethodPost, "/auth/login", token, map[string]string{"email": "a@b.com", "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := body["user"].(map[string]any)
	assert.Equal(t, "42", user["id"])
	_, hasPassword := user["password_hash"]
	assert.False(t, hasPassword)

	assert.NotEqual(t, anonID, b.sessionCookie())
	assert.Equal(t, token, b.csrfToken(), "token survives rotation")

	resp, _ = b.do(http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = b.do(http.MethodGet, "/me/audit", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["logs"])

	// The pre-login id is dead
	stale := st.browser(t)
	staleReq, _ := http.NewRequest(http.MethodGet, st.server.URL+"/me", nil)
	staleReq.AddCookie(&http.Cookie{Name: "sid", Value: anonID})
	staleResp, err := stale.client.Do(staleReq)
	require.NoError(t, err)
	staleResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, staleResp.StatusCode)
}

func TestLogout_WithoutCSRFIsRejected(t *testing.T) {
	st := newStack(t)
	b := st.browser(t)

	token := b.csrfToken()
	resp, _ := b.do(http.MethodPost, "/auth/login", token, map[string]string{"email": "a@b.com", "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionsBefore := st.sessions.Len()

	resp, _ = b.do(http.MethodPost, "/auth/logout", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = b.do(http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "session untouched")
	assert.Equal(t, sessionsBefore, st.sessions.Len())
	assert.Contains(t, st.sink.Actions(), models.AuditActionCSRFRejected)

	resp, _ = b.do(http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = b.do(http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_WithoutCSRFNeverChecksCredentials(t *testing.T) {
	st := newStack(t)
	b := st.browser(t)
	b.csrfToken()

	for i := 0; i < 6; i++ {
		resp, _ := b.do(http.MethodPost, "/auth/login", "forged", map[string]string{"email": "a@b.com", "password": "wrong"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	// No failures were recorded, so the real password still works
	resp, _ := b.do(http.MethodPost, "/auth/login", b.csrfToken(), map[string]string{"email": "a@b.com", "password": testPassword})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, st.sink.Actions(), models.AuditActionCSRFRejected, "anonymous rejections are only logged")
}

func TestLogin_ThrottledAfterRepeatedFailures(t *testing.T) {
	st := newStack(t)
	b := st.browser(t)
	token := b.csrfToken()

	for i := 0; i < 5; i++ {
		resp, _ := b.do(http.MethodPost, "/auth/login", token, map[string]string{"email": "a@b.com", "password": "wrong"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp, body := b.do(http.MethodPost, "/auth/login", token, map[string]string{"email": "a@b.com", "password": testPassword})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "900", resp.Header.Get("Retry-After"))
	assert.NotContains(t, body["message"], "5")
}

func TestMe_BrowserRedirectsToLogin(t *testing.T) {
	st := newStack(t)
	req, _ := http.NewRequest(http.MethodGet, st.server.URL+"/me", nil)
	req.Header.Set("Accept", "text/html")

	resp, err := st.browser(t).client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/login?next="))
}

func TestHealth_NoSessionCreated(t *testing.T) {
	st := newStack(t)
	resp, err := http.Get(st.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, st.sessions.Len())
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}
