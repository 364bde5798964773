package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/auth"
	"github.com/BradenHooton/fieldnotes/internal/models"
	pkglogger "github.com/BradenHooton/fieldnotes/pkg/logger"
)

// SessionStore persists sessions. Writes to one id must be serialized;
// Update and Rotate apply fn to a private copy and store it only on success.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error)
	Rotate(ctx context.Context, oldID, newID string, fn func(*models.Session) error) (*models.Session, error)
	Delete(ctx context.Context, id string) error
}

// LastLoginRecorder is the slice of the credential store login needs
type LastLoginRecorder interface {
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

// Auditor records security events without failing the caller
type Auditor interface {
	Record(ctx context.Context, event AuditEvent)
}

// SessionConfig holds configuration for session lifecycle
type SessionConfig struct {
	AbsoluteTimeout  time.Duration // idle time after which an authenticated session dies
	RotationInterval time.Duration
	StoreTimeout     time.Duration
}

// DefaultSessionConfig returns a 4h idle timeout and 30m rotation
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AbsoluteTimeout:  4 * time.Hour,
		RotationInterval: 30 * time.Minute,
		StoreTimeout:     2 * time.Second,
	}
}

// SessionService owns session creation, activity refresh, id rotation,
// idle expiry, login and logout.
type SessionService struct {
	store  SessionStore
	users  LastLoginRecorder
	audit  Auditor
	config SessionConfig
	logger *slog.Logger
	now    func() time.Time
	newID  func() (string, error)
}

// NewSessionService creates a new SessionService
func NewSessionService(store SessionStore, users LastLoginRecorder, audit Auditor, config SessionConfig, logger *slog.Logger) *SessionService {
	return &SessionService{
		store:  store,
		users:  users,
		audit:  audit,
		config: config,
		logger: logger,
		now:    time.Now,
		newID:  auth.NewSessionID,
	}
}

// Init loads the session named by transportID, or starts an anonymous one
// under a server-generated id. Client-chosen ids are never adopted.
func (s *SessionService) Init(ctx context.Context, transportID string) (*models.SessionHandle, error) {
	if transportID != "" {
		sess, err := s.get(ctx, transportID)
		switch {
		case err == nil:
			return s.refresh(ctx, sess, transportID)
		case !errors.Is(err, models.ErrNotFound):
			return nil, models.NewInfrastructureError("session.get", err)
		}
	}

	sess, err := s.createAnonymous(ctx)
	if err != nil {
		return nil, err
	}
	return &models.SessionHandle{Session: sess, State: models.SessionAnonymous, PreviousID: transportID}, nil
}

// refresh expires, rotates or touches a loaded session
func (s *SessionService) refresh(ctx context.Context, sess *models.Session, transportID string) (*models.SessionHandle, error) {
	now := s.now()
	handle := &models.SessionHandle{Session: sess, PreviousID: transportID}

	if s.idleExpired(sess, now) {
		if err := s.terminate(ctx, handle); err != nil {
			return nil, err
		}
		return handle, nil
	}

	var (
		updated *models.Session
		err     error
	)
	if sess.IsAuthenticated() && now.Sub(sess.CreatedAt) > s.config.RotationInterval {
		updated, err = s.rotate(ctx, sess.ID, func(cur *models.Session) error {
			cur.Touch(now)
			cur.CreatedAt = now
			return nil
		})
		if err == nil {
			s.audit.Record(ctx, AuditEvent{
				Action:    models.AuditActionSessionRotated,
				UserID:    updated.Identity.UserID,
				SessionID: updated.ID,
				Details:   map[string]string{"previous_session_ref": pkglogger.Fingerprint(sess.ID)},
			})
		}
	} else {
		updated, err = s.update(ctx, sess.ID, func(cur *models.Session) error {
			cur.Touch(now)
			return nil
		})
	}

	if errors.Is(err, models.ErrNotFound) {
		// Logged out or rotated by a concurrent request
		fresh, cerr := s.createAnonymous(ctx)
		if cerr != nil {
			return nil, cerr
		}
		handle.Session = fresh
		handle.State = models.SessionAnonymous
		return handle, nil
	}
	if err != nil {
		return nil, models.NewInfrastructureError("session.refresh", err)
	}

	handle.Session = updated
	handle.State = stateOf(updated)
	return handle, nil
}

// Evaluate is the explicit state transition behind IsAuthenticated. An
// authenticated session past the idle timeout is destroyed here and the
// handle switched to a fresh anonymous session.
func (s *SessionService) Evaluate(ctx context.Context, h *models.SessionHandle) (models.SessionState, error) {
	if h == nil || h.Session == nil {
		return models.SessionAnonymous, nil
	}
	if s.idleExpired(h.Session, s.now()) {
		if err := s.terminate(ctx, h); err != nil {
			return models.SessionAnonymous, err
		}
		return models.SessionExpiredNowTerminated, nil
	}
	h.State = stateOf(h.Session)
	return h.State, nil
}

// IsAuthenticated reports whether h carries a live identity. It may tear the session down.
func (s *SessionService) IsAuthenticated(ctx context.Context, h *models.SessionHandle) (bool, error) {
	state, err := s.Evaluate(ctx, h)
	if err != nil {
		return false, err
	}
	return state == models.SessionValid, nil
}

// RequireAuthenticated returns models.ErrSessionExpired unless h is authenticated
func (s *SessionService) RequireAuthenticated(ctx context.Context, h *models.SessionHandle) error {
	ok, err := s.IsAuthenticated(ctx, h)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrSessionExpired
	}
	return nil
}

// Login attaches identity under a new session id, keeping the CSRF token.
func (s *SessionService) Login(ctx context.Context, h *models.SessionHandle, identity models.Identity) error {
	if h == nil || h.Session == nil {
		return models.ErrSessionExpired
	}
	now := s.now()

	uctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	err := s.users.UpdateLastLogin(uctx, identity.UserID, now)
	cancel()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record last login", slog.String("user_id", identity.UserID), slog.Any("error", err))
		return models.NewInfrastructureError("credentials.update_last_login", err)
	}

	apply := func(cur *models.Session) error {
		id := identity
		cur.Identity = &id
		cur.CreatedAt = now
		cur.LastActivityAt = now
		return nil
	}

	updated, err := s.rotate(ctx, h.Session.ID, apply)
	if errors.Is(err, models.ErrNotFound) {
		updated, err = s.createWith(ctx, apply)
	}
	if err != nil {
		return models.NewInfrastructureError("session.login", err)
	}

	h.Session = updated
	h.State = models.SessionValid
	h.Destroyed = false

	s.audit.Record(ctx, AuditEvent{
		Action:    models.AuditActionLogin,
		UserID:    identity.UserID,
		SessionID: updated.ID,
	})
	return nil
}

// Logout destroys all session state. Only an authenticated session is audited.
func (s *SessionService) Logout(ctx context.Context, h *models.SessionHandle) error {
	if h == nil || h.Session == nil {
		return nil
	}

	if h.Session.IsAuthenticated() {
		s.audit.Record(ctx, AuditEvent{
			Action:    models.AuditActionLogout,
			UserID:    h.Session.Identity.UserID,
			SessionID: h.Session.ID,
		})
	}

	if err := s.delete(ctx, h.Session.ID); err != nil {
		return models.NewInfrastructureError("session.logout", err)
	}

	h.Session = nil
	h.State = models.SessionAnonymous
	h.Destroyed = true
	return nil
}

func (s *SessionService) idleExpired(sess *models.Session, now time.Time) bool {
	return sess.IsAuthenticated() && sess.IdleFor(now) > s.config.AbsoluteTimeout
}

// terminate is a forced logout: audit, delete, and continue anonymously
func (s *SessionService) terminate(ctx context.Context, h *models.SessionHandle) error {
	old := h.Session
	s.audit.Record(ctx, AuditEvent{
		Action:    models.AuditActionSessionExpired,
		UserID:    old.Identity.UserID,
		SessionID: old.ID,
		Details:   map[string]string{"idle": old.IdleFor(s.now()).Truncate(time.Second).String()},
	})

	if err := s.delete(ctx, old.ID); err != nil {
		return models.NewInfrastructureError("session.expire", err)
	}

	fresh, err := s.createAnonymous(ctx)
	if err != nil {
		return err
	}
	h.Session = fresh
	h.State = models.SessionExpiredNowTerminated
	return nil
}

func (s *SessionService) createAnonymous(ctx context.Context) (*models.Session, error) {
	sess, err := s.createWith(ctx, nil)
	if err != nil {
		return nil, models.NewInfrastructureError("session.create", err)
	}
	return sess, nil
}

// createWith stores a new session, retrying once on the astronomically
// unlikely id collision
func (s *SessionService) createWith(ctx context.Context, fn func(*models.Session) error) (*models.Session, error) {
	now := s.now()
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, err
		}
		sess := &models.Session{ID: id, CreatedAt: now, LastActivityAt: now}
		if fn != nil {
			if err := fn(sess); err != nil {
				return nil, err
			}
		}

		cctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
		lastErr = s.store.Create(cctx, sess)
		cancel()
		if lastErr == nil {
			return sess, nil
		}
		if !errors.Is(lastErr, models.ErrConflict) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (s *SessionService) rotate(ctx context.Context, oldID string, fn func(*models.Session) error) (*models.Session, error) {
	newID, err := s.newID()
	if err != nil {
		return nil, err
	}
	ctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.store.Rotate(ctx, oldID, newID, fn)
}

func (s *SessionService) get(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.store.Get(ctx, id)
}

func (s *SessionService) update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	ctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.store.Update(ctx, id, fn)
}

func (s *SessionService) delete(ctx context.Context, id string) error {
	ctx, cancel := boundedContext(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.store.Delete(ctx, id)
}

func stateOf(sess *models.Session) models.SessionState {
	if sess.IsAuthenticated() {
		return models.SessionValid
	}
	return models.SessionAnonymous
}
