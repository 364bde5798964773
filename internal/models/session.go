package models

import "time"

// Identity holds the claims attached to an authenticated session.
// It never carries password material.
type Identity struct {
	UserID      string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	Role        string `json:"role"`
}

// Session is the server-side state behind one browser context
type Session struct {
	ID             string    `json:"id"`
	Identity       *Identity `json:"identity,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CSRFToken      string    `json:"csrf_token,omitempty"`
}

// IsAuthenticated reports whether an identity is attached. It does not check idle expiry.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.Identity != nil
}

// IdleFor returns how long the session has gone without activity at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// Touch advances LastActivityAt to now, never moving it backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Identity != nil {
		id := *s.Identity
		c.Identity = &id
	}
	return &c
}

// SessionState is the outcome of evaluating a session on a request.
type SessionState int

const (
	// SessionAnonymous means no identity is attached.
	SessionAnonymous SessionState = iota
	// SessionValid means the identity is attached and within the idle timeout.
	SessionValid
	// SessionExpiredNowTerminated means the idle timeout elapsed and the
	// session was destroyed by this evaluation.
	SessionExpiredNowTerminated
)

func (s SessionState) String() string {
	switch s {
	case SessionValid:
		return "valid"
	case SessionExpiredNowTerminated:
		return "expired"
	default:
		return "anonymous"
	}
}

// SessionHandle is what a request holds after the lifecycle manager loads its session.
type SessionHandle struct {
	Session *Session
	State   SessionState
	// PreviousID is the id the request arrived with when this handle's id differs from it.
	PreviousID string
	// Destroyed is set by logout; the transport identifier must be cleared.
	Destroyed bool
}

// IDChanged reports whether the transport identifier needs to be re-issued.
func (h *SessionHandle) IDChanged() bool {
	return h != nil && h.Session != nil && h.PreviousID != h.Session.ID
}
