package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/models"
)

// MemorySessionStore keeps sessions in process memory. A single mutex
// serializes every write, so updates to one id can never interleave.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

// NewMemorySessionStore creates an empty store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*models.Session)}
}

// Create stores s under s.ID; an existing id yields models.ErrConflict
func (s *MemorySessionStore) Create(ctx context.Context, sess *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return models.ErrConflict
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return sess.Clone(), nil
}

// Update applies fn to a copy of the session and stores it if fn succeeds
func (s *MemorySessionStore) Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = id
	s.sessions[id] = working
	return working.Clone(), nil
}

// Rotate moves the session at oldID to newID after applying fn. The old id
// stops resolving in the same critical section.
func (s *MemorySessionStore) Rotate(ctx context.Context, oldID, newID string, fn func(*models.Session) error) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[oldID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if _, taken := s.sessions[newID]; taken {
		return nil, models.ErrConflict
	}
	working := current.Clone()
	if fn != nil {
		if err := fn(working); err != nil {
			return nil, err
		}
	}
	working.ID = newID
	delete(s.sessions, oldID)
	s.sessions[newID] = working
	return working.Clone(), nil
}

// Delete removes the session; deleting a missing id is not an error
func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// PurgeIdle drops sessions whose last activity is before cutoff and returns
// how many were removed. Expiry is still enforced on next touch; this only
// bounds memory for browsers that never come back.
func (s *MemorySessionStore) PurgeIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sess := range s.sessions {
		if sess.LastActivityAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
