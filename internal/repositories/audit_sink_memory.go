package repositories

import (
	"context"
	"sync"

	"github.com/BradenHooton/fieldnotes/internal/models"
)

// MemoryAuditSink collects audit entries in memory
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []models.AuditLogEntry
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns a copy of everything appended so far, oldest first
func (s *MemoryAuditSink) Entries() []models.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditLogEntry(nil), s.entries...)
}

// Actions returns the action of every entry, oldest first
func (s *MemoryAuditSink) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

// ListByUserID returns up to limit entries for userID, newest first
func (s *MemoryAuditSink) ListByUserID(ctx context.Context, userID string, limit int) ([]*models.AuditLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.AuditLogEntry, 0)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if e := s.entries[i]; e.UserID != nil && *e.UserID == userID {
			out = append(out, &e)
		}
	}
	return out, nil
}
