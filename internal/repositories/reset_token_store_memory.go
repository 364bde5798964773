package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/models"
)

// MemoryResetTokenStore is an in-process reset token store keyed by user id
type MemoryResetTokenStore struct {
	mu     sync.Mutex
	tokens map[string]models.PasswordResetToken
}

func NewMemoryResetTokenStore() *MemoryResetTokenStore {
	return &MemoryResetTokenStore{tokens: make(map[string]models.PasswordResetToken)}
}

func (s *MemoryResetTokenStore) Upsert(ctx context.Context, token *models.PasswordResetToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.UserID] = *token
	return nil
}

func (s *MemoryResetTokenStore) ListActive(ctx context.Context, now time.Time) ([]*models.PasswordResetToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.PasswordResetToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		if t.IsLiveAt(now) {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryResetTokenStore) DeleteByUserID(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userID)
	return nil
}

func (s *MemoryResetTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if t.ExpiresAt.Before(now) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored rows, live or not
func (s *MemoryResetTokenStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
