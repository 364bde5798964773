package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/models"
)

// MemoryFailureStore keeps failure timestamps per identifier in process memory
type MemoryFailureStore struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewMemoryFailureStore creates an empty store
func NewMemoryFailureStore() *MemoryFailureStore {
	return &MemoryFailureStore{failures: make(map[string][]time.Time)}
}

// Append records a failure at at and keeps only the newest keep entries.
// Append and trim happen under one lock, so concurrent failures are never lost.
func (s *MemoryFailureStore) Append(ctx context.Context, identifier string, at time.Time, keep int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.failures[identifier], at)
	if keep > 0 && len(history) > keep {
		history = append([]time.Time(nil), history[len(history)-keep:]...)
	}
	s.failures[identifier] = history
	return nil
}

func (s *MemoryFailureStore) List(ctx context.Context, identifier string) (*models.FailedAttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return &models.FailedAttemptRecord{
		Identifier: identifier,
		Timestamps: append([]time.Time(nil), s.failures[identifier]...),
	}, nil
}

func (s *MemoryFailureStore) Clear(ctx context.Context, identifier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.failures, identifier)
	return nil
}

// Prune drops failures recorded before cutoff and returns how many were removed
func (s *MemoryFailureStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, history := range s.failures {
		kept := history[:0]
		for _, ts := range history {
			if ts.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, ts)
		}
		if len(kept) == 0 {
			delete(s.failures, id)
			continue
		}
		s.failures[id] = kept
	}
	return n, nil
}
