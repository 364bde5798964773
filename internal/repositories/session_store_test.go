package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error)
	Rotate(ctx context.Context, oldID, newID string, fn func(*models.Session) error) (*models.Session, error)
	Delete(ctx context.Context, id string) error
}

func newRedisClientForTest(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func sessionStores(t *testing.T) map[string]sessionStore {
	client, _ := newRedisClientForTest(t)
	return map[string]sessionStore{
		"memory": NewMemorySessionStore(),
		"redis":  NewRedisSessionStore(client, time.Hour),
	}
}

func testSession(id string) *models.Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Session{ID: id, CreatedAt: now, LastActivityAt: now}
}

func TestSessionStore_CRUD(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, testSession("s1")))
			assert.ErrorIs(t, store.Create(ctx, testSession("s1")), models.ErrConflict)

			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "s1", got.ID)
			assert.False(t, got.IsAuthenticated())

			updated, err := store.Update(ctx, "s1", func(s *models.Session) error {
				s.Identity = &models.Identity{UserID: "u1", Email: "a@b.com"}
				s.CSRFToken = "tok"
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, "u1", updated.Identity.UserID)

			got, err = store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "tok", got.CSRFToken)
			assert.Equal(t, "a@b.com", got.Identity.Email)

			require.NoError(t, store.Delete(ctx, "s1"))
			_, err = store.Get(ctx, "s1")
			assert.ErrorIs(t, err, models.ErrNotFound)
			require.NoError(t, store.Delete(ctx, "s1"))

			_, err = store.Update(ctx, "missing", func(*models.Session) error { return nil })
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestSessionStore_UpdateAbortsOnCallbackError(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, testSession("s1")))

			boom := errors.New("boom")
			_, err := store.Update(ctx, "s1", func(s *models.Session) error {
				s.CSRFToken = "should-not-stick"
				return boom
			})
			assert.ErrorIs(t, err, boom)

			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, got.CSRFToken)
		})
	}
}

func TestSessionStore_Rotate(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession("old")
			s.CSRFToken = "csrf"
			s.Identity = &models.Identity{UserID: "u1"}
			require.NoError(t, store.Create(ctx, s))
			require.NoError(t, store.Create(ctx, testSession("taken")))

			_, err := store.Rotate(ctx, "old", "taken", nil)
			assert.ErrorIs(t, err, models.ErrConflict)

			rotated, err := store.Rotate(ctx, "old", "new", func(s *models.Session) error {
				s.CreatedAt = s.CreatedAt.Add(time.Hour)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, "new", rotated.ID)
			assert.Equal(t, "csrf", rotated.CSRFToken)
			assert.Equal(t, "u1", rotated.Identity.UserID)

			_, err = store.Get(ctx, "old")
			assert.ErrorIs(t, err, models.ErrNotFound)
			got, err := store.Get(ctx, "new")
			require.NoError(t, err)
			assert.Equal(t, s.CreatedAt.Add(time.Hour), got.CreatedAt)

			_, err = store.Rotate(ctx, "old", "newer", nil)
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestSessionStore_ConcurrentUpdatesAreSerialized(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, testSession("s1")))

			const writers = 4
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Update(ctx, "s1", func(s *models.Session) error {
						s.LastActivityAt = s.LastActivityAt.Add(time.Minute)
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, testSession("s1").LastActivityAt.Add(writers*time.Minute), got.LastActivityAt)
		})
	}
}

func TestMemorySessionStore_ReturnsCopies(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	s := testSession("s1")
	s.Identity = &models.Identity{UserID: "u1"}
	require.NoError(t, store.Create(ctx, s))

	s.Identity.UserID = "mutated"
	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.Identity.UserID)

	got.Identity.UserID = "mutated-again"
	again, _ := store.Get(ctx, "s1")
	assert.Equal(t, "u1", again.Identity.UserID)
}

func TestMemorySessionStore_PurgeIdle(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := &models.Session{ID: "stale", LastActivityAt: base.Add(-5 * time.Hour)}
	fresh := &models.Session{ID: "fresh", LastActivityAt: base}
	require.NoError(t, store.Create(ctx, stale))
	require.NoError(t, store.Create(ctx, fresh))

	n, err := store.PurgeIdle(ctx, base.Add(-4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.Len())
}

func TestRedisSessionStore_TTL(t *testing.T) {
	client, mr := newRedisClientForTest(t)
	store := NewRedisSessionStore(client, 4*time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1")))
	assert.Equal(t, 4*time.Hour, mr.TTL("session:s1"))

	mr.FastForward(3 * time.Hour)
	_, err := store.Update(ctx, "s1", func(*models.Session) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 4*time.Hour, mr.TTL("session:s1"), "writes refresh the ttl")

	mr.FastForward(4*time.Hour + time.Second)
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRedisSessionStore_ConnectionError(t *testing.T) {
	client, mr := newRedisClientForTest(t)
	store := NewRedisSessionStore(client, time.Hour)
	mr.SetError("LOADING redis is loading the dataset")

	_, err := store.Get(context.Background(), "s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrNotFound)
}
