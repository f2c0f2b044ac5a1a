package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgellow/handoff/internal/idp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStorage() (*MemoryStorage, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStorage()
	store.now = clock.Now
	return store, clock
}

func TestMemoryStorageUpsertUser(t *testing.T) {
	store, clock := newTestStorage()
	ctx := context.Background()

	identity := idp.Identity{
		Subject: "12345",
		Email:   "User@Example.com",
		Name:    "Test User",
		Picture: "https://example.com/a.png",
	}

	first, err := store.UpsertUser(ctx, "github", identity)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "user@example.com", first.Email)
	assert.Equal(t, first.FirstSeen, first.LastSeen)

	clock.Advance(time.Hour)
	identity.Name = "Renamed"
	second, err := store.UpsertUser(ctx, "github", identity)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same provider and subject must map to the same user")
	assert.Equal(t, "Renamed", second.Name)
	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	assert.Equal(t, first.FirstSeen.Add(time.Hour), second.LastSeen)

	other, err := store.UpsertUser(ctx, "google", identity)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "subjects are scoped per provider")

	got, err := store.GetUser(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	_, err = store.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStorageSessions(t *testing.T) {
	store, clock := newTestStorage()
	ctx := context.Background()

	session := &Session{
		ID:        "hash-1",
		UserID:    "user-1",
		Provider:  "github",
		Kind:      SessionBrowser,
		CreatedAt: clock.Now(),
		ExpiresAt: clock.Now().Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(ctx, session))

	got, err := store.GetSession(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, SessionBrowser, got.Kind)

	clock.Advance(time.Hour)
	_, err = store.GetSession(ctx, "hash-1")
	assert.ErrorIs(t, err, ErrSessionNotFound, "expired sessions are not returned")

	require.NoError(t, store.DeleteSession(ctx, "hash-1"))
	require.NoError(t, store.DeleteSession(ctx, "hash-1"), "delete is idempotent")
	_, err = store.GetSession(ctx, "hash-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStorageCallbackTokens(t *testing.T) {
	store, clock := newTestStorage()
	ctx := context.Background()

	token := &CallbackToken{
		KeyHash:   "key-hash",
		UserID:    "user-1",
		CreatedAt: clock.Now(),
		ExpiresAt: clock.Now().Add(5 * time.Minute),
	}
	require.NoError(t, store.StoreCallbackToken(ctx, token))

	got, err := store.ConsumeCallbackToken(ctx, "key-hash")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)

	_, err = store.ConsumeCallbackToken(ctx, "key-hash")
	assert.ErrorIs(t, err, ErrCallbackTokenNotFound, "tokens are single use")

	require.NoError(t, store.StoreCallbackToken(ctx, &CallbackToken{
		KeyHash:   "expiring",
		UserID:    "user-1",
		ExpiresAt: clock.Now().Add(time.Minute),
	}))
	clock.Advance(2 * time.Minute)
	_, err = store.ConsumeCallbackToken(ctx, "expiring")
	assert.ErrorIs(t, err, ErrCallbackTokenNotFound)
}

func TestMemoryStorageConsumeIsAtomic(t *testing.T) {
	store, clock := newTestStorage()
	ctx := context.Background()

	require.NoError(t, store.StoreCallbackToken(ctx, &CallbackToken{
		KeyHash:   "contended",
		UserID:    "user-1",
		ExpiresAt: clock.Now().Add(time.Minute),
	}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeCallbackToken(ctx, "contended"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestMemoryStorageCleanupExpired(t *testing.T) {
	store, clock := newTestStorage()
	ctx := context.Background()
	now := clock.Now()

	require.NoError(t, store.CreateSession(ctx, &Session{ID: "old", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, store.CreateSession(ctx, &Session{ID: "fresh", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, store.StoreCallbackToken(ctx, &CallbackToken{KeyHash: "old", ExpiresAt: now.Add(time.Minute)}))

	clock.Advance(10 * time.Minute)
	result, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Sessions: 1, CallbackTokens: 1}, result)
	assert.Equal(t, 2, result.Total())

	_, err = store.GetSession(ctx, "fresh")
	assert.NoError(t, err)
}

type countingStorage struct {
	*MemoryStorage
	mu    sync.Mutex
	calls int
}

func (c *countingStorage) CleanupExpired(ctx context.Context) (CleanupResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.MemoryStorage.CleanupExpired(ctx)
}

func (c *countingStorage) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestCleanupManager(t *testing.T) {
	store := &countingStorage{MemoryStorage: NewMemoryStorage()}
	manager := NewCleanupManager(store, 10*time.Millisecond, nil)

	manager.Start(context.Background())
	assert.Eventually(t, func() bool { return store.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	manager.Stop()

	calls := store.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, store.Calls(), "no cleanup runs after Stop")
}

func TestCleanupManagerReportsResults(t *testing.T) {
	store, clock := newTestStorage()
	ctx := context.Background()
	require.NoError(t, store.StoreCallbackToken(ctx, &CallbackToken{KeyHash: "a", ExpiresAt: clock.Now().Add(time.Minute)}))
	require.NoError(t, store.StoreCallbackToken(ctx, &CallbackToken{KeyHash: "b", ExpiresAt: clock.Now().Add(time.Minute)}))
	clock.Advance(time.Hour)

	var got []CleanupResult
	manager := NewCleanupManager(store, time.Hour, func(r CleanupResult) { got = append(got, r) })
	manager.RunOnce(ctx)
	manager.RunOnce(ctx)

	assert.Equal(t, []CleanupResult{{CallbackTokens: 2}, {}}, got)
}
