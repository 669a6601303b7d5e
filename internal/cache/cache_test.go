package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type summaryEntry struct {
	Entity  string `json:"entity"`
	Summary string `json:"summary"`
}

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.DefaultTTL = time.Minute

	store, err := NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	in := summaryEntry{Entity: "Q193", Summary: "Saturn is the sixth planet from the Sun."}
	require.NoError(t, store.SetJSON(ctx, "wiki:summary:Q193", in, 0))

	var out summaryEntry
	require.NoError(t, store.GetJSON(ctx, "wiki:summary:Q193", &out))
	assert.Equal(t, in, out)
}

func TestRedisStore_MissAndExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	var out summaryEntry
	err := store.GetJSON(ctx, "wiki:summary:missing", &out)
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, store.SetJSON(ctx, "k", summaryEntry{Entity: "e"}, time.Second))
	mr.FastForward(2 * time.Second)

	err = store.GetJSON(ctx, "k", &out)
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestRedisStore_ClosedRejectsOps(t *testing.T) {
	store, _ := newTestRedisStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close()) // idempotent

	var out summaryEntry
	assert.Error(t, store.GetJSON(context.Background(), "k", &out))
	assert.Error(t, store.SetJSON(context.Background(), "k", out, 0))
}

func TestMemoryStore_RoundTripAndExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	in := summaryEntry{Entity: "Q6279", Summary: "Joe Biden is an American politician."}
	require.NoError(t, store.SetJSON(ctx, "k", in, 10*time.Millisecond))

	var out summaryEntry
	require.NoError(t, store.GetJSON(ctx, "k", &out))
	assert.Equal(t, in, out)

	time.Sleep(20 * time.Millisecond)
	err := store.GetJSON(ctx, "k", &out)
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestMemoryStore_ExpiredEntryDeletedOnRead(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SetJSON(ctx, "stale", summaryEntry{Entity: "e"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var out summaryEntry
	assert.True(t, errors.Is(store.GetJSON(ctx, "stale", &out), ErrCacheMiss))

	store.mu.RLock()
	_, present := store.entries["stale"]
	store.mu.RUnlock()
	assert.False(t, present, "expired entry removed on read")
}

func TestMemoryStore_PeriodicSweepEvictsUnreadExpiredEntries(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	// 写入后从不再读取的过期条目也必须被清掉
	require.NoError(t, store.SetJSON(ctx, "never-read", summaryEntry{Entity: "e"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	for i := 0; i < memorySweepEvery; i++ {
		require.NoError(t, store.SetJSON(ctx, "live", summaryEntry{Entity: "e"}, time.Minute))
	}

	store.mu.RLock()
	_, stale := store.entries["never-read"]
	_, live := store.entries["live"]
	store.mu.RUnlock()
	assert.False(t, stale, "sweep evicted the expired entry")
	assert.True(t, live)
}
