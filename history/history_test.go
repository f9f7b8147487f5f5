package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrouter/core"
)

func runStoreContract(t *testing.T, newStore func(t *testing.T) core.ConversationStore) {
	t.Run("append and fetch oldest first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			e, err := store.Append(ctx, "c1", core.ActorUser, core.TextPayload(fmt.Sprintf("m%d", i)))
			require.NoError(t, err)
			assert.NotEmpty(t, e.ID)
			assert.Equal(t, "c1", e.ConversationID)
			assert.False(t, e.Timestamp.IsZero())
		}

		got, err := store.FetchLastN(ctx, "c1", 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "m2", got[0].Payload.Text)
		assert.Equal(t, "m4", got[2].Payload.Text)

		all, err := store.FetchLastN(ctx, "c1", 100)
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})

	t.Run("unknown conversation is empty", func(t *testing.T) {
		store := newStore(t)
		got, err := store.FetchLastN(context.Background(), "missing", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("non-positive n is empty", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Append(context.Background(), "c1", core.ActorUser, core.TextPayload("x"))
		require.NoError(t, err)
		got, err := store.FetchLastN(context.Background(), "c1", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("structured payload round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, err := store.Append(ctx, "c1", "orchestrator", core.DataPayload(map[string]any{"k": "v"}))
		require.NoError(t, err)

		got, err := store.FetchLastN(ctx, "c1", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "orchestrator", got[0].Actor)
		assert.Equal(t, map[string]any{"k": "v"}, got[0].Payload.Data)
	})

	t.Run("concurrent appends are not lost", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Append(ctx, "c1", core.ActorUser, core.TextPayload(fmt.Sprintf("m%d", i)))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := store.FetchLastN(ctx, "c1", 100)
		require.NoError(t, err)
		assert.Len(t, got, 20)
	})

	t.Run("conversations are isolated", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, err := store.Append(ctx, "a", core.ActorUser, core.TextPayload("for a"))
		require.NoError(t, err)
		_, err = store.Append(ctx, "b", core.ActorUser, core.TextPayload("for b"))
		require.NoError(t, err)

		got, err := store.FetchLastN(ctx, "a", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "for a", got[0].Payload.Text)
	})
}

func TestNewEntryID_SameInstantIsUnique(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)

	seen := make(map[string]struct{})
	prev := ""
	for i := 0; i < 100; i++ {
		id := newEntryID(ts)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNewEntryID_Concurrent(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = make(map[string]struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := newEntryID(ts)
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 400)
}

func TestStores_SameTimestampAppendsKeepDistinctIDs(t *testing.T) {
	fixed := func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

	mem := NewInMemoryStore()
	mem.now = fixed

	lite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lite.Close() })
	lite.now = fixed

	for name, store := range map[string]core.ConversationStore{"memory": mem, "sqlite": lite} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := store.Append(ctx, "c1", core.ActorUser, core.TextPayload("one"))
			require.NoError(t, err)
			second, err := store.Append(ctx, "c1", core.ActorUser, core.TextPayload("two"))
			require.NoError(t, err)

			assert.NotEqual(t, first.ID, second.ID)
			assert.Equal(t, first.Timestamp, second.Timestamp)

			got, err := store.FetchLastN(ctx, "c1", 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "one", got[0].Payload.Text)
			assert.Equal(t, "two", got[1].Payload.Text)
		})
	}
}

func TestInMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) core.ConversationStore { return NewInMemoryStore() })
}

func TestInMemoryStore_FetchReturnsCopies(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_, err := store.Append(ctx, "c1", core.ActorUser, core.DataPayload(map[string]any{"k": "v"}))
	require.NoError(t, err)

	got, err := store.FetchLastN(ctx, "c1", 1)
	require.NoError(t, err)
	got[0].Payload.Data["k"] = "mutated"

	again, err := store.FetchLastN(ctx, "c1", 1)
	require.NoError(t, err)
	assert.Equal(t, "v", again[0].Payload.Data["k"])
	assert.Equal(t, 1, store.Len("c1"))
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) core.ConversationStore {
		t.Helper()
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestSQLiteStore_CorruptPayloadDegradesToText(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.Exec(
		"INSERT INTO history (id, conversation_id, actor, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		"x", "c1", core.ActorUser, "not json at all", time.Now().UTC().Format(time.RFC3339Nano),
	)
	require.NoError(t, err)

	got, err := store.FetchLastN(context.Background(), "c1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "not json at all", got[0].Payload.Text)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("AGENTROUTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTROUTER_TEST_REDIS_ADDR not set")
	}

	runStoreContract(t, func(t *testing.T) core.ConversationStore {
		t.Helper()
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { client.Close() })
		prefix := fmt.Sprintf("agentrouter:test:%s:%d:", t.Name(), time.Now().UnixNano())
		return NewRedisStore(client, func(o *RedisStoreOptions) {
			o.KeyPrefix = prefix
			o.TTL = time.Minute
		})
	})
}

func TestDecodeRecord_Corrupt(t *testing.T) {
	e := decodeRecord("c1", "garbage")
	assert.Equal(t, "garbage", e.Payload.Text)
	assert.Equal(t, "c1", e.ConversationID)
}

func TestWindow(t *testing.T) {
	s, e := window(5, 3)
	assert.Equal(t, 2, s)
	assert.Equal(t, 5, e)
	s, e = window(2, 10)
	assert.Equal(t, 0, s)
	assert.Equal(t, 2, e)
	s, e = window(2, 0)
	assert.Equal(t, s, e)
}
