package collections

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stores returns both backends so every behavior is asserted against each.
func stores(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  rs,
	}
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			q := store.Queue("pool:base")

			_, ok, err := q.Pop(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, q.Push(ctx, "a"))
			require.NoError(t, q.Push(ctx, "b"))
			require.NoError(t, q.Push(ctx, "c"))

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			for _, want := range []string{"a", "b", "c"} {
				got, ok, err := q.Pop(ctx)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, want, got)
			}

			_, ok, err = q.Pop(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSetTestAndSet(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := store.Set("ports")

			added, err := s.Add(ctx, "49152")
			require.NoError(t, err)
			assert.True(t, added)

			added, err = s.Add(ctx, "49152")
			require.NoError(t, err)
			assert.False(t, added, "second add must lose the race")

			ok, err := s.Contains(ctx, "49152")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, s.Remove(ctx, "49152"))
			ok, err = s.Contains(ctx, "49152")
			require.NoError(t, err)
			assert.False(t, ok)

			// Removing an absent member is fine.
			require.NoError(t, s.Remove(ctx, "49152"))

			added, err = s.Add(ctx, "49152")
			require.NoError(t, err)
			assert.True(t, added, "removed member can be re-added")
		})
	}
}

func TestMapOperations(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := store.Map("sandboxes")

			_, ok, err := m.Get(ctx, "sess-1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, m.Set(ctx, "sess-1", `{"session_id":"sess-1"}`))
			require.NoError(t, m.Set(ctx, "sess-2", `{"session_id":"sess-2"}`))

			val, ok, err := m.Get(ctx, "sess-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `{"session_id":"sess-1"}`, val)

			keys, err := m.Keys(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"sess-1", "sess-2"}, keys)

			n, err := m.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			require.NoError(t, m.Delete(ctx, "sess-1"))
			_, ok, err = m.Get(ctx, "sess-1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, m.Delete(ctx, "sess-1"))
		})
	}
}

func TestSameNameSharesData(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Queue("shared").Push(ctx, "x"))
			got, ok, err := store.Queue("shared").Pop(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "x", got)
		})
	}
}

func TestDifferentNamesIsolated(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Queue("a").Push(ctx, "x"))
			_, ok, err := store.Queue("b").Pop(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestKindsIsolated(t *testing.T) {
	// A set and a map with the same name must not collide on redis keys.
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			added, err := store.Set("thing").Add(ctx, "m")
			require.NoError(t, err)
			require.True(t, added)

			require.NoError(t, store.Map("thing").Set(ctx, "k", "v"))

			ok, err := store.Set("thing").Contains(ctx, "m")
			require.NoError(t, err)
			assert.True(t, ok)

			val, ok, err := store.Map("thing").Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "v", val)
		})
	}
}

func TestMemoryStoreConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().Set("ports")

	const goroutines = 32
	var wg sync.WaitGroup
	wins := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := s.Add(ctx, "50000")
			assert.NoError(t, err)
			if added {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one goroutine wins the claim")
}

func TestRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore("127.0.0.1:1", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisKeyPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Queue("pool:base").Push(ctx, "x"))
	added, err := store.Set("ports").Add(ctx, "1")
	require.NoError(t, err)
	require.True(t, added)
	require.NoError(t, store.Map("sandboxes").Set(ctx, "k", "v"))

	for _, key := range []string{
		"agentrun:queue:pool:base",
		"agentrun:set:ports",
		"agentrun:map:sandboxes",
	} {
		assert.True(t, mr.Exists(key), fmt.Sprintf("expected key %s", key))
	}
}
