package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/config"
)

func TestReconcileEvictsDeadPoolEntries(t *testing.T) {
	mgr, fake := newTestManager(t, func(cfg *config.Config) {
		cfg.Sandbox.PoolSize = 2
	})
	ctx := context.Background()

	require.NoError(t, mgr.WarmUp(ctx))
	require.Equal(t, 2, fake.creates())

	// The first pooled sandbox dies behind the manager's back.
	fake.mu.Lock()
	delete(fake.live, "h-1")
	fake.mu.Unlock()

	require.NoError(t, mgr.ReconcilePools(ctx))

	// The dead entry was torn down and the pool refilled to target.
	assert.Contains(t, fake.removedHandles(), "h-1")
	assert.Equal(t, 3, fake.creates())

	pools, err := mgr.PoolStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pools["base"])
}

func TestReconcileKeepsHealthyPool(t *testing.T) {
	mgr, fake := newTestManager(t, func(cfg *config.Config) {
		cfg.Sandbox.PoolSize = 2
	})
	ctx := context.Background()

	require.NoError(t, mgr.WarmUp(ctx))
	require.NoError(t, mgr.ReconcilePools(ctx))

	assert.Equal(t, 2, fake.creates())
	assert.Empty(t, fake.removedHandles())

	pools, err := mgr.PoolStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pools["base"])
}

func TestReconcileRefillsBelowTarget(t *testing.T) {
	mgr, fake := newTestManager(t, func(cfg *config.Config) {
		cfg.Sandbox.PoolSize = 2
	})
	ctx := context.Background()

	// No warmup: the pool starts empty and the sweep owes it two.
	require.NoError(t, mgr.ReconcilePools(ctx))

	assert.Equal(t, 2, fake.creates())
	pools, err := mgr.PoolStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pools["base"])
}

func TestReconcileIgnoresActiveSessions(t *testing.T) {
	mgr, fake := newTestManager(t, nil) // pool target 0
	ctx := context.Background()

	container, err := mgr.Connect(ctx, ConnectOptions{SessionID: "sess-r1"})
	require.NoError(t, err)

	// Even with the backend object gone, a live session is not the
	// sweep's to clean up.
	fake.mu.Lock()
	delete(fake.live, container.ContainerID)
	fake.mu.Unlock()

	require.NoError(t, mgr.ReconcilePools(ctx))

	got, err := mgr.Get(ctx, "sess-r1")
	require.NoError(t, err)
	assert.Equal(t, container.ContainerID, got.ContainerID)
	assert.Empty(t, fake.removedHandles())
}

func TestReconcileDropsCorruptPoolRecord(t *testing.T) {
	mgr, fake := newTestManager(t, func(cfg *config.Config) {
		cfg.Sandbox.PoolSize = 1
	})
	ctx := context.Background()

	pool := mgr.store.Queue(poolPrefix + "base")
	require.NoError(t, pool.Push(ctx, "not json"))

	require.NoError(t, mgr.ReconcilePools(ctx))

	// The garbage is gone and a real sandbox took its slot.
	assert.Equal(t, 1, fake.creates())
	pools, err := mgr.PoolStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pools["base"])
}
