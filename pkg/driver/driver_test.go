package driver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/types"
)

type nopDriver struct{ backend types.Backend }

func (d *nopDriver) Backend() types.Backend { return d.backend }
func (d *nopDriver) Create(context.Context, CreateRequest) (*CreateResult, error) {
	return &CreateResult{}, nil
}
func (d *nopDriver) Start(context.Context, string) error                { return nil }
func (d *nopDriver) Stop(context.Context, string, *time.Duration) error { return nil }
func (d *nopDriver) Remove(context.Context, string, bool) error         { return nil }
func (d *nopDriver) Status(context.Context, string) (types.ContainerState, map[string]any, error) {
	return types.ContainerStateRunning, nil, nil
}
func (d *nopDriver) WaitForReady(context.Context, *CreateResult, time.Duration) error {
	return nil
}

func resetRegistry() {
	registryMu.Lock()
	registry = make(map[string]Factory)
	registryMu.Unlock()
}

func TestRegisterAndNew(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	Register("fake", func(cfg *config.Config, deps Deps) (Driver, error) {
		return &nopDriver{backend: "fake"}, nil
	})

	drv, err := New("fake", config.Default(), Deps{})
	require.NoError(t, err)
	assert.Equal(t, types.Backend("fake"), drv.Backend())
}

func TestNewUnregistered(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	_, err := New("nope", config.Default(), Deps{})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestAvailableSorted(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	factory := func(cfg *config.Config, deps Deps) (Driver, error) {
		return &nopDriver{}, nil
	}
	Register("zeta", factory)
	Register("alpha", factory)
	Register("mid", factory)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, Available())
}

func TestRegisterDuplicatePanics(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	factory := func(cfg *config.Config, deps Deps) (Driver, error) {
		return &nopDriver{}, nil
	}
	Register("dup", factory)
	assert.Panics(t, func() { Register("dup", factory) })
	assert.Panics(t, func() { Register("nilfactory", nil) })
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "agentrun-a1b2c3", ContainerName("a1b2c3"))
}

func TestPollUntilImmediate(t *testing.T) {
	var calls atomic.Int32
	err := PollUntil(context.Background(), time.Hour, func(context.Context) (bool, error) {
		calls.Add(1)
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "first poll runs before any tick")
}

func TestPollUntilEventually(t *testing.T) {
	var calls atomic.Int32
	err := PollUntil(context.Background(), 5*time.Millisecond, func(context.Context) (bool, error) {
		return calls.Add(1) >= 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollUntilError(t *testing.T) {
	boom := errors.New("backend exploded")
	err := PollUntil(context.Background(), time.Hour, func(context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPollUntilContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := PollUntil(ctx, 5*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
