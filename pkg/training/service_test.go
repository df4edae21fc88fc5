package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var regCounter int64

// regName returns a unique environment type per call so tests can
// register freely against the process-wide registry.
func regName() string {
	return fmt.Sprintf("stub-%d", atomic.AddInt64(&regCounter, 1))
}

type funcFactory struct {
	newFn  func(taskID, instanceID string, params map[string]any) (Environment, error)
	listFn func(split string, params map[string]any) ([]string, error)
}

func (f funcFactory) New(taskID, instanceID string, params map[string]any) (Environment, error) {
	return f.newFn(taskID, instanceID, params)
}

func (f funcFactory) QueryList(split string, params map[string]any) ([]string, error) {
	if f.listFn == nil {
		return nil, errors.New("no query list")
	}
	return f.listFn(split, params)
}

type stubEnv struct {
	initFn  func(params map[string]any) (any, error)
	stepFn  func(action, params map[string]any) (any, error)
	evalFn  func(messages []map[string]any, params map[string]any) (any, error)
	closeFn func() error
	closed  atomic.Bool
}

func (e *stubEnv) InitState(params map[string]any) (any, error) {
	if e.initFn != nil {
		return e.initFn(params)
	}
	return map[string]any{"observation": "ready"}, nil
}

func (e *stubEnv) Step(action, params map[string]any) (any, error) {
	if e.stepFn != nil {
		return e.stepFn(action, params)
	}
	return map[string]any{"observation": action["content"]}, nil
}

func (e *stubEnv) Evaluate(messages []map[string]any, params map[string]any) (any, error) {
	if e.evalFn != nil {
		return e.evalFn(messages, params)
	}
	return float64(len(messages)), nil
}

func (e *stubEnv) Info(messages []map[string]any, params map[string]any) (any, error) {
	return map[string]any{"messages": len(messages)}, nil
}

func (e *stubEnv) Close() error {
	e.closed.Store(true)
	if e.closeFn != nil {
		return e.closeFn()
	}
	return nil
}

// registerStub registers a factory handing out env and returns its
// environment type.
func registerStub(env *stubEnv) string {
	name := regName()
	Register(name, funcFactory{
		newFn: func(taskID, instanceID string, params map[string]any) (Environment, error) {
			return env, nil
		},
	})
	return name
}

func newIdleService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(0, 0, nil)
	svc.Init()
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return svc
}

func TestEpisodeLifecycle(t *testing.T) {
	env := &stubEnv{}
	name := registerStub(env)
	svc := newIdleService(t)
	ctx := context.Background()

	id, initState, err := svc.Create(ctx, name, "T0", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, map[string]any{"observation": "ready"}, initState)
	assert.Equal(t, 1, svc.Count())

	obs, err := svc.Step(ctx, id, map[string]any{"content": "hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"observation": "hello"}, obs)

	score, err := svc.Evaluate(ctx, id, []map[string]any{{"role": "assistant"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(1), score)

	info, err := svc.Info(ctx, id, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"messages": 0}, info)

	require.NoError(t, svc.Release(ctx, id))
	assert.True(t, env.closed.Load())
	assert.Equal(t, 0, svc.Count())

	_, err = svc.Step(ctx, id, nil, nil)
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestCreateUnknownEnvironment(t *testing.T) {
	svc := newIdleService(t)

	_, _, err := svc.Create(context.Background(), "never-registered", "T0", nil)
	assert.ErrorIs(t, err, ErrUnknownEnvironment)
}

func TestCreateInitFailureTearsDown(t *testing.T) {
	env := &stubEnv{
		initFn: func(params map[string]any) (any, error) {
			return nil, errors.New("dataset missing")
		},
	}
	name := registerStub(env)
	svc := newIdleService(t)

	_, _, err := svc.Create(context.Background(), name, "T0", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset missing")
	assert.Equal(t, 0, svc.Count())
	assert.True(t, env.closed.Load())
}

func TestStepsSerializedPerInstance(t *testing.T) {
	var inFlight, violations int32
	env := &stubEnv{
		stepFn: func(action, params map[string]any) (any, error) {
			if atomic.AddInt32(&inFlight, 1) != 1 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return "ok", nil
		},
	}
	name := registerStub(env)
	svc := newIdleService(t)
	ctx := context.Background()

	id, _, err := svc.Create(ctx, name, "T0", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Step(ctx, id, nil, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&violations), "concurrent entries into one environment")
}

func TestPanicReturnsErrorAndKeepsActorAlive(t *testing.T) {
	var calls int32
	env := &stubEnv{
		stepFn: func(action, params map[string]any) (any, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				panic("exploding episode")
			}
			return "recovered", nil
		},
	}
	name := registerStub(env)
	svc := newIdleService(t)
	ctx := context.Background()

	id, _, err := svc.Create(ctx, name, "T0", nil)
	require.NoError(t, err)

	_, err = svc.Step(ctx, id, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment panic")
	assert.Contains(t, err.Error(), "exploding episode")
	assert.Contains(t, err.Error(), "goroutine")

	obs, err := svc.Step(ctx, id, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", obs)
}

func TestReleaseUnknownInstance(t *testing.T) {
	svc := newIdleService(t)

	err := svc.Release(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestReleaseSurfacesCloseError(t *testing.T) {
	env := &stubEnv{
		closeFn: func() error { return errors.New("flush failed") },
	}
	name := registerStub(env)
	svc := newIdleService(t)
	ctx := context.Background()

	id, _, err := svc.Create(ctx, name, "T0", nil)
	require.NoError(t, err)

	err = svc.Release(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
	assert.Equal(t, 0, svc.Count())
}

func TestReaperReleasesIdleInstances(t *testing.T) {
	idleEnv := &stubEnv{}
	activeEnv := &stubEnv{}
	idleName := registerStub(idleEnv)
	activeName := registerStub(activeEnv)

	svc := NewService(20*time.Millisecond, 100*time.Millisecond, nil)
	svc.Init()
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	ctx := context.Background()

	_, _, err := svc.Create(ctx, idleName, "T0", nil)
	require.NoError(t, err)
	activeID, _, err := svc.Create(ctx, activeName, "T1", nil)
	require.NoError(t, err)

	// Keep one instance warm while the other goes idle.
	stopTouching := make(chan struct{})
	var touching sync.WaitGroup
	touching.Add(1)
	go func() {
		defer touching.Done()
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				svc.Step(ctx, activeID, nil, nil)
			case <-stopTouching:
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		return idleEnv.closed.Load() && svc.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, activeEnv.closed.Load())

	close(stopTouching)
	touching.Wait()

	require.Eventually(t, func() bool {
		return activeEnv.closed.Load() && svc.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProfileQueriesWithoutInstance(t *testing.T) {
	name := regName()
	Register(name, funcFactory{
		newFn: func(taskID, instanceID string, params map[string]any) (Environment, error) {
			return &stubEnv{}, nil
		},
		listFn: func(split string, params map[string]any) ([]string, error) {
			return []string{split + "-0", split + "-1"}, nil
		},
	})
	svc := newIdleService(t)

	list, err := svc.Profile(name, "train", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"train-0", "train-1"}, list)

	_, err = svc.Profile("never-registered", "train", nil)
	assert.ErrorIs(t, err, ErrUnknownEnvironment)
}

func TestShutdownReleasesEverything(t *testing.T) {
	envs := []*stubEnv{{}, {}, {}}
	svc := NewService(0, 0, nil)
	svc.Init()
	ctx := context.Background()

	for i, env := range envs {
		name := registerStub(env)
		_, _, err := svc.Create(ctx, name, fmt.Sprintf("T%d", i), nil)
		require.NoError(t, err)
	}
	require.Equal(t, 3, svc.Count())

	svc.Shutdown(ctx)
	assert.Equal(t, 0, svc.Count())
	for _, env := range envs {
		assert.True(t, env.closed.Load())
	}
}

func TestAvailableIncludesRegistered(t *testing.T) {
	name := registerStub(&stubEnv{})
	assert.Contains(t, Available(), name)
}
