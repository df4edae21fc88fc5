package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/archive"
	"github.com/agentrun/agentrun/pkg/client"
	"github.com/agentrun/agentrun/pkg/collections"
	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/driver"
	"github.com/agentrun/agentrun/pkg/events"
	"github.com/agentrun/agentrun/pkg/images"
	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/mounts"
	"github.com/agentrun/agentrun/pkg/ports"
	"github.com/agentrun/agentrun/pkg/types"
)

const (
	// boxServicePort is the container-side port the control server
	// listens on.
	boxServicePort = 8000

	// boxBasePath is where the control server mounts its routers.
	boxBasePath = "/fastapi"

	// indexName is the collections map holding session records.
	indexName = "sandboxes"

	// poolPrefix namespaces the per-type warm pool queues.
	poolPrefix = "pool:"

	// refillBudget bounds one background refill run.
	refillBudget = 5 * time.Minute

	// typeMetaKey is where the sandbox type rides in the record.
	typeMetaKey = "sandbox_type"
)

// ErrSessionNotFound is returned for session IDs with no record.
var ErrSessionNotFound = errors.New("session not found")

// ConnectOptions selects what Connect attaches the caller to.
type ConnectOptions struct {
	// Type is the sandbox type; empty means the configured default.
	Type string

	// SessionID binds the sandbox to a caller session; empty generates
	// one.
	SessionID string

	// Version overrides the image tag. Version-pinned requests bypass
	// the pool, which only holds default-image sandboxes.
	Version string

	// Meta is merged into the container record.
	Meta map[string]any
}

// Options wires a Manager. Config, Driver, Resolver, Provisioner and
// Store are required; the rest default.
type Options struct {
	Config      *config.Config
	Driver      driver.Driver
	Resolver    *images.Resolver
	Arbiter     *ports.Arbiter
	Provisioner mounts.Provisioner
	Store       collections.Store
	Events      *events.Broker

	// TokenFn overrides runtime token generation in tests.
	TokenFn func() (string, error)

	// ReadyFn overrides the control-server readiness wait in tests. The
	// default dials the container's healthz route.
	ReadyFn func(ctx context.Context, container *types.Container, timeout time.Duration) error
}

// Manager owns the sandbox lifecycle: warm pools, session records,
// create and teardown. All state lives in the collections store, so
// workers sharing a store cooperate on the same pools and sessions.
type Manager struct {
	cfg         *config.Config
	driver      driver.Driver
	resolver    *images.Resolver
	arbiter     *ports.Arbiter
	provisioner mounts.Provisioner
	store       collections.Store
	index       collections.Map
	events      *events.Broker
	tokenFn     func() (string, error)
	readyFn     func(ctx context.Context, container *types.Container, timeout time.Duration) error
	locks       sessionLocks
	refills     sync.WaitGroup
	closing     atomic.Bool
	logger      zerolog.Logger

	ownedBroker *events.Broker
	closers     []io.Closer
}

// New assembles a Manager from pre-built dependencies. Build is the
// production entry point; New exists for wiring fakes.
func New(opts Options) (*Manager, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("manager: config is required")
	case opts.Driver == nil:
		return nil, errors.New("manager: driver is required")
	case opts.Resolver == nil:
		return nil, errors.New("manager: image resolver is required")
	case opts.Provisioner == nil:
		return nil, errors.New("manager: mount provisioner is required")
	case opts.Store == nil:
		return nil, errors.New("manager: collections store is required")
	}

	m := &Manager{
		cfg:         opts.Config,
		driver:      opts.Driver,
		resolver:    opts.Resolver,
		arbiter:     opts.Arbiter,
		provisioner: opts.Provisioner,
		store:       opts.Store,
		index:       opts.Store.Map(indexName),
		events:      opts.Events,
		tokenFn:     opts.TokenFn,
		readyFn:     opts.ReadyFn,
		logger:      log.WithComponent("manager"),
	}
	if m.tokenFn == nil {
		m.tokenFn = newRuntimeToken
	}
	if m.readyFn == nil {
		m.readyFn = func(ctx context.Context, container *types.Container, timeout time.Duration) error {
			return client.NewSandbox(container).WaitForReady(ctx, timeout)
		}
	}
	return m, nil
}

// Build wires a Manager from configuration: store, arbiter, resolver,
// the configured driver, the provisioner (archive-backed when enabled)
// and a running event broker.
func Build(cfg *config.Config) (*Manager, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	arbiter := ports.NewArbiter(cfg.Ports.Start, cfg.Ports.End, store.Set("ports"))
	resolver := images.NewResolver(cfg.Images)

	drv, err := driver.New(cfg.Sandbox.Deployment, cfg, driver.Deps{
		Arbiter:  arbiter,
		Resolver: resolver,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build %s driver: %w", cfg.Sandbox.Deployment, err)
	}

	closers := []io.Closer{store}
	var provisioner mounts.Provisioner
	if cfg.Archive.Enabled {
		archives, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to open archive store: %w", err)
		}
		provisioner, err = mounts.NewArchive(cfg.Mounts.BaseDir, archives)
		if err != nil {
			archives.Close()
			store.Close()
			return nil, err
		}
		closers = append(closers, archives)
	} else {
		local, err := mounts.NewLocal(cfg.Mounts.BaseDir)
		if err != nil {
			store.Close()
			return nil, err
		}
		provisioner = local
	}

	broker := events.NewBroker()
	broker.Start()

	m, err := New(Options{
		Config:      cfg,
		Driver:      drv,
		Resolver:    resolver,
		Arbiter:     arbiter,
		Provisioner: provisioner,
		Store:       store,
		Events:      broker,
	})
	if err != nil {
		broker.Stop()
		for _, closer := range closers {
			closer.Close()
		}
		return nil, err
	}
	m.ownedBroker = broker
	m.closers = closers
	return m, nil
}

func newStore(cfg *config.Config) (collections.Store, error) {
	if cfg.Redis.Enabled {
		store, err := collections.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, nil
	}
	return collections.NewMemoryStore(), nil
}

// Events returns the broker for subscribers; nil when the manager was
// assembled without one.
func (m *Manager) Events() *events.Broker {
	return m.events
}

// Connect attaches a session to a sandbox: the one it already holds, a
// warm one from the pool, or a cold-created one. Calls for the same
// session serialize.
func (m *Manager) Connect(ctx context.Context, opts ConnectOptions) (*types.Container, error) {
	sandboxType := opts.Type
	if sandboxType == "" {
		sandboxType = m.cfg.DefaultType()
	}
	if _, err := m.resolver.ImageFor(sandboxType, ""); err != nil {
		return nil, err
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	unlock := m.locks.lock(sessionID)
	defer unlock()

	existing, err := m.lookup(ctx, sessionID)
	if err == nil {
		metrics.ConnectsTotal.WithLabelValues(m.sandboxTypeOf(existing), "existing").Inc()
		m.publish(&events.Event{
			Type:      events.EventSandboxConnected,
			SessionID: sessionID,
			Message:   "re-attached existing sandbox",
		})
		return existing, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	if opts.Version == "" {
		container, ok, err := m.adoptFromPool(ctx, sandboxType, sessionID, opts.Meta)
		if err != nil {
			return nil, err
		}
		if ok {
			m.refillAsync(sandboxType)
			metrics.ConnectsTotal.WithLabelValues(sandboxType, "pool").Inc()
			m.publish(&events.Event{
				Type:      events.EventSandboxConnected,
				SessionID: sessionID,
				Message:   "adopted warm sandbox",
				Metadata:  map[string]string{typeMetaKey: sandboxType},
			})
			return container, nil
		}
	}

	container, err := m.createSandbox(ctx, sandboxType, sessionID, opts.Version, opts.Meta)
	if err != nil {
		return nil, err
	}
	if err := m.saveRecord(ctx, container); err != nil {
		m.teardown(ctx, container, true, true)
		return nil, err
	}

	metrics.ConnectsTotal.WithLabelValues(sandboxType, "cold").Inc()
	m.publish(&events.Event{
		Type:      events.EventSandboxConnected,
		SessionID: sessionID,
		Message:   "created sandbox",
		Metadata:  map[string]string{typeMetaKey: sandboxType},
	})
	return container, nil
}

// adoptFromPool pops a warm sandbox and re-keys it to the caller. A
// corrupt pool record counts as a miss, not a failure.
func (m *Manager) adoptFromPool(ctx context.Context, sandboxType, sessionID string, meta map[string]any) (*types.Container, bool, error) {
	pool := m.store.Queue(poolPrefix + sandboxType)
	raw, ok, err := pool.Pop(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to pop pool: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var container types.Container
	if err := json.Unmarshal([]byte(raw), &container); err != nil {
		m.logger.Warn().Err(err).Str("sandbox_type", sandboxType).Msg("Dropping corrupt pool record")
		return nil, false, nil
	}

	container.SessionID = sessionID
	if container.Meta == nil {
		container.Meta = map[string]any{}
	}
	for key, val := range meta {
		container.Meta[key] = val
	}
	container.Meta[typeMetaKey] = sandboxType
	if container.StoragePath != nil && *container.StoragePath != "" {
		prefix := mounts.StoragePrefix(sessionID)
		container.StoragePath = &prefix
	}

	// A session returning after an archived release gets its workspace
	// back inside the adopted sandbox.
	if container.MountDir != nil {
		if err := m.provisioner.Restore(sessionID, *container.MountDir); err != nil && !errors.Is(err, archive.ErrNotFound) {
			m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Workspace restore failed on adopt")
		}
	}

	if err := m.saveRecord(ctx, &container); err != nil {
		m.teardown(ctx, &container, true, true)
		return nil, false, err
	}
	return &container, true, nil
}

// createSandbox builds a fresh sandbox end to end: token, image,
// workspace, backend create and start, backend readiness,
// control-server readiness. The returned record is not yet indexed.
// Any failure tears down everything the attempt claimed.
func (m *Manager) createSandbox(ctx context.Context, sandboxType, sessionID, version string, meta map[string]any) (*types.Container, error) {
	backend := string(m.driver.Backend())
	started := time.Now()

	image, err := m.resolver.ImageFor(sandboxType, version)
	if err != nil {
		return nil, err
	}

	token, err := m.tokenFn()
	if err != nil {
		return nil, err
	}

	req := driver.CreateRequest{
		SessionID:      sessionID,
		SandboxType:    sandboxType,
		Image:          image,
		Env:            map[string]string{"SECRET_TOKEN": token},
		ServicePorts:   []int{boxServicePort},
		ReadonlyMounts: mounts.Readonly(m.cfg.Mounts.ReadonlyMounts),
	}

	var mountDir, storagePath string
	if hostMounts(m.driver.Backend()) {
		mountDir, storagePath, err = m.provisioner.Prepare(sessionID)
		if err != nil {
			return nil, m.createFailed(backend, image, sessionID, fmt.Errorf("failed to provision workspace: %w", err))
		}
		req.MountDir = &mountDir
	}

	result, err := m.driver.Create(ctx, req)
	if err != nil {
		m.releaseMount(sessionID, mountDir)
		return nil, m.createFailed(backend, image, sessionID, err)
	}

	if err := m.driver.Start(ctx, result.Handle); err != nil {
		m.discard(ctx, result.Handle, sessionID, mountDir)
		return nil, m.createFailed(backend, image, sessionID, err)
	}

	readyTimeout := time.Duration(m.cfg.Sandbox.Timeout) * time.Second
	if err := m.driver.WaitForReady(ctx, result, readyTimeout); err != nil {
		m.discard(ctx, result.Handle, sessionID, mountDir)
		return nil, m.createFailed(backend, image, sessionID, err)
	}

	container := m.buildRecord(sessionID, sandboxType, version, token, result, meta)
	if mountDir != "" {
		container.MountDir = &mountDir
	}
	if storagePath != "" {
		container.StoragePath = &storagePath
	}

	m.publish(&events.Event{
		Type:      events.EventSandboxCreated,
		SessionID: sessionID,
		Message:   "sandbox created",
		Metadata:  map[string]string{"backend": backend, "image": image},
	})

	if err := m.readyFn(ctx, container, readyTimeout); err != nil {
		m.discard(ctx, result.Handle, sessionID, mountDir)
		return nil, m.createFailed(backend, image, sessionID, err)
	}

	metrics.CreateDuration.WithLabelValues(backend).Observe(time.Since(started).Seconds())
	m.publish(&events.Event{Type: events.EventSandboxReady, SessionID: sessionID})

	m.logger.Info().
		Str("session_id", sessionID).
		Str("sandbox_type", sandboxType).
		Str("image", image).
		Dur("elapsed", time.Since(started)).
		Msg("Sandbox ready")
	return container, nil
}

func (m *Manager) buildRecord(sessionID, sandboxType, version, token string, result *driver.CreateResult, meta map[string]any) *types.Container {
	hostPorts := make([]string, 0, len(result.Ports))
	for _, port := range result.Ports {
		hostPorts = append(hostPorts, strconv.Itoa(port))
	}

	url := result.Protocol + "://" + result.Host
	if len(result.Ports) > 0 {
		url += ":" + strconv.Itoa(result.Ports[0])
	}
	url += result.Path + boxBasePath

	merged := map[string]any{}
	for key, val := range result.Meta {
		merged[key] = val
	}
	for key, val := range meta {
		merged[key] = val
	}
	merged[typeMetaKey] = sandboxType

	return &types.Container{
		SessionID:     sessionID,
		ContainerID:   result.Handle,
		ContainerName: driver.ContainerName(sessionID),
		URL:           url,
		Ports:         hostPorts,
		Path:          result.Path,
		MountDir:      result.MountDir,
		StoragePath:   result.StoragePath,
		RuntimeToken:  token,
		Version:       version,
		Meta:          merged,
		Timeout:       m.cfg.Sandbox.Timeout,
	}
}

// createFailed records the failure and wraps it with what was being
// built, so callers and logs see the image and backend.
func (m *Manager) createFailed(backend, image, sessionID string, err error) error {
	metrics.CreateFailures.WithLabelValues(backend).Inc()
	m.publish(&events.Event{
		Type:      events.EventSandboxFailed,
		SessionID: sessionID,
		Message:   err.Error(),
		Metadata:  map[string]string{"backend": backend, "image": image},
	})
	return fmt.Errorf("sandbox creation failed (image %s, backend %s): %w", image, backend, err)
}

// discard tears down a half-built sandbox. The workspace is kept in
// restorable form; ports and the backend object go away with Remove.
func (m *Manager) discard(ctx context.Context, handle, sessionID, mountDir string) {
	if err := m.driver.Remove(ctx, handle, true); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to remove half-built sandbox")
	}
	m.releaseMount(sessionID, mountDir)
}

func (m *Manager) releaseMount(sessionID, mountDir string) {
	if mountDir == "" {
		return
	}
	if err := m.provisioner.Release(sessionID, mountDir, true); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Workspace release failed")
	}
}

// Release hands a session's sandbox back. With toPool and room below
// the target the sandbox is reset and pooled; otherwise it is
// destroyed. A failed reset destroys rather than pooling a dirty
// workspace.
func (m *Manager) Release(ctx context.Context, sessionID string, toPool bool) error {
	unlock := m.locks.lock(sessionID)
	defer unlock()

	container, err := m.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	sandboxType := m.sandboxTypeOf(container)

	if toPool {
		pool := m.store.Queue(poolPrefix + sandboxType)
		level, err := pool.Len(ctx)
		if err != nil {
			return fmt.Errorf("failed to read pool level: %w", err)
		}
		if level < m.cfg.Sandbox.PoolSize {
			if err := m.returnToPool(ctx, pool, container, sessionID); err == nil {
				m.publish(&events.Event{
					Type:      events.EventSandboxReleased,
					SessionID: sessionID,
					Message:   "returned to pool",
					Metadata:  map[string]string{typeMetaKey: sandboxType, "to_pool": "true"},
				})
				return nil
			}
			m.logger.Warn().Str("session_id", sessionID).Msg("Pool return failed; destroying")
		}
	}

	if err := m.destroy(ctx, container); err != nil {
		return err
	}
	m.publish(&events.Event{
		Type:      events.EventSandboxReleased,
		SessionID: sessionID,
		Message:   "destroyed",
		Metadata:  map[string]string{typeMetaKey: sandboxType, "to_pool": "false"},
	})
	return nil
}

func (m *Manager) returnToPool(ctx context.Context, pool collections.Queue, container *types.Container, sessionID string) error {
	if container.MountDir != nil {
		if err := mounts.Reset(*container.MountDir); err != nil {
			return fmt.Errorf("failed to reset workspace: %w", err)
		}
	}
	if err := m.enqueue(ctx, pool, container); err != nil {
		return err
	}
	if err := m.index.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}

// destroy removes the sandbox and its record. A backend removal
// failure keeps the record so the release can be retried.
func (m *Manager) destroy(ctx context.Context, container *types.Container) error {
	if err := m.teardown(ctx, container, m.cfg.Archive.Enabled, false); err != nil {
		return err
	}
	if err := m.index.Delete(ctx, container.SessionID); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	m.publish(&events.Event{Type: events.EventSandboxRemoved, SessionID: container.SessionID})
	return nil
}

// teardown removes the backend object and releases the workspace. It
// never touches the index. Force skips the backend's drain; the
// shutdown sweep uses it so one wedged sandbox cannot stall the rest.
func (m *Manager) teardown(ctx context.Context, container *types.Container, keep, force bool) error {
	if err := m.driver.Remove(ctx, container.ContainerID, force); err != nil {
		return fmt.Errorf("failed to remove sandbox %s: %w", container.SessionID, err)
	}
	if container.MountDir != nil {
		if err := m.provisioner.Release(container.SessionID, *container.MountDir, keep); err != nil {
			m.logger.Warn().Err(err).Str("session_id", container.SessionID).Msg("Workspace release failed")
		}
	}
	return nil
}

// Get returns the record for a session.
func (m *Manager) Get(ctx context.Context, sessionID string) (*types.Container, error) {
	return m.lookup(ctx, sessionID)
}

// List returns every indexed session record, ordered by session ID.
func (m *Manager) List(ctx context.Context) ([]*types.Container, error) {
	keys, err := m.index.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.Strings(keys)

	out := make([]*types.Container, 0, len(keys))
	for _, key := range keys {
		container, err := m.lookup(ctx, key)
		if err != nil {
			// Raced a release, or the record is unreadable.
			if !errors.Is(err, ErrSessionNotFound) {
				m.logger.Warn().Err(err).Str("session_id", key).Msg("Skipping unreadable session record")
			}
			continue
		}
		out = append(out, container)
	}
	return out, nil
}

// PoolStatus reports the warm pool level for every configured type.
func (m *Manager) PoolStatus(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	for _, sandboxType := range m.resolver.Types() {
		level, err := m.store.Queue(poolPrefix + sandboxType).Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read pool level: %w", err)
		}
		out[sandboxType] = level
	}
	return out, nil
}

// Stats snapshots manager state for the metrics collector.
func (m *Manager) Stats(ctx context.Context) (metrics.Stats, error) {
	stats := metrics.Stats{ActiveByType: map[string]int{}}

	containers, err := m.List(ctx)
	if err != nil {
		return stats, err
	}
	for _, container := range containers {
		stats.ActiveByType[m.sandboxTypeOf(container)]++
	}

	stats.PoolByType, err = m.PoolStatus(ctx)
	if err != nil {
		return stats, err
	}

	if m.arbiter != nil {
		claimed, err := m.arbiter.ClaimedCount(ctx)
		if err != nil {
			return stats, err
		}
		stats.PortsClaimed = claimed
	}
	return stats, nil
}

// WarmUp fills the pools of the configured default types. Failures are
// logged and the next type is attempted; only cancellation aborts.
func (m *Manager) WarmUp(ctx context.Context) error {
	for _, sandboxType := range m.cfg.Sandbox.DefaultTypes {
		if err := m.fillPool(ctx, sandboxType); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn().Err(err).Str("sandbox_type", sandboxType).Msg("Pool warmup failed")
		}
	}
	return nil
}

// Cleanup stops refills and removes every sandbox this manager knows
// about, then asks the backend for strays it may have missed.
// Individual failures are logged and the sweep continues.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.closing.Store(true)
	m.refills.Wait()

	for _, sandboxType := range m.resolver.Types() {
		pool := m.store.Queue(poolPrefix + sandboxType)
		for {
			raw, ok, err := pool.Pop(ctx)
			if err != nil {
				m.logger.Warn().Err(err).Str("sandbox_type", sandboxType).Msg("Pool drain failed")
				break
			}
			if !ok {
				break
			}
			var container types.Container
			if err := json.Unmarshal([]byte(raw), &container); err != nil {
				m.logger.Warn().Err(err).Msg("Dropping corrupt pool record during cleanup")
				continue
			}
			// Pool entries hold no session data.
			if err := m.teardown(ctx, &container, false, true); err != nil {
				m.logger.Warn().Err(err).Str("session_id", container.SessionID).Msg("Pool entry teardown failed")
			}
		}
	}

	keys, err := m.index.Keys(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Session sweep failed to list records")
	} else {
		for _, key := range keys {
			container, err := m.lookup(ctx, key)
			if err != nil {
				m.logger.Warn().Err(err).Str("session_id", key).Msg("Dropping unreadable session record")
				m.index.Delete(ctx, key)
				continue
			}
			if err := m.teardown(ctx, container, m.cfg.Archive.Enabled, true); err != nil {
				m.logger.Warn().Err(err).Str("session_id", key).Msg("Session teardown failed")
			}
			if err := m.index.Delete(ctx, key); err != nil {
				m.logger.Warn().Err(err).Str("session_id", key).Msg("Failed to delete session record")
			}
		}
	}

	// Everything tracked is gone; whatever the backend still lists is a
	// stray from a previous run.
	if lister, ok := m.driver.(driver.Lister); ok {
		instances, err := lister.List(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Stray reconciliation failed to list instances")
		} else {
			for _, instance := range instances {
				if err := m.driver.Remove(ctx, instance.Handle, true); err != nil {
					m.logger.Warn().Err(err).Str("handle", instance.Handle).Msg("Stray removal failed")
					continue
				}
				m.logger.Info().Str("handle", instance.Handle).Str("session_id", instance.SessionID).Msg("Removed stray sandbox")
			}
		}
	}

	return nil
}

// Close releases everything Build opened. Managers assembled with New
// own nothing, so Close only stops refills.
func (m *Manager) Close() error {
	m.closing.Store(true)
	m.refills.Wait()

	if m.ownedBroker != nil {
		m.ownedBroker.Stop()
	}

	var errs []error
	for _, closer := range m.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// refillAsync tops the pool back up in the background. The caller is
// never blocked or failed by refill problems.
func (m *Manager) refillAsync(sandboxType string) {
	if m.closing.Load() {
		return
	}
	m.refills.Add(1)
	go func() {
		defer m.refills.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refillBudget)
		defer cancel()
		if err := m.fillPool(ctx, sandboxType); err != nil {
			m.logger.Warn().Err(err).Str("sandbox_type", sandboxType).Msg("Pool refill failed")
			return
		}
		m.publish(&events.Event{
			Type:     events.EventPoolRefilled,
			Message:  "pool refilled",
			Metadata: map[string]string{typeMetaKey: sandboxType},
		})
	}()
}

// fillPool creates sandboxes until the pool reaches the target. Pool
// entries live in the queue only, never in the session index.
func (m *Manager) fillPool(ctx context.Context, sandboxType string) error {
	pool := m.store.Queue(poolPrefix + sandboxType)
	for {
		if m.closing.Load() {
			return nil
		}
		level, err := pool.Len(ctx)
		if err != nil {
			return fmt.Errorf("failed to read pool level: %w", err)
		}
		if level >= m.cfg.Sandbox.PoolSize {
			return nil
		}

		sessionID := "pool-" + uuid.New().String()[:8]
		container, err := m.createSandbox(ctx, sandboxType, sessionID, "", nil)
		if err != nil {
			return err
		}
		if err := m.enqueue(ctx, pool, container); err != nil {
			m.teardown(ctx, container, false, true)
			return err
		}
	}
}

func (m *Manager) lookup(ctx context.Context, sessionID string) (*types.Container, error) {
	raw, ok, err := m.index.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	var container types.Container
	if err := json.Unmarshal([]byte(raw), &container); err != nil {
		return nil, fmt.Errorf("failed to decode session record %s: %w", sessionID, err)
	}
	return &container, nil
}

func (m *Manager) saveRecord(ctx context.Context, container *types.Container) error {
	raw, err := json.Marshal(container)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	if err := m.index.Set(ctx, container.SessionID, string(raw)); err != nil {
		return fmt.Errorf("failed to store session record: %w", err)
	}
	return nil
}

func (m *Manager) enqueue(ctx context.Context, pool collections.Queue, container *types.Container) error {
	raw, err := json.Marshal(container)
	if err != nil {
		return fmt.Errorf("failed to encode pool record: %w", err)
	}
	if err := pool.Push(ctx, string(raw)); err != nil {
		return fmt.Errorf("failed to push pool record: %w", err)
	}
	return nil
}

func (m *Manager) sandboxTypeOf(container *types.Container) string {
	if container.Meta != nil {
		if t, ok := container.Meta[typeMetaKey].(string); ok && t != "" {
			return t
		}
	}
	return m.cfg.DefaultType()
}

func (m *Manager) publish(event *events.Event) {
	if m.events != nil {
		m.events.Publish(event)
	}
}

// hostMounts reports whether the backend consumes host directories as
// bind mounts. Cluster and managed backends provision storage on their
// side instead.
func hostMounts(backend types.Backend) bool {
	return backend == types.BackendDocker || backend == types.BackendContainerd
}
