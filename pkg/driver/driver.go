package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/images"
	"github.com/agentrun/agentrun/pkg/ports"
	"github.com/agentrun/agentrun/pkg/types"
)

var (
	// ErrNotRegistered is returned when no driver factory exists for a
	// backend name.
	ErrNotRegistered = errors.New("backend not registered")

	// ErrNotFound is returned by operations on a handle the backend no
	// longer knows. Status does not use it; a vanished handle reports
	// StateUnknown instead.
	ErrNotFound = errors.New("sandbox not found")
)

// CreateRequest carries everything a driver needs to create a sandbox.
type CreateRequest struct {
	// SessionID names the sandbox; drivers derive the container name
	// from it.
	SessionID string

	// SandboxType is the requested flavor, already validated.
	SandboxType string

	// Image is the canonical image reference. Drivers apply their own
	// backend rewrite before pulling or scheduling.
	Image string

	// Env is injected into the container unchanged. The manager places
	// SECRET_TOKEN here.
	Env map[string]string

	// ServicePorts are the container-side ports to expose. The first is
	// the control server port.
	ServicePorts []int

	// MountDir, when set, is bind-mounted read-write at the workspace
	// path.
	MountDir *string

	// ReadonlyMounts maps host paths to read-only container paths.
	ReadonlyMounts map[string]string

	// CPUs and MemoryMB bound container resources. Zero means the
	// backend default.
	CPUs     float64
	MemoryMB int64
}

// CreateResult reports where a created sandbox is reachable. The manager
// composes the container URL from Protocol, Host, Ports, and Path.
type CreateResult struct {
	// Handle is the backend identity used for every later operation.
	Handle string

	// Host is where the sandbox's services are reachable.
	Host string

	// Protocol is "http" or "https".
	Protocol string

	// Ports are the host-side ports, aligned with CreateRequest
	// ServicePorts. The first reaches the control server.
	Ports []int

	// Path is an extra path prefix for backends that route by path.
	Path string

	// MountDir and StoragePath echo where the driver actually placed
	// persistence, when it did.
	MountDir    *string
	StoragePath *string

	// Meta carries backend annotations into the container record.
	Meta map[string]any
}

// Driver is the backend contract. Five lifecycle operations plus a
// readiness wait; every state a caller can observe flows through Status.
type Driver interface {
	// Backend returns the backend this driver serves.
	Backend() types.Backend

	// Create materializes a sandbox. The sandbox is not necessarily
	// started or ready when Create returns.
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)

	// Start starts a created sandbox.
	Start(ctx context.Context, handle string) error

	// Stop stops a running sandbox. A nil grace leaves the escalation
	// window at the backend default; zero skips straight to a forced
	// kill. Stopping an already stopped or missing sandbox is not an
	// error.
	Stop(ctx context.Context, handle string, grace *time.Duration) error

	// Remove deletes the sandbox and releases every resource it held,
	// including claimed host ports. With force the sandbox is killed
	// rather than drained first. Removing a missing sandbox is not an
	// error.
	Remove(ctx context.Context, handle string, force bool) error

	// Status reports the current state plus raw backend attributes for
	// callers that need more than the lifecycle phase. Handles the
	// backend no longer knows report StateUnknown, not an error.
	Status(ctx context.Context, handle string) (types.ContainerState, map[string]any, error)

	// WaitForReady blocks until the sandbox answers on its control
	// surface or the timeout elapses.
	WaitForReady(ctx context.Context, result *CreateResult, timeout time.Duration) error
}

// Instance describes one live sandbox a backend knows about.
type Instance struct {
	Handle    string
	SessionID string
	State     types.ContainerState
}

// Lister is implemented by drivers that can enumerate their sandboxes.
// The cleanup pass uses it to reconcile state after crashes.
type Lister interface {
	List(ctx context.Context) ([]Instance, error)
}

// Deps are the shared services handed to every driver factory.
type Deps struct {
	Arbiter  *ports.Arbiter
	Resolver *images.Resolver
}

// Factory builds a driver from configuration and shared dependencies.
type Factory func(cfg *config.Config, deps Deps) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a driver factory available under name. Driver packages
// call it from init; importing a driver package is what makes its
// backend selectable.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("driver: Register with nil factory")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("driver: Register called twice for %q", name))
	}
	registry[name] = factory
}

// Available returns the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the driver registered under name.
func New(name string, cfg *config.Config, deps Deps) (Driver, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return factory(cfg, deps)
}

// ContainerName returns the backend object name for a session. Every
// driver uses the same prefix so cleanup can recognize strays.
func ContainerName(sessionID string) string {
	return "agentrun-" + sessionID
}

// PollUntil calls fn every interval until it reports done, returns an
// error, or ctx ends. The first call happens immediately.
func PollUntil(ctx context.Context, interval time.Duration, fn func(ctx context.Context) (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
