/*
Package driver defines the backend contract for sandbox lifecycle
management and the registry that selects an implementation.

Every deployment backend (docker, containerd, kubernetes, managed remote
runtimes) implements the same five lifecycle operations plus a readiness
wait. The manager speaks only this interface; backend-specific knowledge
stops at the driver boundary.

# Architecture

	┌──────────────────── DRIVER LAYER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Registry                       │          │
	│  │  Register(name, factory) from driver init() │          │
	│  │  Available() -> registered backend names    │          │
	│  │  New(name, cfg, deps) -> Driver             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Driver                         │          │
	│  │  Create  Start  Stop  Remove  Status        │          │
	│  │  WaitForReady                               │          │
	│  └─────┬──────────┬──────────┬─────────┬──────┘          │
	│        │          │          │         │                  │
	│  ┌─────▼───┐ ┌────▼─────┐ ┌──▼─────┐ ┌─▼──────────┐    │
	│  │ docker  │ │containerd│ │  k8s   │ │  managed   │    │
	│  │ daemon  │ │  tasks   │ │  pods  │ │ (fc,studio)│    │
	│  └─────────┘ └──────────┘ └────────┘ └────────────┘    │
	│                                                            │
	│  Shared deps: ports.Arbiter, images.Resolver               │
	└────────────────────────────────────────────────────────┘

# Lifecycle Contract

Create:
  - Materializes the sandbox, claims host ports, applies mounts
  - Returns Handle, Host, Protocol, Ports, optional Path
  - The sandbox may not be started or ready yet

Start:
  - Starts a created sandbox
  - Separate from Create so pools can pre-create

Stop:
  - Takes an optional grace period: nil means the backend default,
    zero means kill immediately
  - Idempotent: stopping a stopped or missing sandbox succeeds

Remove:
  - Deletes the sandbox and releases every held resource,
    including claimed host ports
  - Force skips the drain and kills outright
  - Idempotent like Stop

Status:
  - creating, running, exited, or unknown, plus the raw backend
    attributes the state was derived from
  - A vanished handle is unknown, never an error

WaitForReady:
  - Blocks until the control surface answers or timeout

# Registry

Driver packages register themselves in init:

	func init() {
		driver.Register("docker", New)
	}

Importing a driver package is what makes its backend selectable;
cmd/agentrun imports the set it ships. Config validation runs against
Available(), so a backend name with no registered driver fails at
startup, not at first use.

# Listing

Drivers that can enumerate their sandboxes implement Lister. The
cleanup pass type-asserts for it and reconciles strays (sandboxes whose
records were lost in a crash, claims whose sandboxes are gone). Drivers
without enumeration simply skip that reconciliation.

# Polling

PollUntil is the shared wait loop for drivers whose backends expose
state transitions rather than endpoints:

	err := driver.PollUntil(ctx, 3*time.Second, func(ctx context.Context) (bool, error) {
		state, _, err := d.Status(ctx, handle)
		if err != nil {
			return false, err
		}
		return state == types.ContainerStateRunning, nil
	})

The first call happens immediately; the context deadline bounds the
whole wait.

# Naming

ContainerName(sessionID) = "agentrun-" + sessionID on every backend.
One prefix means one cleanup filter.

# Design Patterns

Registry Pattern:
  - Explicit name -> factory map, panics on duplicate registration
  - Mirrors database/sql driver registration

Capability Interface Pattern:
  - Lister is optional, discovered by type assertion
  - Backends without enumeration stay simple

Result Struct Pattern:
  - Create returns a CreateResult, not a types.Container
  - URL composition is manager policy, not backend knowledge

# Integration Points

This package integrates with:

  - pkg/driver/docker, containerd, kubernetes, managed: Implementations
  - pkg/manager: Sole consumer of the Driver interface
  - pkg/ports: Deps.Arbiter for host port claims
  - pkg/images: Deps.Resolver for image resolution
  - pkg/config: Factories read their backend section

# See Also

  - database/sql driver registration: https://pkg.go.dev/database/sql#Register
  - Docker Engine API: https://docs.docker.com/engine/api/
*/
package driver
