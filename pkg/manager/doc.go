/*
Package manager implements the sandbox lifecycle manager.

The manager package is the control plane of agentrun, responsible for
attaching agent sessions to sandboxes, keeping warm pools at their
target level, and tearing everything down cleanly. It owns no transport
of its own: the HTTP facade (pkg/server) and the CLI both drive the same
Manager type.

# Architecture

A Manager composes a backend driver, an image resolver, a workspace
provisioner and a shared collections store:

	┌────────────────────────── MANAGER ──────────────────────────┐
	│                                                              │
	│  Connect / Release / Get / List / PoolStatus / Cleanup       │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │            Session index (Map)               │           │
	│  │  session_id -> types.Container record        │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │          Warm pools (Queue per type)         │           │
	│  │  pool:base, pool:browser, ...                │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │            driver.Driver                     │           │
	│  │  docker / containerd / kubernetes /          │           │
	│  │  fc / studio                                 │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │        mounts.Provisioner                    │           │
	│  │  per-session /workspace dirs, optionally     │           │
	│  │  archive-backed for persistence              │           │
	│  └────────────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────────────┘

All mutable state lives in the collections store. With the in-memory
store a single process owns everything; with the Redis store several
worker processes share the same index and pools and cooperate without
extra coordination, because every pool hand-off is a single atomic
queue pop.

# Core Components

Manager:
  - Attaches sessions to sandboxes (existing, pooled, or cold-created)
  - Keeps warm pools at their configured target level
  - Serializes operations per session ID
  - Publishes lifecycle events and records metrics

Options:
  - Dependency bundle for New; Build assembles it from configuration
  - TokenFn and ReadyFn exist so tests can stub token generation and
    the control-server readiness wait

ConnectOptions:
  - Type selects the sandbox image family (default from config)
  - Version pins an image tag and bypasses the pool
  - Meta rides along in the container record

# Connect Resolution

Connect resolves a session in a fixed order:

 1. The session already holds a sandbox: return its record unchanged.
 2. The pool for the requested type has a warm sandbox: pop it, re-key
    it to the session, restore any archived workspace, and trigger an
    asynchronous refill. The caller never waits for the refill.
 3. Otherwise create one end to end: runtime token, image resolution,
    workspace provisioning, backend create, backend readiness,
    control-server readiness.

Version-pinned requests skip step 2: pools hold default-image
sandboxes only, so a pinned request is always a cold create.

A failed creation tears down everything the attempt claimed (backend
object, ports, workspace) and returns an error naming the image and
backend. Nothing is indexed until the sandbox is fully ready.

# Usage

Building from configuration:

	cfg := config.Default()
	mgr, err := manager.Build(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("manager build failed")
	}
	defer mgr.Close()

	if err := mgr.WarmUp(ctx); err != nil {
		log.Fatal().Err(err).Msg("pool warmup failed")
	}

Attaching a session:

	container, err := mgr.Connect(ctx, manager.ConnectOptions{
		Type:      "browser",
		SessionID: "sess-42",
	})
	if err != nil {
		return err
	}

	sandbox := client.NewSandbox(container)
	result, err := sandbox.RunShellCommand(ctx, "ls /workspace")

Handing the sandbox back:

	// Reset and pool it for the next session...
	err := mgr.Release(ctx, "sess-42", true)

	// ...or destroy it outright.
	err := mgr.Release(ctx, "sess-42", false)

Shutting down:

	// Remove every sandbox this manager knows about, then sweep the
	// backend for strays.
	if err := mgr.Cleanup(ctx); err != nil {
		log.Warn().Err(err).Msg("cleanup incomplete")
	}

# Pool Semantics

Pool entries live in the per-type queue only; the session index holds
live sessions only. A sandbox is always in exactly one of the two.

  - WarmUp fills each configured default type to the target level at
    startup.
  - Adopting from the pool triggers a background refill bounded by a
    fixed budget; refill failures are logged, never surfaced to the
    adopter.
  - Release to a pool already at target destroys the sandbox instead.
  - A failed workspace reset destroys the sandbox rather than pooling
    a dirty workspace.
  - Pool sandboxes keep their runtime token across re-keying; the
    container name stays the creator's, since it names the physical
    backend object.

# Workspace Persistence

Backends that consume host directories (docker, containerd) get a
per-session workspace directory from the provisioner, bind-mounted at
/workspace. With the archive store enabled, destroying a sandbox
snapshots the workspace first, and the session's next attach restores
it into the fresh sandbox. Cluster backends provision storage on their
side instead and report it through the create result.

# Failure Scenarios

Backend create fails:
  - Workspace released in restorable form, claimed ports freed
  - Error names the image and backend; nothing indexed

Sandbox never becomes ready:
  - Half-built sandbox removed, workspace released
  - Same structured error as a create failure

Backend removal fails during release:
  - Session record is kept so the release can be retried
  - Cleanup retries the removal during shutdown

Corrupt pool record:
  - Logged and dropped; counts as a pool miss, never a failure

Corrupt session record:
  - List skips it; Cleanup drops it after logging

# Integration Points

This package integrates with:

  - pkg/driver: backend create/remove/status/readiness
  - pkg/images: sandbox type to image resolution
  - pkg/mounts: per-session workspace provisioning
  - pkg/archive: workspace snapshots across releases
  - pkg/collections: shared index, pools and port ledger
  - pkg/ports: host port claims surfaced in Stats
  - pkg/client: control-server readiness probing
  - pkg/events: lifecycle event publication
  - pkg/metrics: counters, durations and the Stats snapshot

# Design Patterns

Adopt Pattern:
  - Warm sandboxes are generic until adopted
  - Adoption re-keys the record to the caller's session
  - Refill happens behind the caller, never in front

Per-Session Serialization:
  - Operations on one session take a sharded mutex
  - Concurrent Connects for the same session cannot double-create
  - Different sessions proceed in parallel

Teardown Ordering:
  - Backend object first, workspace second, index last
  - An index record without a backend object is retryable garbage;
    a backend object without an index record is a leak

# Troubleshooting

Common Issues:

Pool never refills:
  - Symptom: PoolStatus stays below target after adoption
  - Cause: refill create failing (image pull, port exhaustion)
  - Solution: check logs for "Pool refill failed" and the wrapped cause

Connect slow on every call:
  - Symptom: cold-create latency on each Connect
  - Cause: pool target is zero or WarmUp was skipped
  - Solution: set sandbox.pool_size and call WarmUp at startup

Session stuck after failed release:
  - Symptom: Release keeps returning a removal error
  - Cause: backend refuses to remove the container
  - Solution: fix the backend object by hand; the kept record makes
    the retry safe

Workspace missing after reconnect:
  - Symptom: files gone when a session re-attaches
  - Cause: archive store disabled, so destroy dropped the workspace
  - Solution: enable archive.enabled for cross-release persistence

# Monitoring

Key metrics to monitor:

Lifecycle:
  - agentrun_sandboxes_active: live sandboxes by type
  - agentrun_pool_level: warm pool level vs. target
  - agentrun_connects_total: adoption source mix (existing/pool/cold)

Failures:
  - agentrun_create_failures_total: backend create problems
  - agentrun_create_duration_seconds: cold-create latency

Capacity:
  - agentrun_ports_claimed: host port ledger usage

# See Also

  - pkg/server for the HTTP facade over this type
  - pkg/driver for backend implementations
  - pkg/mounts for workspace provisioning details
  - pkg/collections for the shared-store contract
*/
package manager
