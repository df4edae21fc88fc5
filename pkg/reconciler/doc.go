/*
Package reconciler keeps the warm pools honest.

Pool entries are idle sandboxes waiting for adoption, and idle things
rot: a container can be OOM-killed, a host reboot can take the backend
objects with it, an operator can docker rm the wrong name. The session
index self-heals through use, but a dead pool entry sits in its queue
until some unlucky session adopts a corpse. The reconciler closes that
gap by sweeping the pools on a timer, evicting entries whose backend
object is no longer running, and topping the default pools back up to
target.

# Architecture

	┌────────────────── POOL RECONCILER ───────────────────────┐
	│                                                            │
	│  every sweep interval:                                     │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │  for each sandbox type:                     │          │
	│  │                                              │          │
	│  │    pop entry ──▶ driver.Status(handle)      │          │
	│  │         │                                    │          │
	│  │         ├── running ──▶ push back           │          │
	│  │         ├── dead    ──▶ teardown, evict     │          │
	│  │         └── error   ──▶ push back (benign)  │          │
	│  │                                              │          │
	│  │  bounded by the level at sweep start        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │  for each default type:                     │          │
	│  │    fill pool to target level                │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  one cycle = one ReconcilePools call on the manager        │
	└────────────────────────────────────────────────────────┘

The sweep logic itself lives on the manager (ReconcilePools); this
package owns only the loop. That keeps the reconciler below the manager
in the import graph via the narrow Pools interface, the same way the
metrics collector takes a StatsProvider.

# Core Components

Reconciler:
  - Ticker loop with a fixed sweep interval
  - Each cycle calls Pools.ReconcilePools under a time budget
  - Start launches the loop; Stop cancels it and waits for an
    in-flight sweep to return

Pools:
  - Single-method interface the manager satisfies
  - Tests substitute a fake without touching backend state

# Sweep Semantics

A sweep never touches the session index. Active sessions are a
caller's property; if their sandbox dies the caller finds out through
its own requests, and cleanup handles them at shutdown. Pool entries
have no owner, which is exactly why the reconciler may destroy them.

Eviction is conservative:

  - Only a definitive non-running state from the backend evicts.
  - A status error keeps the entry; backend trouble is not evidence
    the sandbox died, and the next cycle will look again.
  - Corrupt pool records are dropped, matching what adoption would
    have done with them.

The per-type sweep is bounded by the queue level at sweep start, so
entries pushed by concurrent releases wait for the next cycle and the
sweep cannot chase its own re-enqueues.

# Usage

	r := reconciler.NewReconciler(mgr)
	r.Start()
	defer r.Stop()

Stop is safe to call without Start and returns only after the loop has
exited, so shutdown ordering stays simple: stop the reconciler, then
clean up the manager.

# Monitoring

Each cycle records:

  - agentrun_reconcile_cycles_total: sweeps performed
  - agentrun_reconcile_duration_seconds: cycle latency

A duration creeping toward the sweep budget means refills are doing
heavy lifting every cycle, which usually points at pool entries dying
faster than they are adopted.

# Troubleshooting

Pool stays below target between sweeps:
  - Symptom: PoolStatus dips after adoptions, recovers on a schedule
  - Cause: that is the design; the adopter's async refill failed and
    the reconciler is the backstop
  - Check: logs for "Pool refill failed" around the dips

Entries evicted every cycle:
  - Symptom: eviction log lines on a steady cadence
  - Cause: pooled sandboxes dying at rest (OOM, host pressure)
  - Check: backend events for the evicted handles

# Integration Points

This package integrates with:

  - pkg/manager: ReconcilePools does the actual sweeping
  - pkg/metrics: cycle counter and duration histogram

# See Also

  - pkg/manager for pool and adoption semantics
  - pkg/driver for the Status contract the sweep relies on
*/
package reconciler
