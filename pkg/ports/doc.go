/*
Package ports arbitrates host port assignment for sandbox containers.

Local backends publish each container service on a distinct host port, so
concurrent sandbox creation needs an arbiter that never hands two
containers the same port. The arbiter owns a half-open [start, end) range
and records claims in a collections.Set. With the memory backend that
protects against races inside one process; with the redis backend it
protects a whole fleet of workers sharing the range on one host.

# Architecture

	┌──────────────────── PORT ARBITER ────────────────────────┐
	│                                                            │
	│  Range [start, end)                                        │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │         ClaimOne(ctx)                       │          │
	│  │                                              │          │
	│  │  random offset ──▶ candidate port           │          │
	│  │        │                                     │          │
	│  │        ▼                                     │          │
	│  │  Set.Add(port)  ── lost race ──▶ next       │          │
	│  │        │ won                                 │          │
	│  │        ▼                                     │          │
	│  │  bind probe     ── bind fails ──▶ release,  │          │
	│  │        │ ok                        next      │          │
	│  │        ▼                                     │          │
	│  │  return port                                 │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │         Claim(ctx, n)                       │          │
	│  │  n × ClaimOne, all-or-nothing:              │          │
	│  │  any failure rolls back every claim and     │          │
	│  │  returns ErrNotEnoughPorts                  │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  Claims live in collections.Set "ports"                    │
	│  (memory or redis, shared across workers)                  │
	└────────────────────────────────────────────────────────┘

# Claim Protocol

A claim is two steps, in order:

 1. Test-and-set the port into the claimed set. Losing the race means
    another claimant owns it; move to the next candidate.
 2. Bind the port and close it. The set only knows about ports the
    manager assigned, not about sshd or a debugger squatting in the
    range. A failed bind releases the claim and moves on.

The race between step 2's close and the container's own bind is real but
harmless: the port stays claimed in the set the whole time, so the only
party that will bind it is the container it was assigned to.

Scans start at a random offset into the range, which keeps concurrent
claimants from colliding on the same low candidates and paying a set
round-trip per collision.

# Multi-Port Claims

Claim(n) is all-or-nothing. A sandbox type that exposes three services
either gets three ports or none; partial claims are rolled back and
ErrNotEnoughPorts is returned so the caller can fail the whole create
cleanly. ClaimOne exhaustion returns ErrNoFreePorts.

# Release

Ports are released when the container that held them is removed, via
Release. Releasing an unclaimed port is a no-op, so remove paths can
release unconditionally. A crash between claim and container
registration can strand a claim; the manager's cleanup pass reconciles
the claimed set against the live index and returns strays.

# Usage

	set := store.Set("ports")
	arbiter := ports.NewArbiter(cfg.Ports.Start, cfg.Ports.End, set)

	port, err := arbiter.ClaimOne(ctx)
	if err != nil {
		return err
	}

	allocated, err := arbiter.Claim(ctx, 3)
	if errors.Is(err, ports.ErrNotEnoughPorts) {
		// range exhausted, fail the create
	}

	defer arbiter.Release(ctx, allocated...)

Tests substitute the probe:

	arbiter := ports.NewArbiter(50000, 50010, set,
		ports.WithProbe(func(port int) bool { return port != 50003 }))

# Design Patterns

Test-and-Set Pattern:
  - collections.Set.Add is the only synchronization primitive
  - Works identically in-process and across workers via redis

Verify-Then-Trust Pattern:
  - The set is authority for manager-assigned ports
  - The bind probe catches squatters outside the manager
  - Failed probes release immediately, no quarantine list

Randomized Scan Pattern:
  - Random start offset, linear wrap-around scan
  - Full range coverage with low collision probability

# Troubleshooting

Frequent ErrNoFreePorts:
  - Symptom: claims fail while few sandboxes run
  - Cause: stranded claims from crashed workers
  - Check: set cardinality vs. live sandbox count
  - Solution: run cleanup, or clear the set while idle

Slow Claims:
  - Symptom: ClaimOne takes many round-trips
  - Cause: range mostly claimed, scan walks occupied ports
  - Solution: widen the range or lower pool sizes

Probe Passes But Container Fails to Bind:
  - Symptom: container exits with EADDRINUSE
  - Cause: another process bound between probe and start
  - Note: the process was outside the manager; the claim itself
    was never double-assigned

# Integration Points

This package integrates with:

  - pkg/collections: Claim state lives in a Set
  - pkg/driver/docker: Claims ports for published container services
  - pkg/driver/containerd: Claims the host port handed to the task
  - pkg/manager: Releases ports on sandbox removal and cleanup

# See Also

  - Ephemeral port ranges: https://www.rfc-editor.org/rfc/rfc6335
  - Redis SADD semantics: https://redis.io/commands/sadd/
*/
package ports
