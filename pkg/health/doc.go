/*
Package health provides health check mechanisms for monitoring sandbox
readiness and liveness.

The health package implements HTTP and TCP checkers behind a common
Checker interface, a Wait helper that polls a checker until it passes,
and a Status tracker that turns raw check results into a stable
healthy/unhealthy verdict with retry thresholds and startup grace
periods.

# Architecture

	┌──────────────────── HEALTH CHECKS ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Checker Interface                │          │
	│  │  Check(ctx) Result     Type() CheckType     │          │
	│  └─────────┬──────────────────────┬───────────┘          │
	│            │                      │                       │
	│  ┌─────────▼─────────┐  ┌─────────▼──────────┐          │
	│  │   HTTPChecker     │  │    TCPChecker      │          │
	│  │  - GET /healthz   │  │  - dial host:port  │          │
	│  │  - status range   │  │  - connect = pass  │          │
	│  │  - custom headers │  │  - timeout         │          │
	│  └───────────────────┘  └────────────────────┘          │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Wait(ctx, checker, interval)     │          │
	│  │  poll until healthy or context deadline     │          │
	│  │  error carries the last failure message     │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Status                           │          │
	│  │  consecutive failures vs retry threshold    │          │
	│  │  startup grace period                       │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Checker:
  - Single-shot check, never panics, never blocks past its timeout
  - Result carries healthy flag, message, timestamp, duration

HTTPChecker:
  - Builder-style configuration (WithMethod, WithHeader,
    WithStatusRange, WithTimeout)
  - Default accepts 200-399
  - Used against the in-container /healthz endpoint

TCPChecker:
  - Connection success is the whole check
  - Used for services that expose a port before an HTTP surface

Wait:
  - Checks immediately, then on every interval tick
  - Context deadline bounds the total wait
  - Failure error includes the last check's message

Status:
  - New sandboxes assume healthy until proven otherwise
  - Unhealthy only after Retries consecutive failures
  - One success restores healthy and resets the streak
  - StartPeriod suppresses verdicts while a sandbox boots

# Usage

Waiting for a sandbox to become ready:

	checker := health.NewHTTPChecker(container.URL + "/healthz").
		WithTimeout(2 * time.Second)

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	if err := health.Wait(ctx, checker, time.Second); err != nil {
		return fmt.Errorf("sandbox never became ready: %w", err)
	}

TCP readiness for a port-only service:

	checker := health.NewTCPChecker("127.0.0.1:49153")
	if err := health.Wait(ctx, checker, time.Second); err != nil {
		return err
	}

Ongoing monitoring with Status:

	status := health.NewStatus()
	config := health.Config{Interval: 30 * time.Second, Retries: 3}

	result := checker.Check(ctx)
	status.Update(result, config)
	if !status.Healthy && !status.InStartPeriod(config) {
		// reap the sandbox
	}

# Design Patterns

Builder Pattern:
  - Checkers configure via chainable With* methods
  - Constructors give working defaults

Single-Shot Check Pattern:
  - Checkers hold no state between calls
  - Scheduling and thresholds live in Wait and Status

Threshold Pattern:
  - One failed probe never condemns a sandbox
  - Retries consecutive failures flip the verdict

# Performance Characteristics

HTTP check: one request, bounded by client timeout (default 10s)
TCP check: one dial, bounded by dial timeout (default 5s)
Wait: interval-paced, no backoff (readiness windows are short)
Status update: in-memory, constant time

# Troubleshooting

Checks Pass But Sandbox Misbehaves:
  - Symptom: /healthz green, tool calls fail
  - Cause: liveness endpoint is intentionally unauthenticated
    and shallow
  - Solution: treat tool-call failures as the real signal

Wait Times Out Instantly:
  - Symptom: Wait returns before any real polling
  - Cause: parent context already near its deadline
  - Check: the deadline set by the caller

False Unhealthy During Boot:
  - Symptom: sandboxes reaped while still starting
  - Cause: StartPeriod of zero with slow images
  - Solution: set StartPeriod above worst-case boot time

# Integration Points

This package integrates with:

  - pkg/client: Wait on /healthz before the first tool call
  - pkg/driver/containerd: TCP readiness for host-network tasks
  - pkg/driver/managed: HTTP readiness against remote runtimes
  - pkg/manager: Status tracking for auto-cleanup decisions

# See Also

  - Kubernetes probe semantics: https://kubernetes.io/docs/tasks/configure-pod-container/configure-liveness-readiness-startup-probes/
  - Health check patterns: https://microservices.io/patterns/observability/health-check-api.html
*/
package health
