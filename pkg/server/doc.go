/*
Package server implements the manager HTTP facade.

The server package is the external surface of the lifecycle manager:
a small REST API that agent frameworks and the CLI call to acquire,
inspect, and release sandboxes. It wraps a manager instance, adds the
bearer gate and the Prometheus endpoint, and keeps the wire contract
that pkg/client's Manager speaks.

# Architecture

The facade fronts one manager per process:

	┌──────────────── CALLER (framework / CLI) ──────────────────┐
	│                                                             │
	│  pkg/client.Manager ── Bearer token                         │
	└─────────────────────┬──────────────────────────────────────┘
	                      │ HTTP (default :8090)
	                      │
	┌─────────────────────▼──── MANAGER PROCESS ─────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐          │
	│  │          Facade (pkg/server)                  │          │
	│  │  - Static route table                         │          │
	│  │  - Bearer middleware on /v1                   │          │
	│  │  - {data}/{error} envelopes                   │          │
	│  │  - Request metrics                            │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │          Manager (pkg/manager)                │          │
	│  │  - Connect / Release / Get / List / Pools     │          │
	│  └──────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

# Routes

The complete surface is the static table in routes():

	GET  /health                     status, version, default type (open)
	GET  /ready                      readiness gate for orchestrators (open)
	GET  /live                       liveness probe (open)
	GET  /metrics                    Prometheus exposition (open)
	POST /v1/sandboxes/connect       acquire a sandbox for a session
	POST /v1/sandboxes/release       return a sandbox (pool or teardown)
	GET  /v1/sandboxes               list active records
	GET  /v1/sandboxes/:session_id   one record
	GET  /v1/pools                   warm pool levels by type

Routes are declared, not discovered: adding an endpoint means adding a
Route entry, and the table is what the route test asserts against.

# Envelopes

Success responses wrap their payload:

	{"data": {...}}

Failures carry a message and a matching status:

	{"error": "session not found: sess-1"}   404
	{"error": "unknown sandbox type: \"x\""}  400

/health is the one bare-JSON response, so load balancers and the CLI
probe read the same shape without unwrapping.

# Usage

Normally wired by cmd/agentrun manager:

	mgr, err := manager.Build(cfg)
	if err != nil {
		log.Fatal(err)
	}

	srv := server.New(cfg, mgr, version)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// ... wait for signal ...
	srv.Shutdown(shutdownCtx)
	if cfg.Server.AutoCleanup {
		mgr.Cleanup(cleanupCtx)
	}
	mgr.Close()

# Authentication

The bearer gate applies to every /v1 route:

  - Token configured: Authorization must be exactly "Bearer <token>";
    failures get 401 with WWW-Authenticate: Bearer
  - No token configured: the facade runs open and logs one warning at
    startup

/health, /ready, /live and /metrics stay open either way so probes and
scrapes never need credentials.

# Multi-Worker Deployments

Several facade processes can front the same sandbox estate when the
shared Redis store is enabled; config validation refuses workers > 1
without it, because the session index and warm pools must be shared
for any worker to answer for any session.

# Error Mapping

Manager errors map to statuses by sentinel:

  - manager.ErrSessionNotFound: 404
  - images.ErrUnknownType: 400
  - anything else: 500

# Integration Points

This package integrates with:

  - pkg/manager: Executes every operation
  - pkg/client: The typed caller; round-trip tested against it
  - pkg/metrics: Request counters and the /metrics handler
  - pkg/config: Listen address, token, worker validation

# Design Patterns

Static Route Table:
  - The surface is data, not behavior
  - Tests compare the table to the documented contract

Interface Seam:
  - The facade depends on the Sandboxes interface, not the concrete
    manager, so handler tests run against a stub

Envelope Consistency:
  - One respondData, one respondError; handlers never hand-roll JSON

# Troubleshooting

Common issues:

401 with a correct-looking token:
  - Whitespace or missing "Bearer " prefix in the header
  - Facade and caller configured with different tokens

404 on release:
  - Session already released or swept by Cleanup
  - Multi-worker without Redis: record lives in another process

Connect hangs then 500:
  - Backend create or readiness timed out; the error names the
    image and backend
  - Check backend availability and image pull state

# Monitoring

Key metrics to monitor:

  - agentrun_api_requests_total{method, status}: Request rate and errors
  - agentrun_api_request_duration_seconds{method}: Latency
  - agentrun_sandboxes_active / agentrun_pool_level: Estate gauges

# See Also

  - pkg/manager for operation semantics
  - pkg/client for the typed caller
  - pkg/metrics for the exposition endpoint
  - cmd/agentrun manager for process wiring
*/
package server
