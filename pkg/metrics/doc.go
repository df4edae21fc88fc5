/*
Package metrics provides Prometheus metrics collection and exposition for
agentrun.

The metrics package defines the Prometheus metric vector for every
observable subsystem (sandboxes, pools, ports, API, tools, deployments,
training), a polling collector that snapshots manager state into gauges,
a component health registry backing /health, /ready, and /live endpoints,
and a small timer utility for histogram observations.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │         Metric Definitions                  │          │
	│  │  - Package-level vars, agentrun_* names     │          │
	│  │  - Registered once in init()                │          │
	│  │  - Counters incremented at call sites       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Collector                           │          │
	│  │  - Polls a StatsProvider every 15s          │          │
	│  │  - Sets gauges from the snapshot            │          │
	│  │  - Manager implements StatsProvider         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Health Checker                      │          │
	│  │  - Component registry (driver, state, api)  │          │
	│  │  - /health: all components healthy?         │          │
	│  │  - /ready: critical components ready?       │          │
	│  │  - /live: process responding?               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Exposition                          │          │
	│  │  - Handler() wraps promhttp                 │          │
	│  │  - Served at /metrics on the facade         │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Sandbox metrics:

	agentrun_sandboxes_active{sandbox_type}        gauge   connected sandboxes
	agentrun_pool_level{sandbox_type}              gauge   warm pool depth
	agentrun_ports_claimed                         gauge   arbiter claims
	agentrun_connects_total{sandbox_type,source}   counter connects (pool vs cold)
	agentrun_create_failures_total{backend}        counter failed creations
	agentrun_sandbox_create_duration_seconds{backend} histogram create-to-ready

API metrics:

	agentrun_api_requests_total{method,status}     counter facade requests
	agentrun_api_request_duration_seconds{method}  histogram request latency

Tool metrics:

	agentrun_tool_calls_total{tool,status}         counter in-container calls
	agentrun_tool_call_duration_seconds{tool}      histogram call latency

Deployment store metrics:

	agentrun_deployments_total                     gauge   records in store
	agentrun_store_backups_total                   counter backups written
	agentrun_store_dropped_records_total           counter corrupt records dropped

Training metrics:

	agentrun_training_instances_active             gauge   live instances
	agentrun_training_steps_total{env}             counter environment steps
	agentrun_training_reaped_total                 counter idle reaps

# Core Components

Metric Definitions:
  - Package-level prometheus vars
  - Registered in init() via MustRegister
  - Incremented directly at call sites (counters, histograms)

Collector:
  - Gauge values come from polling, not call sites
  - StatsProvider interface keeps this package below the manager
  - 15 second interval, immediate first collection

Health Checker:
  - RegisterComponent / UpdateComponent from anywhere
  - Critical components: driver, state, api
  - Readiness requires all critical components registered and healthy

Timer:
  - NewTimer() at operation start
  - ObserveDurationVec(histogram, labels...) at completion
  - Duration() for log fields

# Usage

Recording at call sites:

	timer := metrics.NewTimer()
	container, err := drv.Create(ctx, req)
	if err != nil {
		metrics.CreateFailures.WithLabelValues(string(backend)).Inc()
		return err
	}
	timer.ObserveDurationVec(metrics.CreateDuration, string(backend))

Wiring the collector:

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

Health endpoints:

	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

Component health updates:

	metrics.RegisterComponent("driver", true, "")
	// later, on failure
	metrics.UpdateComponent("driver", false, "docker daemon unreachable")

# Design Patterns

Pull Gauges, Push Counters Pattern:
  - Counters and histograms increment where events happen
  - Gauges are derived from state snapshots by the collector
  - Avoids gauge drift when operations fail mid-flight

Provider Interface Pattern:
  - Collector depends on StatsProvider, not on the manager
  - No import cycle: manager imports metrics for counters,
    metrics never imports manager

Global Registry Pattern:
  - Single default prometheus registry
  - Single package-level health checker
  - Matches one-process-one-service deployment

# Performance Characteristics

Counter increment: ~10ns, lock-free fast path
Histogram observe: ~50ns per observation
Collector poll: one manager snapshot per 15s
Exposition: proportional to series count, hundreds of series

# Monitoring

Useful queries:

	rate(agentrun_connects_total[5m])                     connect throughput
	agentrun_pool_level == 0                              pool starvation
	rate(agentrun_create_failures_total[5m]) > 0          backend trouble
	histogram_quantile(0.95,
	  rate(agentrun_sandbox_create_duration_seconds_bucket[5m]))

Alerting suggestions:

	PoolStarved:        pool level 0 for 5m while connects arrive
	CreateFailureBurst: create failures > 3 in 5m
	StoreDroppingData:  dropped records counter increasing

# Troubleshooting

Stale Gauges:
  - Symptom: gauges frozen while counters move
  - Cause: collector stopped or provider erroring
  - Check: logs for snapshot errors
  - Note: gauges keep last good value on provider failure

Duplicate Registration Panic:
  - Symptom: panic in init on MustRegister
  - Cause: package imported twice under different module paths
  - Solution: single module path for the tree

Missing Series:
  - Symptom: labeled series absent from /metrics
  - Cause: vectors only materialize labels after first use
  - Note: expected; dashboards should tolerate absent series

# Integration Points

This package integrates with:

  - pkg/manager: Implements StatsProvider, increments connect counters
  - pkg/driver: Create duration and failure metrics
  - pkg/server: API metrics middleware, health endpoints
  - pkg/box: Tool call metrics
  - pkg/deployments: Store backup and recovery counters
  - pkg/training: Step and reap counters

# See Also

  - Prometheus client: https://github.com/prometheus/client_golang
  - Metric naming: https://prometheus.io/docs/practices/naming/
  - Histogram usage: https://prometheus.io/docs/practices/histograms/
*/
package metrics
