/*
Package config loads and validates the agentrun manager configuration.

The config package merges three configuration layers into a single Config
struct handed to every service at startup: built-in defaults, an optional
YAML file, and AGENTRUN_*-prefixed environment variables. Later layers win.
Nothing else in the tree reads os.Getenv after Load returns; components
receive the sections they need as plain values.

# Architecture

Configuration flows through three layers before validation:

	┌──────────────────── CONFIG PIPELINE ─────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │         Built-in Defaults                   │          │
	│  │  - Default() returns complete Config        │          │
	│  │  - Safe single-worker docker setup          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │ overlaid by                          │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         YAML File (optional)                │          │
	│  │  - Path from --config flag                  │          │
	│  │  - Partial files fine: absent keys keep     │          │
	│  │    the default value                        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │ overlaid by                          │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Environment (AGENTRUN_*)            │          │
	│  │  - One variable per scalar                  │          │
	│  │  - Lists comma-separated                    │          │
	│  │  - Malformed values ignored                 │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │ checked by                           │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Validate(backends)                  │          │
	│  │  - Unknown backend fails                    │          │
	│  │  - Workers > 1 requires redis               │          │
	│  │  - Port range must be non-empty             │          │
	│  │  - Pool types must have images              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Config Sections:
  - Server: facade bind address, worker count, bearer token, auto-cleanup
  - Sandbox: backend selection, warm pool types and size, client timeout
  - Ports: half-open [start, end) host port range for the arbiter
  - Redis: shared store for multi-worker deployments
  - Archive: bbolt-backed workspace archive store
  - Mounts: mount provisioning base directory and read-only binds
  - Images: sandbox type to image map, per-backend rewrite tables
  - K8s: cluster driver namespace and kubeconfig
  - FC/Studio: managed runtime endpoints and polling
  - State: deployment store directory
  - Training: training environment service address and reaper tuning
  - Log: level and output format

Load:
  - Load(path) applies the three layers in order
  - Empty path skips the file layer
  - File read or parse errors fail the load

Validate:
  - Takes the registered backend names as a parameter
  - Avoids a dependency on the driver registry
  - Fails fast on states that would surface as confusing
    runtime errors later

# Environment Variables

Every scalar has an AGENTRUN_ name:

	AGENTRUN_HOST                    facade bind host
	AGENTRUN_PORT                    facade bind port
	AGENTRUN_WORKERS                 worker process count
	AGENTRUN_BEARER_TOKEN            facade auth token
	AGENTRUN_AUTO_CLEANUP            reap exited sandboxes
	AGENTRUN_DEPLOYMENT              backend name
	AGENTRUN_DEFAULT_SANDBOX_TYPES   comma-separated pool types
	AGENTRUN_POOL_SIZE               warm pool target per type
	AGENTRUN_SANDBOX_TIMEOUT         per-sandbox client deadline (s)
	AGENTRUN_PORT_RANGE_START        arbiter range start (inclusive)
	AGENTRUN_PORT_RANGE_END          arbiter range end (exclusive)
	AGENTRUN_REDIS_ENABLED           use shared redis store
	AGENTRUN_REDIS_ADDR              redis host:port
	AGENTRUN_ARCHIVE_ENABLED         workspace archiving
	AGENTRUN_MOUNT_DIR               mount provisioning base
	AGENTRUN_READONLY_MOUNTS         "host:container" pairs, comma-joined
	AGENTRUN_STATE_DIR               deployment store directory
	AGENTRUN_TRAINING_PORT           training service port
	AGENTRUN_LOG_LEVEL               debug/info/warn/error

KUBECONFIG is honored without the prefix because that is the name every
Kubernetes tool agrees on.

Unset variables leave the previous layer's value alone. Malformed
integers and booleans are ignored rather than failing the load, so a
stray value cannot stop the daemon from reading its file config.

# Usage

Loading and validating:

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(driver.Available()); err != nil {
		return err
	}

YAML file example:

	server:
	  port: 8090
	  workers: 4
	  bearer_token: changeme
	sandbox:
	  deployment: kubernetes
	  default_types: [base, browser]
	  pool_size: 2
	redis:
	  enabled: true
	  addr: redis.internal:6379
	images:
	  rewrites:
	    kubernetes:
	      agentrun/sandbox-base:latest: registry.internal/agentrun/sandbox-base:latest

# Validation

Validate rejects:

  - a deployment backend name not in the driver registry
  - more than one worker without the shared redis store (in-process
    collections cannot be shared across processes)
  - an empty or inverted port range
  - a negative pool size
  - a default sandbox type with no configured image

# Design Patterns

Layered Override Pattern:
  - Defaults always produce a runnable config
  - File config for deployments, env for container platforms
  - Env wins so orchestrators can override without file edits

Sectioned Config Pattern:
  - One struct per concern, composed into Config
  - Components receive only the section they need
  - No component holds the full Config

Parameterized Validation Pattern:
  - Validate takes the backend list as input
  - config stays a leaf package below driver

# Integration Points

This package integrates with:

  - cmd/agentrun: Loads config before starting any service
  - pkg/manager: Pool types, pool size, timeouts
  - pkg/ports: Port range
  - pkg/images: Type and rewrite tables
  - pkg/driver: Backend selection and per-backend sections
  - pkg/deployments: State directory
  - pkg/training: Service address and reaper tuning

# See Also

  - YAML specification: https://yaml.org/spec/1.2.2/
  - 12-Factor App Config: https://12factor.net/config
*/
package config
