/*
Package types defines the core data structures used throughout agentrun.

The types package is the shared vocabulary of the system: sandbox type and
backend enumerations, the Container record that every layer passes around,
the Deployment record persisted by the state store, and the tool result
envelope returned by in-container tool calls. It has no dependencies on
other agentrun packages so that every package can import it without cycles.

# Architecture

Types flow through the system from creation to persistence:

	┌──────────────────── TYPE RELATIONSHIPS ──────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            SandboxType                      │          │
	│  │  base | filesystem | browser | gui          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │ resolved to image, created by       │
	│                     ▼                                      │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Backend                          │          │
	│  │  docker | containerd | kubernetes |         │          │
	│  │  fc | studio                                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │ produces                             │
	│                     ▼                                      │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Container                        │          │
	│  │  SessionID, ContainerID, URL, Ports,        │          │
	│  │  RuntimeToken, MountDir, StoragePath,       │          │
	│  │  Meta, Timeout                              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │ queried as                           │
	│                     ▼                                      │
	│  ┌────────────────────────────────────────────┐          │
	│  │            ContainerState                   │          │
	│  │  creating → running → exited                │          │
	│  │         (unknown on inspect failure)        │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │  Deployment          ToolResult             │          │
	│  │  (agent registry)    (tool call envelope)   │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Types

SandboxType:
  - String enumeration of sandbox flavors
  - base: minimal toolchain, shell and ipython
  - filesystem: base plus mounted workspace persistence
  - browser: base plus headless browser stack
  - gui: base plus full desktop environment
  - BuiltinSandboxTypes() lists the four built-ins

Backend:
  - String enumeration of deployment backends
  - docker, containerd: local container runtimes
  - kubernetes: pod-per-sandbox on a cluster
  - fc, studio: managed remote runtimes

Container:
  - The record the manager hands to callers on connect
  - SessionID: caller-facing identity, also the container name suffix
  - ContainerID: backend handle (container ID, pod name, VM ID)
  - URL: base endpoint for the in-container control server
  - Ports: host ports claimed for this sandbox, as strings
  - Path: extra path prefix for backends that route by path
  - MountDir/StoragePath: optional persistence locations
  - RuntimeToken: bearer token the control server requires
  - Meta: free-form backend annotations
  - Timeout: per-call HTTP deadline for this sandbox, seconds

ContainerState:
  - creating: backend accepted the create, not yet serving
  - running: container process is up
  - exited: stopped, killed, or completed
  - unknown: inspect failed or handle not found

Deployment:
  - Persisted record of a deployed agent endpoint
  - ID, Platform, URL, AgentSource, CreatedAt are required
  - Valid() gates store recovery: records missing required
    fields are dropped as corrupt rather than resurrected

ToolResult:
  - Envelope for every tool invocation response
  - Content: ordered list of typed items (text today)
  - IsError: whether the invocation failed
  - TextResult and ErrorResult build the common shapes

# Container State Machine

States and transitions reported by driver Status:

	creating ──────▶ running ──────▶ exited
	    │               │
	    └───────────────┴──────────▶ unknown (inspect failure)

  - creating: between Create and readiness
  - running: Start succeeded, process alive
  - exited: Stop, crash, or OOM kill
  - unknown: handle vanished or backend unreachable

Terminal states are exited and unknown. Pollers treat both as "stop
waiting"; only running satisfies a readiness wait.

# JSON Conventions

  - All wire fields are snake_case (session_id, container_id)
  - ToolResult marshals isError (not is_error) to match the MCP
    content envelope consumed by agent frameworks
  - Optional fields marshal as null (pointers) or are omitted
    (omitempty), matching what existing clients tolerate
  - Meta round-trips arbitrary JSON values

# Design Patterns

Leaf Package Pattern:
  - types imports nothing from agentrun
  - Every package imports types
  - Prevents dependency cycles in a wide tree

String Enumeration Pattern:
  - SandboxType, Backend, ContainerState are typed strings
  - Serialize naturally in JSON and logs
  - Validated at boundaries, not on every use

Record Pattern:
  - Container is plain data, no behavior
  - Drivers build it, the manager indexes it, clients consume it
  - JSON round-trips through the collections store unchanged

# Integration Points

This package integrates with:

  - pkg/driver: Builds Container records, reports ContainerState
  - pkg/manager: Indexes Containers by SessionID
  - pkg/client: Dials Container.URL with Container.RuntimeToken
  - pkg/box: Produces ToolResult envelopes
  - pkg/deployments: Persists and recovers Deployment records
  - pkg/server: Serializes all of the above over HTTP

# See Also

  - MCP content format: https://modelcontextprotocol.io/specification
  - Docker container states: https://docs.docker.com/engine/reference/commandline/ps/
*/
package types
