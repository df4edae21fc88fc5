/*
Package docker runs sandboxes as containers on the local docker daemon.

This is the default backend for single-host deployments: no cluster, no
remote runtime, just the daemon the service itself runs next to. Each
service port of the sandbox is published on a host port claimed from the
port arbiter, so the control plane is reachable on localhost.

# Architecture

	┌──────────────────── DOCKER DRIVER ───────────────────────┐
	│                                                            │
	│  Create(req)                                               │
	│     │                                                      │
	│     ├─ ensureImage: cache → primary → mirror + retag       │
	│     ├─ removeStale: free the session name                  │
	│     ├─ arbiter.Claim(len(service ports))                   │
	│     └─ ContainerCreate                                     │
	│          Env       KEY=VALUE, sorted                       │
	│          Labels    agentrun.managed / .session / .type     │
	│          Bindings  service port -> claimed host port       │
	│          Mounts    /workspace rw + readonly binds          │
	│                                                            │
	│  Remove(handle)                                            │
	│     │                                                      │
	│     ├─ inspect: recover host ports from bindings           │
	│     ├─ ContainerRemove (force)                             │
	│     └─ arbiter.Release(bound ports)                        │
	│                                                            │
	└────────────────────────────────────────────────────────┘

# Image Resolution

ensureImage tries three sources in strict order:

 1. Local cache: ImageInspectWithRaw on the canonical reference
 2. Primary registry: ImagePull of the canonical reference
 3. Mirror: ImagePull of the rewritten reference, then ImageTag back
    to the canonical name

The retag in step 3 keeps every container definition pointing at the
canonical name regardless of where the bytes came from, so a later
create on the same host hits the cache in step 1.

# Port Publishing

The driver never lets the daemon pick host ports. Each service port is
bound to a host port claimed from the arbiter, paired by position, with
the control server always first. Remove reads the bindings back out of
the inspect response and releases exactly those ports, so a crashed
manager cannot strand claims behind live containers.

# Labels

	agentrun.managed = "true"      ownership marker, cleanup filter
	agentrun.session = <session>   maps containers back to sessions
	agentrun.type    = <type>      sandbox flavor for inventory

List filters on agentrun.managed and is how the cleanup pass finds
containers that outlived their records.

# State Mapping

	docker inspect state        reported state
	──────────────────────      ──────────────
	running                     running
	created                     creating
	exited / dead / removing    exited
	handle not found            unknown

Exit codes 137 (SIGKILL) and 143 (SIGTERM) are what docker stop leaves
behind and are treated as a normal exit.

# Troubleshooting

Create fails with "failed to reach docker daemon":

  - Cause: daemon not running or DOCKER_HOST wrong
  - Check: docker info from the same environment
  - Solution: start the daemon or fix DOCKER_HOST

Container running but WaitForReady times out:

  - Cause: control server inside the image not listening on the first
    service port
  - Check: docker logs <container>, then curl the published /healthz
  - Solution: fix the image entrypoint or the configured service port

Host ports exhausted despite few sandboxes:

  - Cause: stale claims from containers removed outside the service
  - Check: docker ps -a --filter label=agentrun.managed=true
  - Solution: the cleanup pass reconciles claims against List output

# Integration Points

This package integrates with:

  - pkg/driver: Registers as "docker" in init
  - pkg/ports: Claims and releases published host ports
  - pkg/images: Mirror rewrite for the pull fallback
  - pkg/health: HTTP readiness probe on the control port
  - pkg/log: Backend-scoped structured logging

# See Also

  - Docker Engine API: https://docs.docker.com/engine/api/
  - Port binding reference: https://docs.docker.com/network/#published-ports
*/
package docker
