/*
Package containerd runs sandboxes as containerd tasks on the host
network.

This backend skips the daemon and its port mapping layer entirely. The
sandbox process binds its claimed host port directly; the PORT
environment variable tells it which one. That makes it the lightest
local backend, at the cost of requiring images whose control server
reads PORT.

# Architecture

	┌────────────────── CONTAINERD DRIVER ─────────────────────┐
	│                                                            │
	│  namespace "agentrun"                                      │
	│                                                            │
	│  Create(req)                                               │
	│     │                                                      │
	│     ├─ ensureImage: content store → primary → mirror       │
	│     ├─ arbiter.Claim(n) ──> env PORT=<first port>          │
	│     └─ NewContainer                                        │
	│          spec   host network, /workspace + readonly binds  │
	│          labels managed / session / ports=49153,49154      │
	│                                                            │
	│  Start: NewTask(NullIO) + task.Start                       │
	│  Stop:  SIGTERM → wait grace → SIGKILL → task.Delete       │
	│  Remove: release label ports → stop → Delete(+snapshot)    │
	│                                                            │
	└────────────────────────────────────────────────────────┘

# Host Networking

The OCI spec shares the host network namespace (plus hosts file and
resolv.conf), so there is nothing to publish: the port the arbiter
claimed is the port the process listens on. Readiness is therefore a
TCP probe on that port, not an HTTP check, because the probe must not
depend on how far the control server got through its own startup.

# Port Accounting

Claimed ports are recorded in the agentrun.ports container label at
create time. Remove reads them back from the label and releases them,
which keeps port accounting correct across manager restarts without a
side table.

# State Mapping

	task status                 reported state
	──────────────────          ──────────────
	running / paused            running
	created                     creating
	no task on the container    creating
	stopped                     exited
	container not found         unknown

A container without a task was created but never started; that is the
pool's pre-created state, not an error.

# Troubleshooting

Create fails with "failed to connect to containerd":

  - Cause: socket missing or permissions
  - Check: ls -l /run/containerd/containerd.sock, run as root
  - Solution: start containerd or run the service with socket access

WaitForReady times out but the task is running:

  - Cause: the image's control server ignores PORT and binds a fixed
    port
  - Check: ctr -n agentrun tasks exec <id> -- ss -tlnp
  - Solution: use an image that honors PORT

Ports leak after crash-removing containers with ctr:

  - Cause: out-of-band deletes skip the label release
  - Check: ctr -n agentrun containers ls
  - Solution: the cleanup pass reconciles claims against List output

# Integration Points

This package integrates with:

  - pkg/driver: Registers as "containerd" in init
  - pkg/ports: Claims the host ports tasks bind directly
  - pkg/images: Mirror rewrite for the pull fallback
  - pkg/health: TCP readiness probe on the claimed port
  - pkg/log: Backend-scoped structured logging

# See Also

  - containerd client docs: https://pkg.go.dev/github.com/containerd/containerd
  - OCI runtime spec: https://github.com/opencontainers/runtime-spec
*/
package containerd
