/*
Package kubernetes runs each sandbox as a pod plus a NodePort service.

This is the cluster backend: the sandbox lands on whatever node the
scheduler picks, the service allocates node ports for its control
plane, and clients reach it through a node address. The local port
arbiter is not involved; port accounting is the cluster's job.

# Architecture

	┌────────────────── KUBERNETES DRIVER ─────────────────────┐
	│                                                            │
	│  Create(req)                                               │
	│     │                                                      │
	│     ├─ Pod    "agentrun-<session>"                         │
	│     │     labels    managed / session / type               │
	│     │     container image (backend rewrite applied)        │
	│     │     probe     TCP on control port                    │
	│     │     volume    emptyDir at /workspace                 │
	│     │     knobs     pull policy, selector, tolerations,    │
	│     │               pull secrets, resource limits          │
	│     │                                                      │
	│     └─ Service "agentrun-<session>" (NodePort)             │
	│           selector  session label                          │
	│           ports     cluster-allocated node ports           │
	│                                                            │
	│  host = first node ExternalIP, else InternalIP             │
	│                                                            │
	└────────────────────────────────────────────────────────┘

# Credentials

The REST config resolves in strict order: in-cluster service account,
the kubeconfig path from configuration, $KUBECONFIG, ~/.kube/config.
The first source that loads wins.

# Lifecycle Mapping

Pods have no stopped-but-present state, so the five operations map
asymmetrically:

  - Create: pod + service; scheduling starts immediately
  - Start: existence check only
  - Stop: deletes the pod, keeps the service
  - Remove: deletes the service first, then the pod
  - Status: Pending=creating, Running=running,
    Succeeded/Failed=exited, not found=unknown

Remove deletes the service first so its node ports are freed even when
the pod delete fails and is retried later.

# Readiness

WaitForReady polls the pod until the phase is Running and every
container status reports Ready. The containers carry a TCP readiness
probe on the control port, so "all containers ready" means the control
server is accepting connections, not merely that the process started.
A Failed phase aborts the wait immediately.

# Troubleshooting

Create fails with "failed to build kubernetes config":

  - Cause: no usable credential source
  - Check: kubectl --kubeconfig <path> get nodes with the same path
  - Solution: set kubernetes.kubeconfig or KUBECONFIG

Create fails with "no node address available":

  - Cause: nodes expose neither ExternalIP nor InternalIP
  - Check: kubectl get nodes -o wide
  - Solution: expose node addresses or front the service differently

WaitForReady times out, pod Pending:

  - Cause: unschedulable (selector, taints, resources)
  - Check: kubectl describe pod agentrun-<session>
  - Solution: relax node_selector/tolerations or lower limits

# Integration Points

This package integrates with:

  - pkg/driver: Registers as "kubernetes" in init
  - pkg/images: Backend rewrite for cluster-local registries
  - pkg/config: Namespace, kubeconfig, and pod runtime knobs
  - pkg/log: Backend-scoped structured logging

# See Also

  - client-go: https://pkg.go.dev/k8s.io/client-go
  - NodePort services: https://kubernetes.io/docs/concepts/services-networking/service/#type-nodeport
*/
package kubernetes
