/*
Package managed runs sandboxes on vendor-hosted serverless runtimes
(the fc and studio backends). Both vendors expose the same REST shape,
so one driver serves both; the factory binds each backend name to its
own base URL and API key from configuration.

# Architecture

	Create(req)
	   |
	   v
	POST {base}/v1/runtimes {name, image, env}
	   |            \
	   |             \-- 409: GET by name, adopt the survivor
	   v
	GET {base}/v1/runtimes/{id}   (poll until terminal)
	   |
	   |  ready/active  -> derive (host, path, https) from endpoint
	   |  failed        -> error
	   |  deleting      -> error
	   v
	CreateResult{Handle: id, Host, Protocol: https, Ports: [443], Path}

The vendor owns scheduling, port allocation, and TLS termination.
Nothing here touches the port arbiter: every managed runtime is
reachable on 443 and routed by the path prefix the vendor assigns.

# Lifecycle Mapping

	vendor status                        state
	-------------------------------      --------
	creating, pending, provisioning      creating
	ready, active, running               running
	stopping, stopped, failed, exited    exited
	deleting                             exited
	404 or unrecognized                  unknown

Stop posts to the vendor's stop action and Remove deletes the runtime
object; both treat 404 as success so retries after partial failures
converge.

# Endpoint Derivation

The vendor reports a public endpoint such as

	https://rt-1.runtimes.example.com/apps/rt-1

which splits into Host (rt-1.runtimes.example.com), Path (/apps/rt-1),
and Protocol (https). Endpoints without a scheme are treated as https.
Sandbox URLs are composed as protocol://host + path + route, so the
path prefix must survive into CreateResult.Path.

# Troubleshooting

Runtime creation times out:

  - Cause: the vendor never reaches ready/active within
    poll_interval x max_attempts
  - Check: the vendor dashboard for the runtime named
    agentrun-<session-id>
  - Solution: raise max_attempts for slow-start images, or delete the
    stuck runtime so the next create starts fresh

401 responses from the vendor:

  - Cause: missing or rotated API key
  - Check: the api_key under the fc: or studio: config section
  - Solution: set the current key; the driver sends it as a bearer
    token on every request

Create succeeds but WaitForReady times out:

  - Cause: the vendor marks the runtime ready before the sandbox
    control server inside it is listening
  - Check: curl <endpoint>/healthz
  - Solution: increase the readiness timeout for images with slow
    boot sequences

# Integration Points

  - pkg/driver: contract, registry, and PollUntil
  - pkg/config: ManagedConfig under the fc: and studio: sections
  - pkg/images: per-backend image rewrites before create
  - pkg/health: HTTP readiness probe against the public endpoint

# See Also

  - pkg/driver/docker for the local backend with arbiter-claimed ports
  - pkg/driver/kubernetes for the cluster backend with NodePorts
*/
package managed
