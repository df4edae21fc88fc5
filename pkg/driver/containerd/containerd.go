package containerd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/driver"
	"github.com/agentrun/agentrun/pkg/health"
	"github.com/agentrun/agentrun/pkg/images"
	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/ports"
	"github.com/agentrun/agentrun/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace all sandboxes live in.
	DefaultNamespace = "agentrun"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// managedLabel marks containers this service owns.
	managedLabel = "agentrun.managed"

	// sessionLabel carries the session id for List.
	sessionLabel = "agentrun.session"

	// portsLabel records the claimed host ports so Remove can release
	// them without any external state.
	portsLabel = "agentrun.ports"

	// workspaceTarget is where the session workspace is mounted inside
	// the container.
	workspaceTarget = "/workspace"

	// stopGrace is how long a task gets between SIGTERM and SIGKILL.
	stopGrace = 10 * time.Second
)

func init() {
	driver.Register("containerd", New)
}

// Driver runs sandboxes as containerd tasks on the host network. There
// is no port mapping layer: the sandbox process binds its claimed host
// port directly, told which one through the PORT environment variable.
type Driver struct {
	client    *containerd.Client
	namespace string
	arbiter   *ports.Arbiter
	resolver  *images.Resolver
	logger    zerolog.Logger
}

// New connects to the containerd socket and scopes every call to the
// service namespace.
func New(cfg *config.Config, deps driver.Deps) (driver.Driver, error) {
	client, err := containerd.New(DefaultSocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &Driver{
		client:    client,
		namespace: DefaultNamespace,
		arbiter:   deps.Arbiter,
		resolver:  deps.Resolver,
		logger:    log.WithBackend("containerd"),
	}, nil
}

// Backend returns the backend this driver serves.
func (d *Driver) Backend() types.Backend {
	return types.BackendContainerd
}

// Create pulls the image if needed, claims host ports, and creates a
// host-network container named after the session. The task is not
// started.
func (d *Driver) Create(ctx context.Context, req driver.CreateRequest) (*driver.CreateResult, error) {
	if len(req.ServicePorts) == 0 {
		return nil, fmt.Errorf("no service ports requested for session %s", req.SessionID)
	}
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	image, err := d.ensureImage(ctx, req.Image)
	if err != nil {
		return nil, err
	}

	hostPorts, err := d.arbiter.Claim(ctx, len(req.ServicePorts))
	if err != nil {
		return nil, fmt.Errorf("failed to claim host ports: %w", err)
	}

	// On the host network the process must bind the claimed port
	// itself; PORT tells it which one.
	env := make(map[string]string, len(req.Env)+1)
	for k, v := range req.Env {
		env[k] = v
	}
	env["PORT"] = strconv.Itoa(hostPorts[0])

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(flattenEnv(env)),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostHostsFile,
		oci.WithHostResolvconf,
	}
	if mounts := specMounts(req.MountDir, req.ReadonlyMounts); len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	name := driver.ContainerName(req.SessionID)
	container, err := d.client.NewContainer(
		ctx,
		name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(map[string]string{
			managedLabel: "true",
			sessionLabel: req.SessionID,
			portsLabel:   encodePorts(hostPorts),
		}),
	)
	if err != nil {
		d.arbiter.Release(ctx, hostPorts...)
		return nil, fmt.Errorf("failed to create container %s: %w", name, err)
	}

	d.logger.Info().
		Str("session_id", req.SessionID).
		Str("container", container.ID()).
		Ints("host_ports", hostPorts).
		Msg("Container created")

	return &driver.CreateResult{
		Handle:   container.ID(),
		Host:     "localhost",
		Protocol: "http",
		Ports:    hostPorts,
		MountDir: req.MountDir,
		Meta: map[string]any{
			"namespace": d.namespace,
			"image":     req.Image,
		},
	}, nil
}

// Start creates and starts the container's task.
func (d *Driver) Start(ctx context.Context, handle string) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, handle)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", handle, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task for %s: %w", handle, err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task for %s: %w", handle, err)
	}
	return nil
}

// Stop terminates the container's task: SIGTERM, wait out the grace
// period, then a forced delete. A nil grace uses the default window; a
// zero grace kills immediately. A container without a task, or a
// vanished one, is already stopped.
func (d *Driver) Stop(ctx context.Context, handle string, grace *time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, handle)
	if err != nil {
		return nil
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil
	}

	wait := stopGrace
	if grace != nil {
		wait = *grace
	}
	if wait > 0 && d.termWait(ctx, task, wait) {
		if _, err := task.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete task for %s: %w", handle, err)
		}
		return nil
	}

	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil {
		return fmt.Errorf("failed to force kill task for %s: %w", handle, err)
	}
	return nil
}

// termWait signals SIGTERM and reports whether the task exited within
// the grace window.
func (d *Driver) termWait(ctx context.Context, task containerd.Task, grace time.Duration) bool {
	stopCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return false
	}
	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return false
	}
	select {
	case <-statusC:
		return true
	case <-stopCtx.Done():
		return false
	}
}

// Remove releases the host ports recorded in the container's labels,
// stops any running task, and deletes the container with its snapshot.
// Force skips the SIGTERM drain. Removing a vanished handle reports
// success.
func (d *Driver) Remove(ctx context.Context, handle string, force bool) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, handle)
	if err != nil {
		return nil
	}

	if labels, err := container.Labels(ctx); err == nil {
		if claimed := decodePorts(labels[portsLabel]); len(claimed) > 0 {
			if err := d.arbiter.Release(ctx, claimed...); err != nil {
				d.logger.Warn().Err(err).Ints("ports", claimed).Msg("Failed to release host ports")
			}
		}
	}

	var grace *time.Duration
	if force {
		grace = new(time.Duration)
	}
	if err := d.Stop(ctx, handle, grace); err != nil {
		d.logger.Warn().Err(err).Str("container", handle).Msg("Failed to stop before delete")
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container %s: %w", handle, err)
	}

	d.logger.Info().Str("container", handle).Msg("Container removed")
	return nil
}

// Status reports the container's lifecycle state and the raw task
// status it was derived from. A container without a task was created
// but never started; a vanished handle is unknown.
func (d *Driver) Status(ctx context.Context, handle string) (types.ContainerState, map[string]any, error) {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, handle)
	if err != nil {
		return types.ContainerStateUnknown, nil, nil
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.ContainerStateCreating, nil, nil
	}
	status, err := task.Status(ctx)
	if err != nil {
		return types.ContainerStateUnknown, nil, fmt.Errorf("failed to get task status for %s: %w", handle, err)
	}
	attrs := map[string]any{
		"task_status": string(status.Status),
		"exit_code":   status.ExitStatus,
	}
	return stateFromTask(status.Status), attrs, nil
}

// WaitForReady probes the claimed control port over TCP until the
// sandbox process binds it or the timeout elapses.
func (d *Driver) WaitForReady(ctx context.Context, result *driver.CreateResult, timeout time.Duration) error {
	if len(result.Ports) == 0 {
		return fmt.Errorf("create result has no claimed ports")
	}
	addr := fmt.Sprintf("%s:%d", result.Host, result.Ports[0])
	checker := health.NewTCPChecker(addr).WithTimeout(2 * time.Second)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return health.Wait(waitCtx, checker, time.Second)
}

// List enumerates managed containers in the service namespace for the
// cleanup pass.
func (d *Driver) List(ctx context.Context) ([]driver.Instance, error) {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	containers, err := d.client.Containers(ctx, fmt.Sprintf(`labels.%q==%q`, managedLabel, "true"))
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	instances := make([]driver.Instance, 0, len(containers))
	for _, c := range containers {
		labels, err := c.Labels(ctx)
		if err != nil {
			continue
		}
		sessionID := labels[sessionLabel]
		if sessionID == "" {
			continue
		}

		state := types.ContainerStateCreating
		if task, err := c.Task(ctx, nil); err == nil {
			if status, err := task.Status(ctx); err == nil {
				state = stateFromTask(status.Status)
			} else {
				state = types.ContainerStateUnknown
			}
		}

		instances = append(instances, driver.Instance{
			Handle:    c.ID(),
			SessionID: sessionID,
			State:     state,
		})
	}
	return instances, nil
}

// Close releases the containerd client connection.
func (d *Driver) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// ensureImage returns the canonical image, pulling it if the content
// store does not have it yet: canonical reference first, then the
// configured mirror.
func (d *Driver) ensureImage(ctx context.Context, canonical string) (containerd.Image, error) {
	if image, err := d.client.GetImage(ctx, canonical); err == nil {
		return image, nil
	}

	image, primaryErr := d.client.Pull(ctx, canonical, containerd.WithPullUnpack)
	if primaryErr == nil {
		return image, nil
	}

	mirror := d.resolver.Rewrite("containerd", canonical)
	if mirror == canonical {
		return nil, fmt.Errorf("failed to pull image %s: %w", canonical, primaryErr)
	}

	d.logger.Warn().
		Err(primaryErr).
		Str("image", canonical).
		Str("mirror", mirror).
		Msg("Primary pull failed, trying mirror")
	image, err := d.client.Pull(ctx, mirror, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s from mirror %s: %w", canonical, mirror, err)
	}
	return image, nil
}

// stateFromTask maps a containerd task status onto the lifecycle states
// callers observe.
func stateFromTask(status containerd.ProcessStatus) types.ContainerState {
	switch status {
	case containerd.Running, containerd.Paused, containerd.Pausing:
		return types.ContainerStateRunning
	case containerd.Created:
		return types.ContainerStateCreating
	case containerd.Stopped:
		return types.ContainerStateExited
	default:
		return types.ContainerStateUnknown
	}
}

// flattenEnv renders the env map as KEY=VALUE pairs, sorted so the OCI
// spec is stable across runs.
func flattenEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}

// specMounts builds the OCI bind mounts: workspace read-write at its
// fixed target plus each configured readonly path, in stable order.
func specMounts(mountDir *string, readonly map[string]string) []specs.Mount {
	var mounts []specs.Mount
	if mountDir != nil && *mountDir != "" {
		mounts = append(mounts, specs.Mount{
			Source:      *mountDir,
			Destination: workspaceTarget,
			Type:        "bind",
			Options:     []string{"rw", "bind"},
		})
	}
	sources := make([]string, 0, len(readonly))
	for src := range readonly {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		mounts = append(mounts, specs.Mount{
			Source:      src,
			Destination: readonly[src],
			Type:        "bind",
			Options:     []string{"ro", "bind"},
		})
	}
	return mounts
}

// encodePorts renders claimed ports for the ports label.
func encodePorts(ports []int) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, ",")
}

// decodePorts parses the ports label, skipping malformed entries.
func decodePorts(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		p, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || p == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}
