package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
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
	// managedLabel marks containers this service owns. Cleanup and List
	// only touch containers carrying it.
	managedLabel = "agentrun.managed"

	// sessionLabel carries the session id so List can map containers
	// back to sessions.
	sessionLabel = "agentrun.session"

	// typeLabel records the sandbox type the container was created for.
	typeLabel = "agentrun.type"

	// workspaceTarget is where the session workspace is mounted inside
	// the container.
	workspaceTarget = "/workspace"

	// stopGrace is how long the daemon waits between SIGTERM and SIGKILL.
	stopGrace = 10 * time.Second
)

func init() {
	driver.Register("docker", New)
}

// Driver runs sandboxes as containers on the local docker daemon, with
// each service port published on a host port claimed from the arbiter.
type Driver struct {
	cli      *client.Client
	arbiter  *ports.Arbiter
	resolver *images.Resolver
	logger   zerolog.Logger
}

// New connects to the daemon from the environment and verifies it
// answers before handing the driver out.
func New(cfg *config.Config, deps driver.Deps) (driver.Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to reach docker daemon: %w", err)
	}

	return &Driver{
		cli:      cli,
		arbiter:  deps.Arbiter,
		resolver: deps.Resolver,
		logger:   log.WithBackend("docker"),
	}, nil
}

// Backend returns the backend this driver serves.
func (d *Driver) Backend() types.Backend {
	return types.BackendDocker
}

// Create pulls the image if needed, claims one host port per service
// port, and creates a published container named after the session. The
// container is not started.
func (d *Driver) Create(ctx context.Context, req driver.CreateRequest) (*driver.CreateResult, error) {
	if len(req.ServicePorts) == 0 {
		return nil, fmt.Errorf("no service ports requested for session %s", req.SessionID)
	}

	if err := d.ensureImage(ctx, req.Image); err != nil {
		return nil, err
	}

	name := driver.ContainerName(req.SessionID)
	d.removeStale(ctx, name)

	hostPorts, err := d.arbiter.Claim(ctx, len(req.ServicePorts))
	if err != nil {
		return nil, fmt.Errorf("failed to claim host ports: %w", err)
	}

	exposed, bindings, err := portBindings(req.ServicePorts, hostPorts)
	if err != nil {
		d.arbiter.Release(ctx, hostPorts...)
		return nil, err
	}

	containerCfg := &container.Config{
		Image: req.Image,
		Env:   flattenEnv(req.Env),
		Labels: map[string]string{
			managedLabel: "true",
			sessionLabel: req.SessionID,
			typeLabel:    req.SandboxType,
		},
		ExposedPorts: exposed,
	}

	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Mounts:       buildMounts(req.MountDir, req.ReadonlyMounts),
	}
	if req.CPUs > 0 {
		hostCfg.Resources.NanoCPUs = int64(req.CPUs * 1e9)
	}
	if req.MemoryMB > 0 {
		hostCfg.Resources.Memory = req.MemoryMB * 1024 * 1024
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		d.arbiter.Release(ctx, hostPorts...)
		return nil, fmt.Errorf("failed to create container %s: %w", name, err)
	}

	d.logger.Info().
		Str("session_id", req.SessionID).
		Str("container", name).
		Ints("host_ports", hostPorts).
		Msg("Container created")

	return &driver.CreateResult{
		Handle:   resp.ID,
		Host:     "localhost",
		Protocol: "http",
		Ports:    hostPorts,
		MountDir: req.MountDir,
		Meta: map[string]any{
			"container_name": name,
			"image":          req.Image,
		},
	}, nil
}

// Start starts a created container.
func (d *Driver) Start(ctx context.Context, handle string) error {
	if err := d.cli.ContainerStart(ctx, handle, dockertypes.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", handle, err)
	}
	return nil
}

// Stop sends SIGTERM and escalates to SIGKILL after the grace period.
// Stopping a stopped or vanished container reports success.
func (d *Driver) Stop(ctx context.Context, handle string, grace *time.Duration) error {
	secs := int(stopGrace.Seconds())
	if grace != nil {
		secs = int(grace.Seconds())
	}
	if err := d.cli.ContainerStop(ctx, handle, container.StopOptions{Timeout: &secs}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", handle, err)
	}
	return nil
}

// Remove deletes the container and returns every host port its bindings
// held to the arbiter. Removing a vanished handle reports success.
func (d *Driver) Remove(ctx context.Context, handle string, force bool) error {
	info, err := d.cli.ContainerInspect(ctx, handle)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to inspect container %s: %w", handle, err)
	}

	if !force {
		if err := d.Stop(ctx, handle, nil); err != nil {
			return err
		}
	}
	opts := dockertypes.ContainerRemoveOptions{Force: force, RemoveVolumes: true}
	if err := d.cli.ContainerRemove(ctx, info.ID, opts); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", handle, err)
	}

	released := d.releaseBoundPorts(ctx, info)
	d.logger.Info().
		Str("container", info.Name).
		Ints("released_ports", released).
		Msg("Container removed")
	return nil
}

// Status reports the container's lifecycle state plus the daemon
// attributes the state was derived from. Handles the daemon no longer
// knows report unknown, not an error.
func (d *Driver) Status(ctx context.Context, handle string) (types.ContainerState, map[string]any, error) {
	info, err := d.cli.ContainerInspect(ctx, handle)
	if err != nil {
		if client.IsErrNotFound(err) {
			return types.ContainerStateUnknown, nil, nil
		}
		return types.ContainerStateUnknown, nil, fmt.Errorf("failed to inspect container %s: %w", handle, err)
	}
	attrs := map[string]any{"container_name": info.Name}
	if info.State != nil {
		attrs["status"] = info.State.Status
		attrs["exit_code"] = info.State.ExitCode
	}
	if info.Config != nil {
		attrs["image"] = info.Config.Image
	}
	return stateFromInspect(info), attrs, nil
}

// WaitForReady polls the control server's /healthz on the first
// published port until it answers or the timeout elapses.
func (d *Driver) WaitForReady(ctx context.Context, result *driver.CreateResult, timeout time.Duration) error {
	if len(result.Ports) == 0 {
		return fmt.Errorf("create result has no published ports")
	}
	url := fmt.Sprintf("%s://%s:%d/healthz", result.Protocol, result.Host, result.Ports[0])
	checker := health.NewHTTPChecker(url).WithTimeout(2 * time.Second)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return health.Wait(waitCtx, checker, time.Second)
}

// List enumerates managed containers so the cleanup pass can reconcile
// live state after a restart.
func (d *Driver) List(ctx context.Context) ([]driver.Instance, error) {
	containers, err := d.cli.ContainerList(ctx, dockertypes.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", managedLabel+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	instances := make([]driver.Instance, 0, len(containers))
	for _, c := range containers {
		sessionID := c.Labels[sessionLabel]
		if sessionID == "" {
			continue
		}
		instances = append(instances, driver.Instance{
			Handle:    c.ID,
			SessionID: sessionID,
			State:     stateFromSummary(c.State),
		})
	}
	return instances, nil
}

// Close releases the docker client connection.
func (d *Driver) Close() error {
	return d.cli.Close()
}

// ensureImage makes the canonical image available locally: local cache
// first, then the primary registry, then the configured mirror with a
// retag so the container always references the canonical name.
func (d *Driver) ensureImage(ctx context.Context, canonical string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, canonical)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", canonical, err)
	}

	primaryErr := d.pull(ctx, canonical)
	if primaryErr == nil {
		return nil
	}

	mirror := d.resolver.Rewrite("docker", canonical)
	if mirror == canonical {
		return fmt.Errorf("failed to pull image %s: %w", canonical, primaryErr)
	}

	d.logger.Warn().
		Err(primaryErr).
		Str("image", canonical).
		Str("mirror", mirror).
		Msg("Primary pull failed, trying mirror")
	if err := d.pull(ctx, mirror); err != nil {
		return fmt.Errorf("failed to pull image %s from mirror %s: %w", canonical, mirror, err)
	}
	if err := d.cli.ImageTag(ctx, mirror, canonical); err != nil {
		return fmt.Errorf("failed to tag %s as %s: %w", mirror, canonical, err)
	}
	return nil
}

// pull fetches ref and drains the progress stream; the pull is not
// complete until the stream ends.
func (d *Driver) pull(ctx context.Context, ref string) error {
	reader, err := d.cli.ImagePull(ctx, ref, dockertypes.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to complete pull of %s: %w", ref, err)
	}
	return nil
}

// removeStale frees the session name when a container from a previous
// run still occupies it, returning any host ports it held.
func (d *Driver) removeStale(ctx context.Context, name string) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		return
	}
	d.logger.Warn().Str("container", name).Msg("Removing stale container before create")
	opts := dockertypes.ContainerRemoveOptions{Force: true, RemoveVolumes: true}
	if err := d.cli.ContainerRemove(ctx, info.ID, opts); err != nil {
		d.logger.Warn().Err(err).Str("container", name).Msg("Failed to remove stale container")
		return
	}
	d.releaseBoundPorts(ctx, info)
}

// releaseBoundPorts returns the host ports found in the container's
// bindings to the arbiter and reports which ones it released.
func (d *Driver) releaseBoundPorts(ctx context.Context, info dockertypes.ContainerJSON) []int {
	if info.HostConfig == nil {
		return nil
	}
	bound := hostPortsFromBindings(info.HostConfig.PortBindings)
	if len(bound) == 0 {
		return nil
	}
	if err := d.arbiter.Release(ctx, bound...); err != nil {
		d.logger.Warn().Err(err).Ints("ports", bound).Msg("Failed to release host ports")
		return nil
	}
	return bound
}

// stateFromInspect maps docker's inspect state onto the lifecycle states
// callers observe. Everything that is neither running nor freshly
// created counts as exited; exit codes 137 and 143 come from docker stop
// and are a normal exit like any other.
func stateFromInspect(info dockertypes.ContainerJSON) types.ContainerState {
	if info.ContainerJSONBase == nil || info.State == nil {
		return types.ContainerStateUnknown
	}
	switch {
	case info.State.Running:
		return types.ContainerStateRunning
	case info.State.Status == "created":
		return types.ContainerStateCreating
	default:
		return types.ContainerStateExited
	}
}

// stateFromSummary maps the list endpoint's coarser state string.
func stateFromSummary(state string) types.ContainerState {
	switch state {
	case "running", "restarting", "paused":
		return types.ContainerStateRunning
	case "created":
		return types.ContainerStateCreating
	case "exited", "dead", "removing":
		return types.ContainerStateExited
	default:
		return types.ContainerStateUnknown
	}
}

// flattenEnv renders the env map as docker KEY=VALUE pairs, sorted so
// container definitions are stable across runs.
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

// portBindings publishes each service port on its claimed host port,
// pairing them by position.
func portBindings(servicePorts, hostPorts []int) (nat.PortSet, nat.PortMap, error) {
	if len(servicePorts) != len(hostPorts) {
		return nil, nil, fmt.Errorf("have %d host ports for %d service ports", len(hostPorts), len(servicePorts))
	}
	exposed := make(nat.PortSet, len(servicePorts))
	bindings := make(nat.PortMap, len(servicePorts))
	for i, svc := range servicePorts {
		port, err := nat.NewPort("tcp", strconv.Itoa(svc))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid service port %d: %w", svc, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{
			HostIP:   "0.0.0.0",
			HostPort: strconv.Itoa(hostPorts[i]),
		}}
	}
	return exposed, bindings, nil
}

// hostPortsFromBindings recovers the published host ports from a
// container's bindings. Malformed entries are skipped.
func hostPortsFromBindings(bindings nat.PortMap) []int {
	var out []int
	for _, list := range bindings {
		for _, b := range list {
			p, err := strconv.Atoi(b.HostPort)
			if err != nil || p == 0 {
				continue
			}
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}

// buildMounts binds the workspace read-write at its fixed target plus
// each configured readonly path, in stable order.
func buildMounts(mountDir *string, readonly map[string]string) []mount.Mount {
	var mounts []mount.Mount
	if mountDir != nil && *mountDir != "" {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: *mountDir,
			Target: workspaceTarget,
		})
	}
	sources := make([]string, 0, len(readonly))
	for src := range readonly {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   src,
			Target:   readonly[src],
			ReadOnly: true,
		})
	}
	return mounts
}
