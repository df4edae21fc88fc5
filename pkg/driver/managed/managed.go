package managed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/driver"
	"github.com/agentrun/agentrun/pkg/health"
	"github.com/agentrun/agentrun/pkg/images"
	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/types"
)

const (
	// runtimesPath is the vendor collection every profile speaks to.
	runtimesPath = "/v1/runtimes"

	// httpsPort is the only port managed runtimes expose; routing past
	// the endpoint is by path.
	httpsPort = 443
)

func init() {
	driver.Register("fc", factory(types.BackendFC, func(cfg *config.Config) config.ManagedConfig {
		return cfg.FC
	}))
	driver.Register("studio", factory(types.BackendStudio, func(cfg *config.Config) config.ManagedConfig {
		return cfg.Studio
	}))
}

// factory builds one profile's driver; both vendors share the same
// REST shape and differ only in where and with which key.
func factory(backend types.Backend, pick func(*config.Config) config.ManagedConfig) driver.Factory {
	return func(cfg *config.Config, deps driver.Deps) (driver.Driver, error) {
		mc := pick(cfg)
		if mc.BaseURL == "" {
			return nil, fmt.Errorf("%s backend requires a base_url", backend)
		}
		return newDriver(backend, mc, deps.Resolver), nil
	}
}

// Driver runs sandboxes on a managed serverless runtime behind a vendor
// REST API. The vendor owns scheduling, ports, and TLS; this driver
// creates runtime objects, polls them to a terminal status, and derives
// the sandbox address from the vendor's public endpoint.
type Driver struct {
	backend     types.Backend
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	resolver    *images.Resolver
	interval    time.Duration
	maxAttempts int
	logger      zerolog.Logger
}

func newDriver(backend types.Backend, mc config.ManagedConfig, resolver *images.Resolver) *Driver {
	interval := time.Duration(mc.PollInterval) * time.Second
	if interval <= 0 {
		interval = 3 * time.Second
	}
	maxAttempts := mc.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	return &Driver{
		backend:     backend,
		baseURL:     strings.TrimSuffix(mc.BaseURL, "/"),
		apiKey:      mc.APIKey,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		resolver:    resolver,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      log.WithBackend(string(backend)),
	}
}

// runtimeObject is the vendor's view of one sandbox runtime.
type runtimeObject struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Endpoint string `json:"endpoint"`
}

// createPayload is the create-or-update request body.
type createPayload struct {
	Name  string            `json:"name"`
	Image string            `json:"image"`
	Env   map[string]string `json:"env,omitempty"`
}

// Backend returns the backend this driver serves.
func (d *Driver) Backend() types.Backend {
	return d.backend
}

// Create submits the runtime object, adopts an existing one on a name
// conflict, polls the vendor status to a terminal value, and derives
// the sandbox address from the public endpoint.
func (d *Driver) Create(ctx context.Context, req driver.CreateRequest) (*driver.CreateResult, error) {
	name := driver.ContainerName(req.SessionID)
	image := d.resolver.Rewrite(string(d.backend), req.Image)

	var obj runtimeObject
	err := d.doJSON(ctx, http.MethodPost, runtimesPath, createPayload{
		Name:  name,
		Image: image,
		Env:   req.Env,
	}, &obj)
	if isConflict(err) {
		// A runtime with this name survived an earlier run; adopt it.
		if err := d.doJSON(ctx, http.MethodGet, runtimesPath+"/"+name, nil, &obj); err != nil {
			return nil, fmt.Errorf("failed to adopt existing runtime %s: %w", name, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to create runtime %s: %w", name, err)
	}

	final, err := d.pollTerminal(ctx, obj.ID)
	if err != nil {
		return nil, err
	}

	host, path, protocol, err := endpointParts(final.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("runtime %s: %w", final.ID, err)
	}

	d.logger.Info().
		Str("session_id", req.SessionID).
		Str("runtime_id", final.ID).
		Str("endpoint", final.Endpoint).
		Msg("Runtime ready")

	return &driver.CreateResult{
		Handle:   final.ID,
		Host:     host,
		Protocol: protocol,
		Ports:    []int{httpsPort},
		Path:     path,
		Meta: map[string]any{
			"endpoint":      final.Endpoint,
			"vendor_status": final.Status,
		},
	}, nil
}

// Start verifies the runtime exists; managed runtimes run from
// creation.
func (d *Driver) Start(ctx context.Context, handle string) error {
	var obj runtimeObject
	if err := d.doJSON(ctx, http.MethodGet, runtimesPath+"/"+handle, nil, &obj); err != nil {
		return fmt.Errorf("failed to get runtime %s: %w", handle, err)
	}
	return nil
}

// Stop asks the vendor to stop the runtime. The vendor controls drain
// timing; the grace hint is not forwarded. A vanished runtime is
// already stopped.
func (d *Driver) Stop(ctx context.Context, handle string, _ *time.Duration) error {
	err := d.doJSON(ctx, http.MethodPost, runtimesPath+"/"+handle+"/stop", nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to stop runtime %s: %w", handle, err)
	}
	return nil
}

// Remove deletes the runtime object; the vendor releases everything it
// held and offers no separate forced path. Removing a vanished runtime
// reports success.
func (d *Driver) Remove(ctx context.Context, handle string, _ bool) error {
	err := d.doJSON(ctx, http.MethodDelete, runtimesPath+"/"+handle, nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete runtime %s: %w", handle, err)
	}
	return nil
}

// Status maps the vendor status onto the lifecycle states callers
// observe and passes the vendor's own fields through as attributes. A
// vanished runtime is unknown, not an error.
func (d *Driver) Status(ctx context.Context, handle string) (types.ContainerState, map[string]any, error) {
	var obj runtimeObject
	err := d.doJSON(ctx, http.MethodGet, runtimesPath+"/"+handle, nil, &obj)
	if err != nil {
		if isNotFound(err) {
			return types.ContainerStateUnknown, nil, nil
		}
		return types.ContainerStateUnknown, nil, fmt.Errorf("failed to get runtime %s: %w", handle, err)
	}
	attrs := map[string]any{
		"name":          obj.Name,
		"vendor_status": obj.Status,
		"endpoint":      obj.Endpoint,
	}
	return stateFromVendor(obj.Status), attrs, nil
}

// WaitForReady probes the public endpoint's /healthz until it answers.
// The vendor said ready before Create returned; this confirms the
// control server behind the endpoint agrees.
func (d *Driver) WaitForReady(ctx context.Context, result *driver.CreateResult, timeout time.Duration) error {
	url := fmt.Sprintf("%s://%s%s/healthz", result.Protocol, result.Host, result.Path)
	checker := health.NewHTTPChecker(url).WithTimeout(5 * time.Second)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return health.Wait(waitCtx, checker, time.Second)
}

// pollTerminal polls the runtime until the vendor reports a terminal
// status, bounded by interval times maxAttempts.
func (d *Driver) pollTerminal(ctx context.Context, id string) (*runtimeObject, error) {
	pollCtx, cancel := context.WithTimeout(ctx, d.interval*time.Duration(d.maxAttempts))
	defer cancel()

	var final runtimeObject
	err := driver.PollUntil(pollCtx, d.interval, func(ctx context.Context) (bool, error) {
		var obj runtimeObject
		if err := d.doJSON(ctx, http.MethodGet, runtimesPath+"/"+id, nil, &obj); err != nil {
			return false, fmt.Errorf("failed to poll runtime %s: %w", id, err)
		}
		done, ok := terminalStatus(obj.Status)
		if done && !ok {
			return false, fmt.Errorf("runtime %s entered status %q", id, obj.Status)
		}
		final = obj
		return done, nil
	})
	if err != nil {
		return nil, err
	}
	return &final, nil
}

// apiError carries the vendor's HTTP status so callers can treat 404
// and 409 specially.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("vendor returned %d", e.Status)
	}
	return fmt.Sprintf("vendor returned %d: %s", e.Status, e.Body)
}

func isNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

func isConflict(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status == http.StatusConflict
}

// doJSON sends one authenticated JSON request and decodes the response
// into out when out is non-nil.
func (d *Driver) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// terminalStatus reports whether the vendor status ends the create
// poll, and whether it ended well.
func terminalStatus(status string) (done, ok bool) {
	switch strings.ToLower(status) {
	case "ready", "active":
		return true, true
	case "failed", "deleting":
		return true, false
	default:
		return false, false
	}
}

// stateFromVendor maps a vendor status string onto the lifecycle
// states callers observe.
func stateFromVendor(status string) types.ContainerState {
	switch strings.ToLower(status) {
	case "creating", "pending", "provisioning", "initializing":
		return types.ContainerStateCreating
	case "ready", "active", "running":
		return types.ContainerStateRunning
	case "stopping", "stopped", "failed", "exited", "deleting":
		return types.ContainerStateExited
	default:
		return types.ContainerStateUnknown
	}
}

// endpointParts splits the vendor's public endpoint into host, path
// prefix, and protocol. Endpoints without a scheme are https.
func endpointParts(endpoint string) (host, path, protocol string, err error) {
	if endpoint == "" {
		return "", "", "", fmt.Errorf("vendor reported no endpoint")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", "", "", fmt.Errorf("invalid vendor endpoint %q", endpoint)
	}
	return u.Host, strings.TrimSuffix(u.Path, "/"), u.Scheme, nil
}
