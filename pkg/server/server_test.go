package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/client"
	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/images"
	"github.com/agentrun/agentrun/pkg/manager"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/types"
)

const testToken = "tok-facade"

type stubSandboxes struct {
	containers map[string]*types.Container
	released   []string
	connectErr error
}

func (f *stubSandboxes) Connect(ctx context.Context, opts manager.ConnectOptions) (*types.Container, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = "generated"
	}
	container := &types.Container{
		SessionID:    sessionID,
		URL:          "http://127.0.0.1:49200/fastapi",
		RuntimeToken: "tok-sandbox",
		Meta:         map[string]any{"sandbox_type": opts.Type},
	}
	if f.containers == nil {
		f.containers = map[string]*types.Container{}
	}
	f.containers[sessionID] = container
	return container, nil
}

func (f *stubSandboxes) Release(ctx context.Context, sessionID string, toPool bool) error {
	if _, ok := f.containers[sessionID]; !ok {
		return fmt.Errorf("%w: %s", manager.ErrSessionNotFound, sessionID)
	}
	delete(f.containers, sessionID)
	f.released = append(f.released, sessionID)
	return nil
}

func (f *stubSandboxes) Get(ctx context.Context, sessionID string) (*types.Container, error) {
	container, ok := f.containers[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", manager.ErrSessionNotFound, sessionID)
	}
	return container, nil
}

func (f *stubSandboxes) List(ctx context.Context) ([]*types.Container, error) {
	out := []*types.Container{}
	for _, container := range f.containers {
		out = append(out, container)
	}
	return out, nil
}

func (f *stubSandboxes) PoolStatus(ctx context.Context) (map[string]int, error) {
	return map[string]int{"base": 1}, nil
}

func newTestServer(t *testing.T, stub *stubSandboxes) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Server.BearerToken = testToken
	return New(cfg, stub, "test")
}

func doRequest(s *Server, method, target, token string, payload any) *httptest.ResponseRecorder {
	var body *strings.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = strings.NewReader(string(raw))
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRouteTable(t *testing.T) {
	s := newTestServer(t, &stubSandboxes{})

	got := map[string]bool{}
	for _, route := range s.routes() {
		got[route.Method+" "+route.Path] = route.Public
	}

	want := map[string]bool{
		"GET /health":                   true,
		"GET /ready":                    true,
		"GET /live":                     true,
		"GET /metrics":                  true,
		"POST /v1/sandboxes/connect":    false,
		"POST /v1/sandboxes/release":    false,
		"GET /v1/sandboxes":             false,
		"GET /v1/sandboxes/:session_id": false,
		"GET /v1/pools":                 false,
	}
	assert.Equal(t, want, got)
}

func TestHealthIsBareJSON(t *testing.T) {
	s := newTestServer(t, &stubSandboxes{})

	rec := doRequest(s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "base", body["default_type"])
	assert.NotContains(t, body, "data")
}

func TestMetricsServedOpen(t *testing.T) {
	s := newTestServer(t, &stubSandboxes{})

	rec := doRequest(s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentrun_")
}

// TestProbeEndpoints covers the kubernetes-style probes. Liveness is
// unconditional; readiness gates on the components the run command
// registers, so it answers 503 until driver, state and api report in.
func TestProbeEndpoints(t *testing.T) {
	s := newTestServer(t, &stubSandboxes{})

	rec := doRequest(s, http.MethodGet, "/live", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var live map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &live))
	assert.Equal(t, "alive", live["status"])

	rec = doRequest(s, http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	metrics.RegisterComponent("driver", true, "")
	metrics.RegisterComponent("state", true, "")
	metrics.RegisterComponent("api", true, "")

	rec = doRequest(s, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthGatesAPIRoutes(t *testing.T) {
	s := newTestServer(t, &stubSandboxes{})

	rec := doRequest(s, http.MethodGet, "/v1/pools", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get(echo.HeaderWWWAuthenticate))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])

	rec = doRequest(s, http.MethodGet, "/v1/pools", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodGet, "/v1/pools", testToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenWithoutConfiguredToken(t *testing.T) {
	cfg := config.Default()
	s := New(cfg, &stubSandboxes{}, "test")

	rec := doRequest(s, http.MethodGet, "/v1/pools", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConnectWrapsInDataEnvelope(t *testing.T) {
	s := newTestServer(t, &stubSandboxes{})

	rec := doRequest(s, http.MethodPost, "/v1/sandboxes/connect", testToken, map[string]string{
		"sandbox_type": "base",
		"session_id":   "sess-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data types.Container `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "sess-1", envelope.Data.SessionID)
	assert.Equal(t, "http://127.0.0.1:49200/fastapi", envelope.Data.URL)
}

func TestConnectUnknownTypeIs400(t *testing.T) {
	stub := &stubSandboxes{connectErr: fmt.Errorf("%w: %q", images.ErrUnknownType, "nope")}
	s := newTestServer(t, stub)

	rec := doRequest(s, http.MethodPost, "/v1/sandboxes/connect", testToken, map[string]string{
		"sandbox_type": "nope",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "nope")
}

func TestReleaseRequiresSessionID(t *testing.T) {
	s := newTestServer(t, &stubSandboxes{})

	rec := doRequest(s, http.MethodPost, "/v1/sandboxes/release", testToken, map[string]bool{"to_pool": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReleaseUnknownSessionIs404(t *testing.T) {
	s := newTestServer(t, &stubSandboxes{})

	rec := doRequest(s, http.MethodPost, "/v1/sandboxes/release", testToken, map[string]string{
		"session_id": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUnknownSessionIs404(t *testing.T) {
	s := newTestServer(t, &stubSandboxes{})

	rec := doRequest(s, http.MethodGet, "/v1/sandboxes/ghost", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestClientRoundTrip drives the facade through the typed client so the
// two ends of the wire are tested against each other.
func TestClientRoundTrip(t *testing.T) {
	stub := &stubSandboxes{}
	s := newTestServer(t, stub)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	facade := client.NewManager(ts.URL, testToken)
	ctx := context.Background()

	health, err := facade.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "base", health.DefaultType)

	container, err := facade.Connect(ctx, client.ConnectRequest{SandboxType: "base", SessionID: "sess-rt"})
	require.NoError(t, err)
	assert.Equal(t, "sess-rt", container.SessionID)

	fetched, err := facade.Get(ctx, "sess-rt")
	require.NoError(t, err)
	assert.Equal(t, container.URL, fetched.URL)

	listed, err := facade.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	pools, err := facade.Pools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pools["base"])

	require.NoError(t, facade.Release(ctx, "sess-rt", false))
	assert.Equal(t, []string{"sess-rt"}, stub.released)

	_, err = facade.Get(ctx, "sess-rt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
