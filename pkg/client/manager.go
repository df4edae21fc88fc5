package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentrun/agentrun/pkg/types"
)

// Manager is a typed client for the manager facade API. The CLI verbs
// use it; agent frameworks usually talk to the facade directly.
type Manager struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewManager builds a facade client. The token may be empty when the
// facade runs without auth.
func NewManager(baseURL, token string) *Manager {
	return &Manager{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// ConnectRequest asks the facade for a sandbox.
type ConnectRequest struct {
	SandboxType string         `json:"sandbox_type,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Version     string         `json:"version,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// ReleaseRequest returns a sandbox to the pool or destroys it.
type ReleaseRequest struct {
	SessionID string `json:"session_id"`
	ToPool    bool   `json:"to_pool"`
}

// HealthInfo is the facade health payload.
type HealthInfo struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	DefaultType string `json:"default_type"`
}

// Connect acquires a sandbox for a session, creating one on pool miss.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (*types.Container, error) {
	var container types.Container
	if err := m.doJSON(ctx, http.MethodPost, "/v1/sandboxes/connect", req, &container); err != nil {
		return nil, err
	}
	return &container, nil
}

// Release hands a session's sandbox back, to the pool or to teardown.
func (m *Manager) Release(ctx context.Context, sessionID string, toPool bool) error {
	req := ReleaseRequest{SessionID: sessionID, ToPool: toPool}
	return m.doJSON(ctx, http.MethodPost, "/v1/sandboxes/release", req, nil)
}

// Get returns the container record for one session.
func (m *Manager) Get(ctx context.Context, sessionID string) (*types.Container, error) {
	var container types.Container
	if err := m.doJSON(ctx, http.MethodGet, "/v1/sandboxes/"+sessionID, nil, &container); err != nil {
		return nil, err
	}
	return &container, nil
}

// List returns every active container record.
func (m *Manager) List(ctx context.Context) ([]*types.Container, error) {
	var containers []*types.Container
	if err := m.doJSON(ctx, http.MethodGet, "/v1/sandboxes", nil, &containers); err != nil {
		return nil, err
	}
	return containers, nil
}

// Pools returns warm pool levels keyed by sandbox type.
func (m *Manager) Pools(ctx context.Context) (map[string]int, error) {
	pools := map[string]int{}
	if err := m.doJSON(ctx, http.MethodGet, "/v1/pools", nil, &pools); err != nil {
		return nil, err
	}
	return pools, nil
}

// Health checks the facade and reports its version and default type.
func (m *Manager) Health(ctx context.Context) (*HealthInfo, error) {
	var info HealthInfo
	if err := m.doJSON(ctx, http.MethodGet, "/health", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// doJSON sends a request and unwraps the facade's {data}/{error}
// envelope into out.
func (m *Manager) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("manager returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode >= 400 {
		msg := envelope.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("manager returned %d: %s", resp.StatusCode, msg)
	}
	if out != nil {
		// Health answers bare JSON; everything else is enveloped.
		raw := envelope.Data
		if raw == nil {
			raw = data
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
