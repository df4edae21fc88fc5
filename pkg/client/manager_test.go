package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/types"
)

func envelope(data any) map[string]any {
	return map[string]any{"data": data}
}

func TestManagerConnect(t *testing.T) {
	var gotAuth string
	var req ConnectRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/sandboxes/connect", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(envelope(types.Container{
			SessionID: "sess-9",
			URL:       "http://10.0.0.4:49160/fastapi",
		}))
	}))
	defer server.Close()

	mgr := NewManager(server.URL, "admin-token")
	container, err := mgr.Connect(context.Background(), ConnectRequest{
		SandboxType: "code",
		SessionID:   "sess-9",
	})

	require.NoError(t, err)
	assert.Equal(t, "Bearer admin-token", gotAuth)
	assert.Equal(t, "code", req.SandboxType)
	assert.Equal(t, "sess-9", container.SessionID)
	assert.Equal(t, "http://10.0.0.4:49160/fastapi", container.URL)
}

func TestManagerRelease(t *testing.T) {
	var req ReleaseRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sandboxes/release", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(envelope(map[string]string{"status": "released"}))
	}))
	defer server.Close()

	mgr := NewManager(server.URL, "")
	err := mgr.Release(context.Background(), "sess-9", true)

	require.NoError(t, err)
	assert.Equal(t, "sess-9", req.SessionID)
	assert.True(t, req.ToPool)
}

func TestManagerErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "session not found: sess-0"})
	}))
	defer server.Close()

	mgr := NewManager(server.URL, "")
	_, err := mgr.Get(context.Background(), "sess-0")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "session not found: sess-0")
}

func TestManagerList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sandboxes", r.URL.Path)
		json.NewEncoder(w).Encode(envelope([]types.Container{
			{SessionID: "a"},
			{SessionID: "b"},
		}))
	}))
	defer server.Close()

	mgr := NewManager(server.URL, "")
	containers, err := mgr.List(context.Background())

	require.NoError(t, err)
	require.Len(t, containers, 2)
	assert.Equal(t, "a", containers[0].SessionID)
}

func TestManagerPools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/pools", r.URL.Path)
		json.NewEncoder(w).Encode(envelope(map[string]int{"code": 2, "browser": 0}))
	}))
	defer server.Close()

	mgr := NewManager(server.URL, "")
	pools, err := mgr.Pools(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, pools["code"])
	assert.Equal(t, 0, pools["browser"])
}

func TestManagerHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(HealthInfo{Status: "ok", Version: "1.2.3", DefaultType: "code"})
	}))
	defer server.Close()

	mgr := NewManager(server.URL, "")
	info, err := mgr.Health(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "ok", info.Status)
	assert.Equal(t, "code", info.DefaultType)
}

func TestManagerNonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	mgr := NewManager(server.URL, "")
	_, err := mgr.List(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "bad gateway")
}
