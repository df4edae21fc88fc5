package training_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/training"
	_ "github.com/agentrun/agentrun/pkg/training/echoenv"
)

type wireResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Detail  string          `json:"detail"`
}

func newTestService(t *testing.T) *httptest.Server {
	t.Helper()
	svc := training.NewService(0, 0, nil)
	svc.Init()
	t.Cleanup(func() { svc.Shutdown(context.Background()) })

	srv := training.NewServer(config.Default(), svc)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path string, body map[string]any) (int, wireResponse) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out wireResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decodeData(t *testing.T, raw json.RawMessage, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, into))
}

func TestEpisodeFlowOverHTTP(t *testing.T) {
	ts := newTestService(t)

	status, resp := post(t, ts, "/create", map[string]any{
		"env_type": "echo",
		"task_id":  "T0",
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)

	var created struct {
		InstanceID string         `json:"instance_id"`
		InitState  map[string]any `json:"init_state"`
	}
	decodeData(t, resp.Data, &created)
	require.NotEmpty(t, created.InstanceID)
	assert.Equal(t, "echo environment ready", created.InitState["observation"])
	assert.Equal(t, "T0", created.InitState["task_id"])

	code := "```python\nprint('hi')\n```"
	status, resp = post(t, ts, "/step", map[string]any{
		"instance_id": created.InstanceID,
		"action":      map[string]any{"role": "assistant", "content": code},
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)

	var obs map[string]any
	decodeData(t, resp.Data, &obs)
	assert.Equal(t, code, obs["observation"])
	assert.Equal(t, float64(1), obs["step"])

	status, resp = post(t, ts, "/evaluate", map[string]any{
		"instance_id": created.InstanceID,
		"messages":    []map[string]any{{"role": "assistant", "content": code}},
	})
	require.Equal(t, http.StatusOK, status)
	var score float64
	decodeData(t, resp.Data, &score)
	assert.Equal(t, 1.0, score)

	status, resp = post(t, ts, "/get_info", map[string]any{
		"instance_id": created.InstanceID,
	})
	require.Equal(t, http.StatusOK, status)
	var info map[string]any
	decodeData(t, resp.Data, &info)
	assert.Equal(t, "echo", info["env_type"])
	assert.Equal(t, float64(1), info["steps"])

	status, resp = post(t, ts, "/release", map[string]any{
		"instance_id": created.InstanceID,
	})
	require.Equal(t, http.StatusOK, status)
	var released bool
	decodeData(t, resp.Data, &released)
	assert.True(t, released)

	status, resp = post(t, ts, "/step", map[string]any{
		"instance_id": created.InstanceID,
		"action":      map[string]any{"content": "anyone there?"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Detail, "not found")
}

func TestEvaluateWithoutAssistantIsZero(t *testing.T) {
	ts := newTestService(t)

	_, resp := post(t, ts, "/create", map[string]any{"env_type": "echo", "task_id": "T1"})
	var created struct {
		InstanceID string `json:"instance_id"`
	}
	decodeData(t, resp.Data, &created)

	_, resp = post(t, ts, "/evaluate", map[string]any{
		"instance_id": created.InstanceID,
		"messages":    []map[string]any{{"role": "user", "content": "hello"}},
	})
	var score float64
	decodeData(t, resp.Data, &score)
	assert.Equal(t, 0.0, score)
}

func TestCreateUnknownEnvironmentIs400(t *testing.T) {
	ts := newTestService(t)

	status, resp := post(t, ts, "/create", map[string]any{"env_type": "no-such-env"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Detail, "unknown environment type")
}

func TestValidationErrors(t *testing.T) {
	ts := newTestService(t)

	status, resp := post(t, ts, "/create", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, resp.Detail, "env_type")

	for _, path := range []string{"/step", "/evaluate", "/get_info", "/release"} {
		status, resp := post(t, ts, path, map[string]any{})
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.Contains(t, resp.Detail, "instance_id", path)
	}
}

func TestEnvProfile(t *testing.T) {
	ts := newTestService(t)

	status, resp := post(t, ts, "/get_env_profile", map[string]any{
		"env_type": "echo",
		"split":    "test",
	})
	require.Equal(t, http.StatusOK, status)

	var tasks []string
	decodeData(t, resp.Data, &tasks)
	assert.Equal(t, []string{"echo-test-0", "echo-test-1"}, tasks)

	status, _ = post(t, ts, "/get_env_profile", map[string]any{
		"env_type": "echo",
		"split":    "nope",
	})
	assert.Equal(t, http.StatusInternalServerError, status)
}

type panicFactory struct{}

func (panicFactory) New(taskID, instanceID string, params map[string]any) (training.Environment, error) {
	return panicEnv{}, nil
}

func (panicFactory) QueryList(split string, params map[string]any) ([]string, error) {
	return nil, nil
}

type panicEnv struct{}

func (panicEnv) InitState(params map[string]any) (any, error) { return "ok", nil }

func (panicEnv) Step(action, params map[string]any) (any, error) {
	panic("scripted failure")
}

func (panicEnv) Evaluate(messages []map[string]any, params map[string]any) (any, error) {
	return nil, fmt.Errorf("evaluator offline")
}

func (panicEnv) Info(messages []map[string]any, params map[string]any) (any, error) {
	return nil, nil
}

func (panicEnv) Close() error { return nil }

func TestActorFailuresAre500WithDetail(t *testing.T) {
	training.Register("panic-http", panicFactory{})
	ts := newTestService(t)

	_, resp := post(t, ts, "/create", map[string]any{"env_type": "panic-http"})
	require.True(t, resp.Success)
	var created struct {
		InstanceID string `json:"instance_id"`
	}
	decodeData(t, resp.Data, &created)

	status, resp := post(t, ts, "/step", map[string]any{"instance_id": created.InstanceID})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Detail, "scripted failure")
	assert.Contains(t, resp.Detail, "goroutine")

	status, resp = post(t, ts, "/evaluate", map[string]any{"instance_id": created.InstanceID})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, resp.Detail, "evaluator offline")
}

func TestHealthz(t *testing.T) {
	ts := newTestService(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}
