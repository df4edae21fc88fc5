package client

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

	"github.com/agentrun/agentrun/pkg/health"
	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/types"
)

const (
	// SessionHeader carries the session identity on every request to a
	// sandbox control server.
	SessionHeader = "x-agentrun-session-id"

	// DefaultTimeout is the per-call floor when the container record
	// does not raise it.
	DefaultTimeout = 60 * time.Second
)

// ErrReadyTimeout reports that a sandbox control server never answered
// its health endpoint within the wait budget.
var ErrReadyTimeout = errors.New("sandbox never became ready")

// Sandbox talks to one sandbox's in-container control server. Tool
// calls always return the result envelope; transport failures fold
// into it rather than surfacing as errors.
type Sandbox struct {
	baseURL    string
	token      string
	sessionID  string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewSandbox builds a client from a container record. The per-call
// timeout is the record's Timeout or DefaultTimeout, whichever is
// larger.
func NewSandbox(container *types.Container) *Sandbox {
	timeout := DefaultTimeout
	if d := time.Duration(container.Timeout) * time.Second; d > timeout {
		timeout = d
	}
	return &Sandbox{
		baseURL:    strings.TrimSuffix(container.URL, "/"),
		token:      container.RuntimeToken,
		sessionID:  container.SessionID,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     log.WithSession(container.SessionID),
	}
}

// URL returns the control server base URL.
func (s *Sandbox) URL() string {
	return s.baseURL
}

// WaitForReady polls the health endpoint once per second until it
// answers or the timeout elapses.
func (s *Sandbox) WaitForReady(ctx context.Context, timeout time.Duration) error {
	checker := health.NewHTTPChecker(s.baseURL + "/healthz").WithTimeout(2 * time.Second)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := health.Wait(waitCtx, checker, time.Second); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %v", ErrReadyTimeout, timeout, err)
		}
		return err
	}
	return nil
}

// CallTool invokes a tool by name. Built-in tools route to their own
// endpoints; any other name is dispatched through the MCP router.
func (s *Sandbox) CallTool(ctx context.Context, name string, args map[string]any) *types.ToolResult {
	switch name {
	case "run_shell_command", "run_ipython_cell":
		return s.postTool(ctx, "/tools/"+name, args)
	default:
		return s.postTool(ctx, "/mcp/call_tool", map[string]any{
			"tool_name": name,
			"arguments": args,
		})
	}
}

// RunShellCommand executes a shell command in the sandbox.
func (s *Sandbox) RunShellCommand(ctx context.Context, command string) *types.ToolResult {
	return s.postTool(ctx, "/tools/run_shell_command", map[string]any{"command": command})
}

// RunIPythonCell executes a cell in the sandbox's persistent kernel.
func (s *Sandbox) RunIPythonCell(ctx context.Context, code string) *types.ToolResult {
	return s.postTool(ctx, "/tools/run_ipython_cell", map[string]any{"code": code})
}

// postTool folds every failure into the envelope; the tool boundary
// never raises.
func (s *Sandbox) postTool(ctx context.Context, path string, payload map[string]any) *types.ToolResult {
	tool := path[strings.LastIndexByte(path, '/')+1:]
	started := time.Now()

	var result types.ToolResult
	if err := s.doJSON(ctx, http.MethodPost, path, payload, &result); err != nil {
		s.logger.Debug().Err(err).Str("path", path).Msg("Tool transport failure")
		metrics.ToolCallsTotal.WithLabelValues(tool, "error").Inc()
		return types.ErrorResult(err)
	}

	status := "ok"
	if result.IsError {
		status = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	metrics.ToolCallDuration.WithLabelValues(tool).Observe(time.Since(started).Seconds())
	return &result
}

// WriteFile stores content at path inside the sandbox workspace.
func (s *Sandbox) WriteFile(ctx context.Context, path string, content []byte) error {
	return s.doRaw(ctx, http.MethodPost, "/workspace/files?file_path="+url.QueryEscape(path), content, nil)
}

// ReadFile returns the raw contents of a workspace file.
func (s *Sandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	var out bytes.Buffer
	if err := s.doRaw(ctx, http.MethodGet, "/workspace/files?file_path="+url.QueryEscape(path), nil, &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DeleteFile removes a workspace file.
func (s *Sandbox) DeleteFile(ctx context.Context, path string) error {
	return s.doRaw(ctx, http.MethodDelete, "/workspace/files?file_path="+url.QueryEscape(path), nil, nil)
}

// DirectoryListing is the workspace listing payload.
type DirectoryListing struct {
	Items      []DirectoryItem `json:"items"`
	Statistics DirectoryStats  `json:"statistics"`
}

// DirectoryItem is one entry in a directory listing.
type DirectoryItem struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// DirectoryStats summarizes a listing.
type DirectoryStats struct {
	TotalFiles       int `json:"total_files"`
	TotalDirectories int `json:"total_directories"`
}

// ListDirectory lists a workspace directory recursively.
func (s *Sandbox) ListDirectory(ctx context.Context, dir string) (*DirectoryListing, error) {
	var listing DirectoryListing
	path := "/workspace/list-directories?directory=" + url.QueryEscape(dir)
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// CreateDirectory creates a workspace directory, parents included.
func (s *Sandbox) CreateDirectory(ctx context.Context, dir string) error {
	return s.doJSON(ctx, http.MethodPost, "/workspace/directories?directory_path="+url.QueryEscape(dir), nil, nil)
}

// DeleteDirectory removes a workspace directory. Non-empty directories
// require recursive.
func (s *Sandbox) DeleteDirectory(ctx context.Context, dir string, recursive bool) error {
	path := fmt.Sprintf("/workspace/directories?directory_path=%s&recursive=%t", url.QueryEscape(dir), recursive)
	return s.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Move renames a workspace path.
func (s *Sandbox) Move(ctx context.Context, source, destination string) error {
	return s.doJSON(ctx, http.MethodPut, "/workspace/move", map[string]any{
		"source_path":      source,
		"destination_path": destination,
	}, nil)
}

// Copy duplicates a workspace path.
func (s *Sandbox) Copy(ctx context.Context, source, destination string) error {
	return s.doJSON(ctx, http.MethodPost, "/workspace/copy", map[string]any{
		"source_path":      source,
		"destination_path": destination,
	}, nil)
}

// MCPServerConfig describes one MCP server the sandbox should launch.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// AddMCPServers registers MCP servers inside the sandbox.
func (s *Sandbox) AddMCPServers(ctx context.Context, servers map[string]MCPServerConfig, overwrite bool) error {
	return s.doJSON(ctx, http.MethodPost, "/mcp/add_servers", map[string]any{
		"server_configs": servers,
		"overwrite":      overwrite,
	}, nil)
}

// ListMCPTools returns the tool schemas of every registered MCP server.
func (s *Sandbox) ListMCPTools(ctx context.Context) ([]ToolSchema, error) {
	var out struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := s.doJSON(ctx, http.MethodGet, "/mcp/list_tools", nil, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// CommitChanges commits the workspace through the git watcher.
func (s *Sandbox) CommitChanges(ctx context.Context, message string) *types.ToolResult {
	return s.postTool(ctx, "/watcher/commit_changes", map[string]any{"commit_message": message})
}

// GenerateDiff returns a diff between two commits, or the uncommitted
// changes when both are empty.
func (s *Sandbox) GenerateDiff(ctx context.Context, commitA, commitB string) *types.ToolResult {
	args := map[string]any{}
	if commitA != "" {
		args["commit_a"] = commitA
	}
	if commitB != "" {
		args["commit_b"] = commitB
	}
	return s.postTool(ctx, "/watcher/generate_diff", args)
}

// doJSON sends an authenticated JSON request and decodes the response
// into out when out is non-nil.
func (s *Sandbox) doJSON(ctx context.Context, method, path string, payload map[string]any, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	resp, err := s.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return responseError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// doRaw sends an authenticated request with a raw body and copies the
// raw response into out when out is non-nil.
func (s *Sandbox) doRaw(ctx context.Context, method, path string, body []byte, out *bytes.Buffer) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	resp, err := s.do(ctx, method, path, reader, "application/octet-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return responseError(resp)
	}
	if out != nil {
		if _, err := io.Copy(out, resp.Body); err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
	}
	return nil
}

func (s *Sandbox) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	req, err := http.NewRequestWithContext(callCtx, method, s.baseURL+path, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set(SessionHeader, "s"+s.sessionID)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	// The cancel rides along until the body is closed.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("sandbox returned %d: %s", resp.StatusCode, msg)
}
