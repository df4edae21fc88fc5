package box

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/types"
)

// ErrToolNotFound is returned when no registered MCP server exposes
// the requested tool.
var ErrToolNotFound = errors.New("tool not found")

// ServerConfig describes one stdio MCP server to launch.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// TransportFactory builds the transport used to reach one configured
// MCP server. The default launches the command over stdio; tests
// substitute in-memory transports.
type TransportFactory func(name string, cfg ServerConfig) (mcp.Transport, error)

func stdioTransport(name string, cfg ServerConfig) (mcp.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("server %s has no command", name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for key, val := range cfg.Env {
		cmd.Env = append(cmd.Env, key+"="+val)
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

// Tool is the schema advertisement for one MCP tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	Server      string         `json:"server,omitempty"`
}

// mcpServer is one registered server. Dispatch per server is
// serialized; calls to different servers interleave.
type mcpServer struct {
	name    string
	mu      sync.Mutex
	session *mcp.ClientSession
	tools   []*mcp.Tool
}

func (s *mcpServer) hasTool(name string) bool {
	for _, tool := range s.tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

// MCPService bridges the sandbox to external MCP servers: it launches
// them, keeps one session per server in registration order, and
// dispatches tool calls to the first server exposing the tool.
type MCPService struct {
	mu         sync.Mutex
	factory    TransportFactory
	client     *mcp.Client
	servers    []*mcpServer
	configPath string
	logger     zerolog.Logger
}

// NewMCPService creates the bridge. configPath names the packaged
// server config loaded at Init; a nil factory launches servers over
// stdio.
func NewMCPService(configPath string, factory TransportFactory) *MCPService {
	if factory == nil {
		factory = stdioTransport
	}
	return &MCPService{
		factory:    factory,
		client:     mcp.NewClient(&mcp.Implementation{Name: "agentrun-box", Version: "1.0.0"}, nil),
		configPath: configPath,
		logger:     log.WithComponent("mcp"),
	}
}

// Init registers the servers from the packaged config file, keeping
// any servers a previous caller already registered. A missing file
// means no servers; a server that fails to come up is logged and
// skipped so the box still serves.
func (m *MCPService) Init(ctx context.Context) error {
	if m.configPath == "" {
		return nil
	}
	raw, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read MCP config: %w", err)
	}

	var configs map[string]ServerConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return fmt.Errorf("failed to parse MCP config %s: %w", m.configPath, err)
	}

	if err := m.AddServers(ctx, configs, false); err != nil {
		m.logger.Warn().Err(err).Msg("Some packaged MCP servers failed to start")
	}
	return nil
}

// AddServers registers servers by name. Existing names are kept unless
// overwrite is set, in which case the old session is closed and
// replaced. Servers that fail to initialize are cleaned up and
// reported together; the ones that came up stay registered.
func (m *MCPService) AddServers(ctx context.Context, configs map[string]ServerConfig, overwrite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		existing := m.findLocked(name)
		if existing != nil && !overwrite {
			m.logger.Debug().Str("server", name).Msg("MCP server already registered")
			continue
		}

		srv, err := m.connect(ctx, name, configs[name])
		if err != nil {
			m.logger.Warn().Err(err).Str("server", name).Msg("MCP server initialization failed")
			failed = append(failed, name)
			continue
		}

		if existing != nil {
			m.removeLocked(existing)
		}
		m.servers = append(m.servers, srv)
		m.logger.Info().Str("server", name).Int("tools", len(srv.tools)).Msg("MCP server registered")
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to initialize MCP servers: %s", strings.Join(failed, ", "))
	}
	return nil
}

// connect brings one server up and lists its tools, which both
// validates the handshake and fills the dispatch table. Partial state
// is closed on failure.
func (m *MCPService) connect(ctx context.Context, name string, cfg ServerConfig) (*mcpServer, error) {
	transport, err := m.factory(name, cfg)
	if err != nil {
		return nil, err
	}
	session, err := m.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	listed, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return &mcpServer{name: name, session: session, tools: listed.Tools}, nil
}

func (m *MCPService) findLocked(name string) *mcpServer {
	for _, srv := range m.servers {
		if srv.name == name {
			return srv
		}
	}
	return nil
}

func (m *MCPService) removeLocked(target *mcpServer) {
	for i, srv := range m.servers {
		if srv == target {
			m.servers = append(m.servers[:i], m.servers[i+1:]...)
			break
		}
	}
	if err := target.session.Close(); err != nil {
		m.logger.Warn().Err(err).Str("server", target.name).Msg("Failed to close MCP session")
	}
}

// ListTools returns every registered tool in server registration
// order. A tool name already advertised by an earlier server is
// skipped with a warning.
func (m *MCPService) ListTools() []Tool {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]string)
	out := make([]Tool, 0)
	for _, srv := range m.servers {
		for _, tool := range srv.tools {
			if first, ok := seen[tool.Name]; ok {
				m.logger.Warn().
					Str("tool", tool.Name).
					Str("server", srv.name).
					Str("first_server", first).
					Msg("Skipping duplicate tool name")
				continue
			}
			seen[tool.Name] = srv.name
			out = append(out, Tool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: schemaMap(tool.InputSchema),
				Server:      srv.name,
			})
		}
	}
	return out
}

func schemaMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// CallTool dispatches to the first server exposing the tool and
// passes the result envelope through.
func (m *MCPService) CallTool(ctx context.Context, name string, args map[string]any) (*types.ToolResult, error) {
	m.mu.Lock()
	var target *mcpServer
	for _, srv := range m.servers {
		if srv.hasTool(name) {
			target = srv
			break
		}
	}
	m.mu.Unlock()

	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	result, err := target.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("tool %s failed on server %s: %w", name, target.name, err)
	}
	return toolResultFromMCP(result), nil
}

func toolResultFromMCP(result *mcp.CallToolResult) *types.ToolResult {
	out := &types.ToolResult{IsError: result.IsError, Content: []types.ToolContent{}}
	for _, item := range result.Content {
		switch content := item.(type) {
		case *mcp.TextContent:
			out.Content = append(out.Content, types.ToolContent{Type: "text", Text: content.Text})
		default:
			raw, err := json.Marshal(item)
			if err != nil {
				continue
			}
			out.Content = append(out.Content, types.ToolContent{Type: "text", Text: string(raw)})
		}
	}
	return out
}

// Shutdown closes every session in reverse registration order.
func (m *MCPService) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.servers) - 1; i >= 0; i-- {
		srv := m.servers[i]
		if err := srv.session.Close(); err != nil {
			m.logger.Warn().Err(err).Str("server", srv.name).Msg("Failed to close MCP session")
		}
	}
	m.servers = nil
}

type addServersRequest struct {
	ServerConfigs map[string]ServerConfig `json:"server_configs"`
	Overwrite     bool                    `json:"overwrite"`
}

func (s *Server) addMCPServers(c echo.Context) error {
	var req addServersRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "invalid request body"})
	}
	if err := s.mcp.AddServers(c.Request().Context(), req.ServerConfigs, req.Overwrite); err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Detail: err.Error()})
	}
	return c.JSON(http.StatusOK, messageBody{Message: "servers registered"})
}

func (s *Server) listMCPTools(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]Tool{"tools": s.mcp.ListTools()})
}

type callToolRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) callMCPTool(c echo.Context) error {
	var req callToolRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "invalid request body"})
	}
	result, err := s.mcp.CallTool(c.Request().Context(), req.ToolName, req.Arguments)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			return c.JSON(http.StatusNotFound, errorBody{Detail: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorBody{Detail: err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}
