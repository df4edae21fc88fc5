package box

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/log"
)

const (
	// DefaultPort is the container-side listen port.
	DefaultPort = 8000

	// DefaultBasePath is where the routers mount.
	DefaultBasePath = "/fastapi"

	// DefaultWorkspace is the sandbox working directory.
	DefaultWorkspace = "/workspace"

	// sessionHeader carries the caller's session identity.
	sessionHeader = "x-agentrun-session-id"
)

// Config is the box runtime configuration, normally read from the
// environment the backend injected at create time.
type Config struct {
	// Token is the bearer token callers must present. Empty disables
	// auth.
	Token string

	// Port is the listen port.
	Port int

	// BasePath prefixes every route.
	BasePath string

	// Workspace is the directory all workspace operations are confined
	// to.
	Workspace string

	// MCPConfig points at the packaged MCP server config file; empty or
	// missing means no servers are registered at startup.
	MCPConfig string
}

// ConfigFromEnv reads the box configuration injected by the manager:
// SECRET_TOKEN, PORT, AGENTRUN_WORKSPACE, AGENTRUN_BASE_PATH and
// AGENTRUN_MCP_CONFIG.
func ConfigFromEnv() Config {
	cfg := Config{
		Token:     os.Getenv("SECRET_TOKEN"),
		Port:      DefaultPort,
		BasePath:  DefaultBasePath,
		Workspace: DefaultWorkspace,
		MCPConfig: os.Getenv("AGENTRUN_MCP_CONFIG"),
	}
	if raw := os.Getenv("PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if path := os.Getenv("AGENTRUN_BASE_PATH"); path != "" {
		cfg.BasePath = path
	}
	if dir := os.Getenv("AGENTRUN_WORKSPACE"); dir != "" {
		cfg.Workspace = dir
	}
	return cfg
}

// errorBody is the box error payload.
type errorBody struct {
	Detail string `json:"detail"`
}

// messageBody is the box success payload for operations without data.
type messageBody struct {
	Message string `json:"message"`
}

// Server is the in-container control plane: one echo server exposing
// the generic tools, the MCP bridge, workspace file operations and the
// git watcher, all under a common base path.
type Server struct {
	cfg       Config
	echo      *echo.Echo
	shell     *ShellService
	kernel    *Kernel
	mcp       *MCPService
	workspace *WorkspaceService
	watcher   *Watcher
	ready     atomic.Bool
	logger    zerolog.Logger
}

// Option customizes server construction.
type Option func(*Server)

// WithTransportFactory replaces how MCP server transports are built.
// Tests use this to swap subprocess transports for in-memory ones.
func WithTransportFactory(factory TransportFactory) Option {
	return func(s *Server) {
		s.mcp.factory = factory
	}
}

// New assembles the control server and mounts every router. Call Init
// before serving.
func New(cfg Config, opts ...Option) *Server {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}
	if cfg.Workspace == "" {
		cfg.Workspace = DefaultWorkspace
	}

	s := &Server{
		cfg:       cfg,
		shell:     NewShell(cfg.Workspace),
		kernel:    NewKernel(cfg.Workspace),
		mcp:       NewMCPService(cfg.MCPConfig, nil),
		workspace: NewWorkspace(cfg.Workspace),
		watcher:   NewWatcher(cfg.Workspace),
		logger:    log.WithComponent("box"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Token == "" {
		s.logger.Warn().Msg("SECRET_TOKEN is not set; running without authentication")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	base := e.Group(cfg.BasePath)
	base.GET("/healthz", s.healthz)

	tools := base.Group("/tools", s.auth)
	tools.POST("/run_shell_command", s.runShellCommand)
	tools.POST("/run_ipython_cell", s.runIPythonCell)

	mcpGroup := base.Group("/mcp", s.auth)
	mcpGroup.POST("/add_servers", s.addMCPServers)
	mcpGroup.GET("/list_tools", s.listMCPTools)
	mcpGroup.POST("/call_tool", s.callMCPTool)

	ws := base.Group("/workspace", s.auth)
	ws.GET("/files", s.readFile)
	ws.POST("/files", s.writeFile)
	ws.DELETE("/files", s.deleteFile)
	ws.GET("/list-directories", s.listDirectory)
	ws.POST("/directories", s.createDirectory)
	ws.DELETE("/directories", s.deleteDirectory)
	ws.PUT("/move", s.movePath)
	ws.POST("/copy", s.copyPath)

	watcher := base.Group("/watcher", s.auth)
	watcher.POST("/commit_changes", s.commitChanges)
	watcher.POST("/generate_diff", s.generateDiff)
	watcher.GET("/git_logs", s.gitLogs)

	s.echo = e
	return s
}

// Init brings the services up: the workspace root, then the MCP
// servers from the packaged config. The kernel starts lazily on first
// cell.
func (s *Server) Init(ctx context.Context) error {
	if err := s.workspace.Init(); err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}
	if err := s.mcp.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize MCP servers: %w", err)
	}
	s.ready.Store(true)
	return nil
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info().
		Int("port", s.cfg.Port).
		Str("base_path", s.cfg.BasePath).
		Str("workspace", s.cfg.Workspace).
		Msg("Control server listening")
	return s.echo.Start(fmt.Sprintf(":%d", s.cfg.Port))
}

// Shutdown stops the listener, then the services in reverse mount
// order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	err := s.echo.Shutdown(ctx)
	s.mcp.Shutdown()
	s.kernel.Shutdown()
	return err
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) healthz(c echo.Context) error {
	if !s.ready.Load() {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Detail: "initializing"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// auth gates every router behind the bearer token and the session
// header. The token check is skipped when no token is configured; the
// session header is required either way.
func (s *Server) auth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Token != "" {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header != "Bearer "+s.cfg.Token {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return c.JSON(http.StatusUnauthorized, errorBody{Detail: "invalid or missing bearer token"})
			}
		}
		session := c.Request().Header.Get(sessionHeader)
		if session == "" {
			return c.JSON(http.StatusBadRequest, errorBody{Detail: "missing " + sessionHeader + " header"})
		}
		return next(c)
	}
}
