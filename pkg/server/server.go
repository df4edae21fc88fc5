package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/images"
	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/manager"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/types"
)

// Sandboxes is the manager surface the facade exposes over HTTP.
// *manager.Manager implements it.
type Sandboxes interface {
	Connect(ctx context.Context, opts manager.ConnectOptions) (*types.Container, error)
	Release(ctx context.Context, sessionID string, toPool bool) error
	Get(ctx context.Context, sessionID string) (*types.Container, error)
	List(ctx context.Context) ([]*types.Container, error)
	PoolStatus(ctx context.Context) (map[string]int, error)
}

// Route is one facade endpoint. The full surface is the static table
// in routes; nothing is registered by reflection.
type Route struct {
	Method  string
	Path    string
	Handler echo.HandlerFunc

	// Public routes skip the bearer gate (health and metrics).
	Public bool
}

// Server is the manager HTTP facade.
type Server struct {
	cfg       *config.Config
	sandboxes Sandboxes
	version   string
	echo      *echo.Echo
	logger    zerolog.Logger
}

// New assembles the facade from the route table. The bearer gate wraps
// every non-public route; without a configured token the facade runs
// open and says so once.
func New(cfg *config.Config, sandboxes Sandboxes, version string) *Server {
	s := &Server{
		cfg:       cfg,
		sandboxes: sandboxes,
		version:   version,
		logger:    log.WithComponent("server"),
	}

	if cfg.Server.BearerToken == "" {
		s.logger.Warn().Msg("No bearer token configured; facade running without authentication")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(s.observe)

	for _, route := range s.routes() {
		handler := route.Handler
		if !route.Public {
			handler = s.auth(handler)
		}
		e.Add(route.Method, route.Path, handler)
	}

	s.echo = e
	return s
}

// routes is the complete facade surface.
func (s *Server) routes() []Route {
	return []Route{
		{Method: http.MethodGet, Path: "/health", Handler: s.health, Public: true},
		{Method: http.MethodGet, Path: "/ready", Handler: echo.WrapHandler(metrics.ReadyHandler()), Public: true},
		{Method: http.MethodGet, Path: "/live", Handler: echo.WrapHandler(metrics.LivenessHandler()), Public: true},
		{Method: http.MethodGet, Path: "/metrics", Handler: echo.WrapHandler(metrics.Handler()), Public: true},
		{Method: http.MethodPost, Path: "/v1/sandboxes/connect", Handler: s.connect},
		{Method: http.MethodPost, Path: "/v1/sandboxes/release", Handler: s.release},
		{Method: http.MethodGet, Path: "/v1/sandboxes", Handler: s.list},
		{Method: http.MethodGet, Path: "/v1/sandboxes/:session_id", Handler: s.get},
		{Method: http.MethodGet, Path: "/v1/pools", Handler: s.pools},
	}
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info().
		Str("addr", addr).
		Str("version", s.version).
		Str("backend", s.cfg.Sandbox.Deployment).
		Msg("Facade listening")
	metrics.RegisterComponent("api", true, "listening on "+addr)
	return s.echo.Start(addr)
}

// Shutdown stops the listener, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// respondData wraps a success payload in the {data} envelope.
func respondData(c echo.Context, status int, data any) error {
	return c.JSON(status, map[string]any{"data": data})
}

// respondError wraps a failure in the {error} envelope.
func respondError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// fail maps manager errors onto HTTP statuses.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, manager.ErrSessionNotFound):
		return respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, images.ErrUnknownType):
		return respondError(c, http.StatusBadRequest, err.Error())
	default:
		return respondError(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) auth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Server.BearerToken == "" {
			return next(c)
		}
		if c.Request().Header.Get(echo.HeaderAuthorization) != "Bearer "+s.cfg.Server.BearerToken {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
			return respondError(c, http.StatusUnauthorized, "invalid or missing bearer token")
		}
		return next(c)
	}
}

func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		err := next(c)
		method := c.Request().Method
		metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(c.Response().Status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
		return err
	}
}

// healthInfo mirrors the client's health payload. Health answers bare
// JSON so load balancers and the CLI read the same shape.
type healthInfo struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	DefaultType string `json:"default_type"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthInfo{
		Status:      "healthy",
		Version:     s.version,
		DefaultType: s.cfg.DefaultType(),
	})
}

type connectRequest struct {
	SandboxType string         `json:"sandbox_type"`
	SessionID   string         `json:"session_id"`
	Version     string         `json:"version"`
	Meta        map[string]any `json:"meta"`
}

func (s *Server) connect(c echo.Context) error {
	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid request body")
	}

	container, err := s.sandboxes.Connect(c.Request().Context(), manager.ConnectOptions{
		Type:      req.SandboxType,
		SessionID: req.SessionID,
		Version:   req.Version,
		Meta:      req.Meta,
	})
	if err != nil {
		return fail(c, err)
	}
	return respondData(c, http.StatusOK, container)
}

type releaseRequest struct {
	SessionID string `json:"session_id"`
	ToPool    bool   `json:"to_pool"`
}

func (s *Server) release(c echo.Context) error {
	var req releaseRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return respondError(c, http.StatusBadRequest, "session_id is required")
	}

	if err := s.sandboxes.Release(c.Request().Context(), req.SessionID, req.ToPool); err != nil {
		return fail(c, err)
	}
	return respondData(c, http.StatusOK, map[string]string{"message": "released"})
}

func (s *Server) get(c echo.Context) error {
	container, err := s.sandboxes.Get(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return fail(c, err)
	}
	return respondData(c, http.StatusOK, container)
}

func (s *Server) list(c echo.Context) error {
	containers, err := s.sandboxes.List(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return respondData(c, http.StatusOK, containers)
}

func (s *Server) pools(c echo.Context) error {
	levels, err := s.sandboxes.PoolStatus(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return respondData(c, http.StatusOK, levels)
}
