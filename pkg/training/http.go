package training

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/log"
)

// serviceRequest is the unified body every POST endpoint accepts; each
// handler reads the fields it needs.
type serviceRequest struct {
	EnvType    string           `json:"env_type,omitempty"`
	TaskID     string           `json:"task_id,omitempty"`
	InstanceID string           `json:"instance_id,omitempty"`
	Split      string           `json:"split,omitempty"`
	Action     map[string]any   `json:"action,omitempty"`
	Messages   []map[string]any `json:"messages,omitempty"`
	Params     map[string]any   `json:"params,omitempty"`
}

type serviceResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type serviceError struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

// Server is the training-environment HTTP surface. It runs in trusted
// developer contexts: no auth, full stack traces in error bodies.
type Server struct {
	svc    *Service
	addr   string
	echo   *echo.Echo
	logger zerolog.Logger
}

// NewServer builds the HTTP server over svc, listening per
// cfg.Training.
func NewServer(cfg *config.Config, svc *Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		svc:    svc,
		addr:   fmt.Sprintf("%s:%d", cfg.Training.Host, cfg.Training.Port),
		echo:   e,
		logger: log.WithComponent("training-http"),
	}

	e.GET("/healthz", s.healthz)
	e.POST("/create", s.create)
	e.POST("/step", s.step)
	e.POST("/evaluate", s.evaluate)
	e.POST("/get_info", s.getInfo)
	e.POST("/release", s.release)
	e.POST("/get_env_profile", s.getEnvProfile)
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("Training service listening")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, serviceResponse{Success: true, Data: data})
}

func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrUnknownEnvironment) || errors.Is(err, ErrInstanceNotFound) {
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("Training request failed")
	}
	return c.JSON(status, serviceError{Detail: err.Error()})
}

func bind(c echo.Context) (*serviceRequest, error) {
	var req serviceRequest
	if err := c.Bind(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) create(c echo.Context) error {
	req, err := bind(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "invalid request body"})
	}
	if req.EnvType == "" {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "env_type is required"})
	}

	instanceID, initState, err := s.svc.Create(c.Request().Context(), req.EnvType, req.TaskID, req.Params)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string]any{"instance_id": instanceID, "init_state": initState})
}

func (s *Server) step(c echo.Context) error {
	req, err := bind(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "invalid request body"})
	}
	if req.InstanceID == "" {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "instance_id is required"})
	}

	result, err := s.svc.Step(c.Request().Context(), req.InstanceID, req.Action, req.Params)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, result)
}

func (s *Server) evaluate(c echo.Context) error {
	req, err := bind(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "invalid request body"})
	}
	if req.InstanceID == "" {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "instance_id is required"})
	}

	result, err := s.svc.Evaluate(c.Request().Context(), req.InstanceID, req.Messages, req.Params)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, result)
}

func (s *Server) getInfo(c echo.Context) error {
	req, err := bind(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "invalid request body"})
	}
	if req.InstanceID == "" {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "instance_id is required"})
	}

	result, err := s.svc.Info(c.Request().Context(), req.InstanceID, req.Messages, req.Params)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, result)
}

func (s *Server) release(c echo.Context) error {
	req, err := bind(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "invalid request body"})
	}
	if req.InstanceID == "" {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "instance_id is required"})
	}

	if err := s.svc.Release(c.Request().Context(), req.InstanceID); err != nil {
		return s.fail(c, err)
	}
	return ok(c, true)
}

func (s *Server) getEnvProfile(c echo.Context) error {
	req, err := bind(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "invalid request body"})
	}
	if req.EnvType == "" {
		return c.JSON(http.StatusBadRequest, serviceError{Detail: "env_type is required"})
	}

	list, err := s.svc.Profile(req.EnvType, req.Split, req.Params)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, list)
}
