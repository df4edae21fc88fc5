package box

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os/exec"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/agentrun/agentrun/pkg/types"
)

// ShellService runs commands under bash in the workspace directory.
type ShellService struct {
	workdir string
}

// NewShell creates a shell service rooted at workdir.
func NewShell(workdir string) *ShellService {
	return &ShellService{workdir: workdir}
}

// Run executes a command and folds stdout, stderr and the exit code
// into the tool envelope. The envelope reports an error only when the
// command wrote to stderr; a non-zero exit with clean stderr is a
// normal result.
func (s *ShellService) Run(ctx context.Context, command string) *types.ToolResult {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = s.workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The shell itself failed to launch.
			return types.ErrorResult(err)
		}
		exitCode = exitErr.ExitCode()
	}
	return execEnvelope(stdout.String(), stderr.String(), exitCode)
}

// execEnvelope is the shared shape for shell commands and kernel
// cells: stdout, stderr and the return code as three text items.
func execEnvelope(stdout, stderr string, exitCode int) *types.ToolResult {
	return &types.ToolResult{
		Content: []types.ToolContent{
			{Type: "text", Text: stdout, Description: "stdout"},
			{Type: "text", Text: stderr, Description: "stderr"},
			{Type: "text", Text: strconv.Itoa(exitCode)},
		},
		IsError: stderr != "",
	}
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) runShellCommand(c echo.Context) error {
	var req commandRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "invalid request body"})
	}
	return c.JSON(http.StatusOK, s.shell.Run(c.Request().Context(), req.Command))
}

type cellRequest struct {
	Code string `json:"code"`
}

func (s *Server) runIPythonCell(c echo.Context) error {
	var req cellRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "invalid request body"})
	}
	if strings.TrimSpace(req.Code) == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "code is required"})
	}

	stdout, stderr, err := s.kernel.Execute(c.Request().Context(), req.Code)
	if err != nil {
		// The kernel itself failed; cell-level failures come back as
		// stderr in the envelope.
		return c.JSON(http.StatusInternalServerError, errorBody{Detail: err.Error()})
	}
	// Cells have no exit code; the envelope keeps the shell shape.
	return c.JSON(http.StatusOK, execEnvelope(stdout, stderr, 0))
}
