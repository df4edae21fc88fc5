package box

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/types"
)

// Watcher tracks workspace changes with a git repository rooted at
// the workspace. The repository is created lazily on first use and
// commits under a fixed identity so no global git config is needed.
type Watcher struct {
	mu     sync.Mutex
	root   string
	logger zerolog.Logger
}

// NewWatcher creates a watcher over root.
func NewWatcher(root string) *Watcher {
	return &Watcher{root: root, logger: log.WithComponent("watcher")}
}

// LogEntry is one commit with its unified diff.
type LogEntry struct {
	Commit  string `json:"commit"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Message string `json:"message"`
	Diff    string `json:"diff"`
}

func (w *Watcher) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.root
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(exitErr.Stderr))
		}
		return string(out), fmt.Errorf("git %s failed: %w: %s", args[0], err, stderr)
	}
	return string(out), nil
}

// ensureRepo initializes the repository and commit identity on first
// use.
func (w *Watcher) ensureRepo(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(w.root, ".git")); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if _, err := w.git(ctx, "init"); err != nil {
			return err
		}
		w.logger.Info().Str("root", w.root).Msg("Initialized change-tracking repository")
	}
	if _, err := w.git(ctx, "config", "user.email"); err != nil {
		if _, err := w.git(ctx, "config", "user.email", "agentrun@localhost"); err != nil {
			return err
		}
		if _, err := w.git(ctx, "config", "user.name", "agentrun"); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) hasCommits(ctx context.Context) bool {
	_, err := w.git(ctx, "rev-parse", "--verify", "HEAD")
	return err == nil
}

// CommitChanges stages everything and commits. A clean tree is not an
// error; the envelope carries git's own explanation.
func (w *Watcher) CommitChanges(ctx context.Context, message string) *types.ToolResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureRepo(ctx); err != nil {
		return types.ErrorResult(err)
	}
	if _, err := w.git(ctx, "add", "-A"); err != nil {
		return types.ErrorResult(err)
	}
	out, err := w.git(ctx, "commit", "-m", message)
	if err != nil {
		if strings.Contains(out, "nothing to commit") || strings.Contains(err.Error(), "nothing to commit") {
			return types.TextResult("nothing to commit, working tree clean", false)
		}
		return types.ErrorResult(err)
	}
	return types.TextResult(strings.TrimSpace(out), false)
}

// GenerateDiff diffs two commits, one commit against the worktree, or
// the worktree against HEAD when no commits are named. Before the
// first commit the diff is empty.
func (w *Watcher) GenerateDiff(ctx context.Context, commitA, commitB string) *types.ToolResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureRepo(ctx); err != nil {
		return types.ErrorResult(err)
	}

	var out string
	var err error
	switch {
	case commitA == "" && commitB == "":
		if !w.hasCommits(ctx) {
			return types.TextResult("", false)
		}
		out, err = w.git(ctx, "diff", "HEAD")
	case commitB == "":
		out, err = w.git(ctx, "diff", commitA)
	default:
		out, err = w.git(ctx, "diff", commitA, commitB)
	}
	if err != nil {
		return types.ErrorResult(err)
	}
	return types.TextResult(out, false)
}

// GitLogs returns every commit, newest first, each with its patch.
func (w *Watcher) GitLogs(ctx context.Context) ([]LogEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := os.Stat(filepath.Join(w.root, ".git")); err != nil {
		return []LogEntry{}, nil
	}
	if !w.hasCommits(ctx) {
		return []LogEntry{}, nil
	}

	out, err := w.git(ctx, "log", "--pretty=format:%H%x1f%an%x1f%aI%x1f%s")
	if err != nil {
		return nil, err
	}

	entries := []LogEntry{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, "\x1f")
		if len(fields) != 4 {
			continue
		}
		patch, err := w.git(ctx, "show", "--format=", "--patch", fields[0])
		if err != nil {
			return nil, err
		}
		entries = append(entries, LogEntry{
			Commit:  fields[0],
			Author:  fields[1],
			Date:    fields[2],
			Message: fields[3],
			Diff:    patch,
		})
	}
	return entries, nil
}

type commitRequest struct {
	CommitMessage string `json:"commit_message"`
}

func (s *Server) commitChanges(c echo.Context) error {
	var req commitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "invalid request body"})
	}
	if strings.TrimSpace(req.CommitMessage) == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "commit_message is required"})
	}
	return c.JSON(http.StatusOK, s.watcher.CommitChanges(c.Request().Context(), req.CommitMessage))
}

type diffRequest struct {
	CommitA string `json:"commit_a"`
	CommitB string `json:"commit_b"`
}

func (s *Server) generateDiff(c echo.Context) error {
	var req diffRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "invalid request body"})
	}
	return c.JSON(http.StatusOK, s.watcher.GenerateDiff(c.Request().Context(), req.CommitA, req.CommitB))
}

func (s *Server) gitLogs(c echo.Context) error {
	entries, err := s.watcher.GitLogs(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Detail: err.Error()})
	}
	return c.JSON(http.StatusOK, map[string][]LogEntry{"logs": entries})
}
