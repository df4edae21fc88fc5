package box

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/log"
)

// ErrOutsideWorkspace is returned when a requested path resolves
// outside the workspace root, including through symlinks.
var ErrOutsideWorkspace = errors.New("path escapes the workspace")

var (
	errIsDirectory  = errors.New("path is a directory")
	errNotDirectory = errors.New("path is not a directory")
)

// DirectoryListing is the recursive listing payload.
type DirectoryListing struct {
	Items      []DirectoryItem `json:"items"`
	Statistics DirectoryStats  `json:"statistics"`
}

// DirectoryItem is one entry in a listing.
type DirectoryItem struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// DirectoryStats summarizes a listing.
type DirectoryStats struct {
	TotalFiles       int `json:"total_files"`
	TotalDirectories int `json:"total_directories"`
}

// WorkspaceService confines file operations to a root directory.
// Every requested path is symlink-resolved before the containment
// check so a link pointing outside the root cannot smuggle reads or
// writes past it.
type WorkspaceService struct {
	root         string
	resolvedRoot string
	logger       zerolog.Logger
}

// NewWorkspace creates the service rooted at root.
func NewWorkspace(root string) *WorkspaceService {
	return &WorkspaceService{root: root, logger: log.WithComponent("workspace")}
}

// Init creates the root and pins its resolved form, which is what the
// containment check compares against. The root itself may sit behind
// a symlink (e.g. /tmp on macOS).
func (w *WorkspaceService) Init() error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace %s: %w", w.root, err)
	}
	resolved, err := filepath.EvalSymlinks(w.root)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace %s: %w", w.root, err)
	}
	w.resolvedRoot = resolved
	return nil
}

// Resolve maps a client path to a real path under the root or fails
// with ErrOutsideWorkspace. Relative paths are taken relative to the
// root; the deepest existing ancestor is symlink-resolved so targets
// that do not exist yet still get checked.
func (w *WorkspaceService) Resolve(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("path is required")
	}
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.root, path)
	}
	path = filepath.Clean(path)

	resolved, err := resolveExisting(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", raw, err)
	}
	if resolved != w.resolvedRoot && !strings.HasPrefix(resolved, w.resolvedRoot+string(filepath.Separator)) {
		w.logger.Warn().Str("path", raw).Str("resolved", resolved).Msg("Blocked path outside workspace")
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, raw)
	}
	return resolved, nil
}

// resolveExisting symlink-resolves the deepest existing ancestor of
// path and re-appends the missing suffix.
func resolveExisting(path string) (string, error) {
	suffix := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(current), suffix)
		current = parent
	}
}

// ReadFile returns the contents of a workspace file.
func (w *WorkspaceService) ReadFile(raw string) ([]byte, error) {
	path, err := w.Resolve(raw)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", errIsDirectory, raw)
	}
	return os.ReadFile(path)
}

// WriteFile writes a workspace file, creating parent directories.
func (w *WorkspaceService) WriteFile(raw string, data []byte) error {
	path, err := w.Resolve(raw)
	if err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s", errIsDirectory, raw)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DeleteFile removes a workspace file.
func (w *WorkspaceService) DeleteFile(raw string) error {
	path, err := w.Resolve(raw)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", errIsDirectory, raw)
	}
	return os.Remove(path)
}

// List walks a workspace directory recursively and returns every
// entry with counts. The listed directory itself is not an item.
func (w *WorkspaceService) List(raw string) (*DirectoryListing, error) {
	if raw == "" {
		raw = w.root
	}
	path, err := w.Resolve(raw)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", errNotDirectory, raw)
	}

	listing := &DirectoryListing{Items: []DirectoryItem{}}
	err = filepath.WalkDir(path, func(entry string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry == path {
			return nil
		}
		kind := "file"
		if d.IsDir() {
			kind = "directory"
			listing.Statistics.TotalDirectories++
		} else {
			listing.Statistics.TotalFiles++
		}
		listing.Items = append(listing.Items, DirectoryItem{Type: kind, Path: entry})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// CreateDirectory creates a workspace directory, parents included.
func (w *WorkspaceService) CreateDirectory(raw string) error {
	path, err := w.Resolve(raw)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

// DeleteDirectory removes a workspace directory. Without recursive a
// non-empty directory is refused.
func (w *WorkspaceService) DeleteDirectory(raw string, recursive bool) error {
	path, err := w.Resolve(raw)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", errNotDirectory, raw)
	}
	if recursive {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}

// Move renames a file or directory inside the workspace.
func (w *WorkspaceService) Move(srcRaw, dstRaw string) error {
	src, err := w.Resolve(srcRaw)
	if err != nil {
		return err
	}
	dst, err := w.Resolve(dstRaw)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

// Copy duplicates a file or directory tree inside the workspace.
func (w *WorkspaceService) Copy(srcRaw, dstRaw string) error {
	src, err := w.Resolve(srcRaw)
	if err != nil {
		return err
	}
	dst, err := w.Resolve(dstRaw)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyTree(src, dst)
	}
	return copyFile(src, dst, info.Mode())
}

func copyFile(src, dst string, mode fs.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, mode.Perm())
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(entry string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, entry)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(entry, target, info.Mode())
	})
}

func workspaceStatus(err error) int {
	switch {
	case errors.Is(err, ErrOutsideWorkspace):
		return http.StatusForbidden
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, errIsDirectory), errors.Is(err, errNotDirectory), errors.Is(err, syscall.ENOTEMPTY):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func workspaceError(c echo.Context, err error) error {
	return c.JSON(workspaceStatus(err), errorBody{Detail: err.Error()})
}

func (s *Server) readFile(c echo.Context) error {
	path := c.QueryParam("file_path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "file_path is required"})
	}
	data, err := s.workspace.ReadFile(path)
	if err != nil {
		return workspaceError(c, err)
	}
	return c.Blob(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) writeFile(c echo.Context) error {
	path := c.QueryParam("file_path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "file_path is required"})
	}
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "failed to read request body"})
	}
	if err := s.workspace.WriteFile(path, data); err != nil {
		return workspaceError(c, err)
	}
	return c.JSON(http.StatusOK, messageBody{Message: "file written"})
}

func (s *Server) deleteFile(c echo.Context) error {
	path := c.QueryParam("file_path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "file_path is required"})
	}
	if err := s.workspace.DeleteFile(path); err != nil {
		return workspaceError(c, err)
	}
	return c.JSON(http.StatusOK, messageBody{Message: "file deleted"})
}

func (s *Server) listDirectory(c echo.Context) error {
	listing, err := s.workspace.List(c.QueryParam("directory"))
	if err != nil {
		return workspaceError(c, err)
	}
	return c.JSON(http.StatusOK, listing)
}

func (s *Server) createDirectory(c echo.Context) error {
	path := c.QueryParam("directory_path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "directory_path is required"})
	}
	if err := s.workspace.CreateDirectory(path); err != nil {
		return workspaceError(c, err)
	}
	return c.JSON(http.StatusOK, messageBody{Message: "directory created"})
}

func (s *Server) deleteDirectory(c echo.Context) error {
	path := c.QueryParam("directory_path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "directory_path is required"})
	}
	recursive, _ := strconv.ParseBool(c.QueryParam("recursive"))
	if err := s.workspace.DeleteDirectory(path, recursive); err != nil {
		return workspaceError(c, err)
	}
	return c.JSON(http.StatusOK, messageBody{Message: "directory deleted"})
}

type transferRequest struct {
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
}

func (s *Server) movePath(c echo.Context) error {
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "invalid request body"})
	}
	if err := s.workspace.Move(req.SourcePath, req.DestinationPath); err != nil {
		return workspaceError(c, err)
	}
	return c.JSON(http.StatusOK, messageBody{Message: "moved"})
}

func (s *Server) copyPath(c echo.Context) error {
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: "invalid request body"})
	}
	if err := s.workspace.Copy(req.SourcePath, req.DestinationPath); err != nil {
		return workspaceError(c, err)
	}
	return c.JSON(http.StatusOK, messageBody{Message: "copied"})
}
