package mounts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentrun/agentrun/pkg/archive"
)

const (
	// DefaultBaseDir is the fallback root for session workspaces.
	DefaultBaseDir = "/var/lib/agentrun/mounts"

	// workspaceName is the per-session subdirectory holding the
	// sandbox's /workspace contents.
	workspaceName = "workspace"
)

// Provisioner manages the host-side workspace directory of a session.
type Provisioner interface {
	// Prepare creates the session workspace and returns its host path
	// plus the storage prefix backing it; the prefix is empty when no
	// archive backs the workspace.
	Prepare(sessionID string) (mountDir, storagePath string, err error)

	// Restore rehydrates a previously released workspace into dir.
	Restore(sessionID, dir string) error

	// Release detaches the workspace. keep preserves a restorable
	// copy; without it the workspace is destroyed.
	Release(sessionID, dir string, keep bool) error
}

// LocalProvisioner keeps workspaces as plain directories under a base
// path. Released workspaces survive only when kept in place.
type LocalProvisioner struct {
	baseDir string
}

// NewLocal creates a local provisioner rooted at baseDir.
func NewLocal(baseDir string) (*LocalProvisioner, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mounts directory: %w", err)
	}

	return &LocalProvisioner{baseDir: baseDir}, nil
}

// Prepare creates the session's workspace directory.
func (p *LocalProvisioner) Prepare(sessionID string) (string, string, error) {
	dir := p.Path(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return dir, "", nil
}

// Restore is a no-op: a kept local workspace is already in place.
func (p *LocalProvisioner) Restore(sessionID, dir string) error {
	return nil
}

// Release removes the workspace unless keep is set. A kept workspace
// stays on disk at its deterministic path for the next Prepare.
func (p *LocalProvisioner) Release(sessionID, dir string, keep bool) error {
	if keep {
		return nil
	}
	if dir == "" {
		dir = p.Path(sessionID)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil // Already released
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove workspace directory: %w", err)
	}
	return nil
}

// Path returns the host path for a session's workspace.
func (p *LocalProvisioner) Path(sessionID string) string {
	return filepath.Join(p.baseDir, sessionID, workspaceName)
}

// ArchiveProvisioner layers snapshot persistence over local
// workspaces: release saves the directory into the archive store and
// re-attach restores it.
type ArchiveProvisioner struct {
	local *LocalProvisioner
	store *archive.Store
}

// NewArchive creates an archive-backed provisioner over baseDir.
func NewArchive(baseDir string, store *archive.Store) (*ArchiveProvisioner, error) {
	local, err := NewLocal(baseDir)
	if err != nil {
		return nil, err
	}
	return &ArchiveProvisioner{local: local, store: store}, nil
}

// Prepare creates the workspace and restores the session's snapshot
// into it when one exists.
func (p *ArchiveProvisioner) Prepare(sessionID string) (string, string, error) {
	dir, _, err := p.local.Prepare(sessionID)
	if err != nil {
		return "", "", err
	}

	// First attach has no snapshot; anything else is a real failure.
	prefix := StoragePrefix(sessionID)
	if err := p.store.Restore(prefix, dir); err != nil && !errors.Is(err, archive.ErrNotFound) {
		return "", "", fmt.Errorf("failed to restore workspace for %s: %w", sessionID, err)
	}
	return dir, prefix, nil
}

// Restore extracts the session's snapshot into dir.
func (p *ArchiveProvisioner) Restore(sessionID, dir string) error {
	if err := p.store.Restore(StoragePrefix(sessionID), dir); err != nil {
		return fmt.Errorf("failed to restore workspace for %s: %w", sessionID, err)
	}
	return nil
}

// Release snapshots the workspace when keep is set, then removes the
// directory. Without keep the stored snapshot is dropped too.
func (p *ArchiveProvisioner) Release(sessionID, dir string, keep bool) error {
	if dir == "" {
		dir = p.local.Path(sessionID)
	}
	prefix := StoragePrefix(sessionID)

	if keep {
		if _, err := os.Stat(dir); err == nil {
			if err := p.store.Save(prefix, dir); err != nil {
				return fmt.Errorf("failed to archive workspace for %s: %w", sessionID, err)
			}
		}
	} else {
		if err := p.store.Delete(prefix); err != nil {
			return fmt.Errorf("failed to drop archive for %s: %w", sessionID, err)
		}
	}

	return p.local.Release(sessionID, dir, false)
}

// StoragePrefix returns the archive key for a session's workspace.
func StoragePrefix(sessionID string) string {
	return sessionID + "/" + workspaceName
}

// Readonly copies the configured host→container readonly mount map so
// create specs cannot alias the config.
func Readonly(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for host, target := range m {
		out[host] = target
	}
	return out
}

// Reset empties a workspace directory in place, keeping the directory
// itself so existing bind mounts stay valid.
func Reset(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read workspace directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to reset workspace: %w", err)
		}
	}
	return nil
}
