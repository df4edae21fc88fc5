package deployments

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/types"
)

const (
	stateFile     = "deployments.json"
	backupPrefix  = "deployments.backup."
	backupSuffix  = ".json"
	backupDate    = "20060102"
	schemaVersion = "1.0"

	// backupDays is how many calendar days of backups are kept,
	// today included.
	backupDays = 30
)

// ErrNotFound is returned for deployment IDs with no record.
var ErrNotFound = errors.New("deployment not found")

// ErrEmptyOverwrite is the data-loss guard: writing an empty
// deployments map over a non-empty state file is a programmer error,
// never something the store does silently.
var ErrEmptyOverwrite = errors.New("refusing to overwrite non-empty deployment state with empty state")

// document is the on-disk shape.
type document struct {
	Version     string                       `json:"version"`
	Deployments map[string]*types.Deployment `json:"deployments"`
}

func emptyDocument() document {
	return document{Version: schemaVersion, Deployments: map[string]*types.Deployment{}}
}

// Store is the persistent deployment index: one JSON document in a
// directory, written atomically with daily rotating backups. Single
// writer per directory; the mutex serializes writers in this process
// and atomic rename keeps readers consistent across processes.
type Store struct {
	mu     sync.Mutex
	dir    string
	now    func() time.Time
	logger zerolog.Logger
}

// Option customizes store construction.
type Option func(*Store)

// WithClock replaces the wall clock. Backup naming and pruning key off
// it; tests inject a fixed clock to drive day rollover.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore opens the deployment store rooted at dir, creating it if
// needed.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	s := &Store{
		dir:    dir,
		now:    time.Now,
		logger: log.WithComponent("deployments"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, stateFile)
}

// load reads and repairs the current state. A missing or corrupt file
// is an empty state, never an error; invalid records are dropped
// individually so one bad entry cannot take the rest down.
func (s *Store) load() (document, error) {
	raw, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return emptyDocument(), nil
		}
		return document{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn().Err(err).Str("file", s.path()).Msg("Corrupt state file; starting from empty state")
		return emptyDocument(), nil
	}
	if doc.Deployments == nil {
		doc.Deployments = map[string]*types.Deployment{}
	}

	for id, record := range doc.Deployments {
		if record == nil || !record.Valid() {
			s.logger.Warn().Str("deployment_id", id).Msg("Dropping invalid deployment record")
			metrics.StoreDroppedRecords.Inc()
			delete(doc.Deployments, id)
		}
	}
	doc.Version = schemaVersion
	return doc, nil
}

// write persists doc through the atomic path: backup if the content
// changes, temp file, rename. The caller holds the mutex.
func (s *Store) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	data = append(data, '\n')

	current, readErr := os.ReadFile(s.path())
	exists := readErr == nil
	if readErr != nil && !os.IsNotExist(readErr) {
		return fmt.Errorf("failed to read current state: %w", readErr)
	}

	var currentDoc document
	currentValid := exists && json.Unmarshal(current, &currentDoc) == nil

	if currentValid && len(currentDoc.Deployments) > 0 && len(doc.Deployments) == 0 {
		return ErrEmptyOverwrite
	}
	if exists && bytes.Equal(current, data) {
		return nil
	}

	// A corrupt current file counts as a first write: nothing worth
	// backing up.
	if currentValid {
		backupPath := filepath.Join(s.dir, backupPrefix+s.now().Format(backupDate)+backupSuffix)
		if err := os.WriteFile(backupPath, current, 0o644); err != nil {
			return fmt.Errorf("failed to write backup: %w", err)
		}
		metrics.StoreBackupsTotal.Inc()
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	if _, err := s.pruneLocked(); err != nil {
		s.logger.Warn().Err(err).Msg("Backup pruning failed")
	}
	return nil
}

// Save upserts one deployment record.
func (s *Store) Save(record *types.Deployment) error {
	if record == nil || !record.Valid() {
		return errors.New("deployment record is missing required fields")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Deployments[record.ID] = record
	return s.write(doc)
}

// Get returns one deployment by ID.
func (s *Store) Get(id string) (*types.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	record, ok := doc.Deployments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return record, nil
}

// List returns every deployment sorted by ID.
func (s *Store) List() ([]*types.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(doc.Deployments))
	for id := range doc.Deployments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*types.Deployment, 0, len(ids))
	for _, id := range ids {
		out = append(out, doc.Deployments[id])
	}
	return out, nil
}

// Count returns the number of stored deployments.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	return len(doc.Deployments), nil
}

// Delete removes one deployment. Deleting the last record fails with
// ErrEmptyOverwrite: blanking the state file requires removing it by
// hand, not an API call.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Deployments[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(doc.Deployments, id)
	return s.write(doc)
}

// UpdateStatus changes only the status of one record, preserving every
// other field. Absent IDs and an empty state both fail with
// ErrNotFound.
func (s *Store) UpdateStatus(id string, status types.DeploymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if len(doc.Deployments) == 0 {
		return fmt.Errorf("%w: %s (state is empty)", ErrNotFound, id)
	}
	record, ok := doc.Deployments[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	record.Status = status
	return s.write(doc)
}

// ExportToFile dumps the full document to path.
func (s *Store) ExportToFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ImportFromFile loads a document from path. With merge, imported
// records win by ID over current ones; without, the imported document
// replaces the state wholesale. Both go through the atomic+backup
// write, so replacing non-empty state with an empty import fails with
// ErrEmptyOverwrite.
func (s *Store) ImportFromFile(path string, merge bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}
	var imported document
	if err := json.Unmarshal(raw, &imported); err != nil {
		return fmt.Errorf("failed to parse import file: %w", err)
	}
	if imported.Deployments == nil {
		imported.Deployments = map[string]*types.Deployment{}
	}
	for id, record := range imported.Deployments {
		if record == nil || !record.Valid() {
			s.logger.Warn().Str("deployment_id", id).Msg("Skipping invalid imported record")
			delete(imported.Deployments, id)
		}
	}
	imported.Version = schemaVersion

	s.mu.Lock()
	defer s.mu.Unlock()

	if !merge {
		return s.write(imported)
	}

	doc, err := s.load()
	if err != nil {
		return err
	}
	for id, record := range imported.Deployments {
		doc.Deployments[id] = record
	}
	return s.write(doc)
}

// PruneBackups removes backups older than the retention window and
// returns how many were removed.
func (s *Store) PruneBackups() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked()
}

func (s *Store) pruneLocked() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list state directory: %w", err)
	}

	today := s.today()
	cutoff := today.AddDate(0, 0, -(backupDays - 1))

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
		day, err := time.Parse(backupDate, stamp)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
				s.logger.Warn().Err(err).Str("backup", name).Msg("Failed to remove expired backup")
				continue
			}
			s.logger.Debug().Str("backup", name).Msg("Removed expired backup")
			removed++
		}
	}
	return removed, nil
}

func (s *Store) today() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
