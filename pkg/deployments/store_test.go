package deployments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}
	store, err := NewStore(t.TempDir(), WithClock(clock.Now))
	require.NoError(t, err)
	return store, clock
}

func sampleDeployment(id string) *types.Deployment {
	return &types.Deployment{
		ID:          id,
		Platform:    "railway",
		URL:         "https://" + id + ".example.com",
		AgentSource: "/agents/" + id,
		CreatedAt:   "2026-08-24T10:00:00Z",
		Status:      types.DeploymentStatusRunning,
	}
}

func backupFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), backupPrefix) {
			names = append(names, entry.Name())
		}
	}
	return names
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	record := sampleDeployment("d1")
	record.Token = "rw-tok"
	record.Config = map[string]any{"region": "us-west", "replicas": float64(2)}
	require.NoError(t, store.Save(record))

	got, err := store.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, "railway", got.Platform)
	assert.Equal(t, "rw-tok", got.Token)
	assert.Equal(t, "us-west", got.Config["region"])
}

func TestSaveRejectsIncompleteRecord(t *testing.T) {
	store, _ := newTestStore(t)

	record := sampleDeployment("d1")
	record.URL = ""
	assert.Error(t, store.Save(record))
	assert.Error(t, store.Save(nil))
}

func TestUpdateStatusPreservesFields(t *testing.T) {
	store, _ := newTestStore(t)

	record := sampleDeployment("d1")
	record.Config = map[string]any{"region": "us-west"}
	require.NoError(t, store.Save(record))

	require.NoError(t, store.UpdateStatus("d1", types.DeploymentStatusStopped))

	got, err := store.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentStatusStopped, got.Status)
	assert.Equal(t, "https://d1.example.com", got.URL)
	assert.Equal(t, "/agents/d1", got.AgentSource)
	assert.Equal(t, "us-west", got.Config["region"])
}

func TestUpdateStatusMissing(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.UpdateStatus("ghost", types.DeploymentStatusStopped)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(sampleDeployment("d1")))
	err = store.UpdateStatus("ghost", types.DeploymentStatusStopped)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSortsByID(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(sampleDeployment("zeta")))
	require.NoError(t, store.Save(sampleDeployment("alpha")))
	require.NoError(t, store.Save(sampleDeployment("mid")))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alpha", records[0].ID)
	assert.Equal(t, "mid", records[1].ID)
	assert.Equal(t, "zeta", records[2].ID)
}

func TestDeleteRemovesRecord(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(sampleDeployment("d1")))
	require.NoError(t, store.Save(sampleDeployment("d2")))
	require.NoError(t, store.Delete("d1"))

	_, err := store.Get("d1")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteLastRecordRefused(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(sampleDeployment("d1")))
	err := store.Delete("d1")
	assert.ErrorIs(t, err, ErrEmptyOverwrite)

	got, getErr := store.Get("d1")
	require.NoError(t, getErr)
	assert.Equal(t, "d1", got.ID)
}

func TestFirstWriteCreatesNoBackup(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(sampleDeployment("d1")))
	assert.Empty(t, backupFiles(t, store.dir))
}

func TestIdenticalContentCreatesNoBackup(t *testing.T) {
	store, _ := newTestStore(t)

	record := sampleDeployment("d1")
	require.NoError(t, store.Save(record))
	require.NoError(t, store.Save(record))
	assert.Empty(t, backupFiles(t, store.dir))
}

func TestOneBackupPerDay(t *testing.T) {
	store, clock := newTestStore(t)

	require.NoError(t, store.Save(sampleDeployment("d1")))
	require.NoError(t, store.Save(sampleDeployment("d2")))
	require.NoError(t, store.Save(sampleDeployment("d3")))

	names := backupFiles(t, store.dir)
	require.Len(t, names, 1)
	assert.Equal(t, "deployments.backup.20260824.json", names[0])

	clock.Advance(24 * time.Hour)
	require.NoError(t, store.Save(sampleDeployment("d4")))

	names = backupFiles(t, store.dir)
	assert.Len(t, names, 2)
	assert.Contains(t, names, "deployments.backup.20260825.json")
}

func TestBackupHoldsPriorContent(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(sampleDeployment("d1")))
	require.NoError(t, store.Save(sampleDeployment("d2")))

	raw, err := os.ReadFile(filepath.Join(store.dir, "deployments.backup.20260824.json"))
	require.NoError(t, err)

	var doc document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc.Deployments, 1)
	assert.Contains(t, doc.Deployments, "d1")
}

func TestExpiredBackupRemovedOnSave(t *testing.T) {
	store, clock := newTestStore(t)

	old := backupPrefix + clock.Now().AddDate(0, 0, -35).Format(backupDate) + backupSuffix
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, old), []byte("{}"), 0o644))

	require.NoError(t, store.Save(sampleDeployment("d1")))
	require.NoError(t, store.Save(sampleDeployment("d2")))

	names := backupFiles(t, store.dir)
	require.Len(t, names, 1)
	assert.NotContains(t, names, old)
}

func TestPruneBackups(t *testing.T) {
	store, clock := newTestStore(t)

	stale := backupPrefix + clock.Now().AddDate(0, 0, -40).Format(backupDate) + backupSuffix
	fresh := backupPrefix + clock.Now().AddDate(0, 0, -5).Format(backupDate) + backupSuffix
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, stale), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, fresh), []byte("{}"), 0o644))

	removed, err := store.PruneBackups()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	names := backupFiles(t, store.dir)
	require.Len(t, names, 1)
	assert.Equal(t, fresh, names[0])
}

func TestEmptyImportOverNonEmptyRefused(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(sampleDeployment("d1")))

	emptyPath := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(emptyPath, []byte(`{"version":"1.0","deployments":{}}`), 0o644))

	err := store.ImportFromFile(emptyPath, false)
	assert.ErrorIs(t, err, ErrEmptyOverwrite)

	got, getErr := store.Get("d1")
	require.NoError(t, getErr)
	assert.Equal(t, "d1", got.ID)
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, os.WriteFile(store.path(), []byte("{not json"), 0o644))

	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)

	// The recovery write counts as a first write.
	require.NoError(t, store.Save(sampleDeployment("d1")))
	assert.Empty(t, backupFiles(t, store.dir))
}

func TestInvalidRecordsDropped(t *testing.T) {
	store, _ := newTestStore(t)

	state := `{
  "version": "1.0",
  "deployments": {
    "good": {"id": "good", "platform": "railway", "url": "https://g", "agent_source": "/a", "created_at": "2026-08-24T10:00:00Z", "status": "running"},
    "bad": {"id": "bad", "platform": "railway"}
  }
}`
	require.NoError(t, os.WriteFile(store.path(), []byte(state), 0o644))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].ID)
}

func TestNoTempFileLeftBehind(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(sampleDeployment("d1")))
	require.NoError(t, store.Save(sampleDeployment("d2")))
	assert.ErrorIs(t, store.Delete("nope"), ErrNotFound)

	entries, err := os.ReadDir(store.dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "stray temp file %s", entry.Name())
	}
}

func TestExportImportReplace(t *testing.T) {
	source, _ := newTestStore(t)
	require.NoError(t, source.Save(sampleDeployment("d1")))
	require.NoError(t, source.Save(sampleDeployment("d2")))

	exportPath := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, source.ExportToFile(exportPath))

	target, _ := newTestStore(t)
	require.NoError(t, target.Save(sampleDeployment("d3")))
	require.NoError(t, target.ImportFromFile(exportPath, false))

	records, err := target.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "d1", records[0].ID)
	assert.Equal(t, "d2", records[1].ID)
}

func TestImportMergeImportedWins(t *testing.T) {
	source, _ := newTestStore(t)
	imported := sampleDeployment("d1")
	imported.URL = "https://imported.example.com"
	require.NoError(t, source.Save(imported))
	require.NoError(t, source.Save(sampleDeployment("d2")))

	exportPath := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, source.ExportToFile(exportPath))

	target, _ := newTestStore(t)
	current := sampleDeployment("d1")
	current.URL = "https://current.example.com"
	require.NoError(t, target.Save(current))
	require.NoError(t, target.Save(sampleDeployment("d3")))

	require.NoError(t, target.ImportFromFile(exportPath, true))

	records, err := target.List()
	require.NoError(t, err)
	require.Len(t, records, 3)

	got, err := target.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, "https://imported.example.com", got.URL)
}

func TestImportSkipsInvalidRecords(t *testing.T) {
	importPath := filepath.Join(t.TempDir(), "import.json")
	payload := `{
  "version": "1.0",
  "deployments": {
    "good": {"id": "good", "platform": "railway", "url": "https://g", "agent_source": "/a", "created_at": "2026-08-24T10:00:00Z", "status": "running"},
    "bad": {"id": "bad"}
  }
}`
	require.NoError(t, os.WriteFile(importPath, []byte(payload), 0o644))

	store, _ := newTestStore(t)
	require.NoError(t, store.ImportFromFile(importPath, false))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].ID)
}
