package mounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/archive"
)

func newArchiveProvisioner(t *testing.T) *ArchiveProvisioner {
	t.Helper()
	store, err := archive.Open(filepath.Join(t.TempDir(), "archives.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p, err := NewArchive(t.TempDir(), store)
	require.NoError(t, err)
	return p
}

func TestLocalPrepare(t *testing.T) {
	p, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	dir, storagePath, err := p.Prepare("sess-1")
	require.NoError(t, err)
	assert.Equal(t, p.Path("sess-1"), dir)
	assert.Empty(t, storagePath, "local workspaces have no storage prefix")

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalReleaseRemoves(t *testing.T) {
	p, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	dir, _, err := p.Prepare("sess-2")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))

	require.NoError(t, p.Release("sess-2", dir, false))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, p.Release("sess-2", dir, false), "releasing twice succeeds")
}

func TestLocalReleaseKeepLeavesDir(t *testing.T) {
	p, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	dir, _, err := p.Prepare("sess-3")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))

	require.NoError(t, p.Release("sess-3", dir, true))

	again, _, err := p.Prepare("sess-3")
	require.NoError(t, err)
	require.Equal(t, dir, again)
	_, err = os.Stat(filepath.Join(again, "a.txt"))
	assert.NoError(t, err, "kept workspace survives to the next attach")
}

func TestArchivePrepareFreshSession(t *testing.T) {
	p := newArchiveProvisioner(t)

	dir, storagePath, err := p.Prepare("sess-4")
	require.NoError(t, err)
	assert.Equal(t, "sess-4/workspace", storagePath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArchiveReleaseKeepThenReattach(t *testing.T) {
	p := newArchiveProvisioner(t)

	dir, _, err := p.Prepare("sess-5")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte(`{"n":1}`), 0644))

	require.NoError(t, p.Release("sess-5", dir, true))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "archived workspace leaves no directory behind")

	restored, storagePath, err := p.Prepare("sess-5")
	require.NoError(t, err)
	assert.Equal(t, "sess-5/workspace", storagePath)

	got, err := os.ReadFile(filepath.Join(restored, "state.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(got))
}

func TestArchiveReleaseDestroyDropsSnapshot(t *testing.T) {
	p := newArchiveProvisioner(t)

	dir, _, err := p.Prepare("sess-6")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, p.Release("sess-6", dir, true))

	// Re-attach, then destroy for good.
	dir, _, err = p.Prepare("sess-6")
	require.NoError(t, err)
	require.NoError(t, p.Release("sess-6", dir, false))

	err = p.Restore("sess-6", t.TempDir())
	require.Error(t, err)
}

func TestReadonlyCopies(t *testing.T) {
	src := map[string]string{"/opt/tools": "/tools"}
	got := Readonly(src)
	require.Equal(t, src, got)

	got["/etc/extra"] = "/extra"
	assert.NotContains(t, src, "/etc/extra")

	assert.Nil(t, Readonly(nil))
	assert.Nil(t, Readonly(map[string]string{}))
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0644))

	require.NoError(t, Reset(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, Reset(filepath.Join(dir, "never-existed")))
}
