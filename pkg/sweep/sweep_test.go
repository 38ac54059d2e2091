package sweep

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/harun/crucible/pkg/capability"
	"github.com/harun/crucible/pkg/chart"
	"github.com/harun/crucible/pkg/pathguard"
)

func setupTestSweeper(t *testing.T) (*Sweeper, string) {
	t.Helper()
	return New(1<<20, DefaultStorableExtensions), t.TempDir()
}

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSweeper_DetectsNewFiles(t *testing.T) {
	s, dir := setupTestSweeper(t)

	writeTestFile(t, dir, "existing.txt", "already here")
	before, err := s.Snapshot(dir)
	require.NoError(t, err)

	writeTestFile(t, dir, "fresh.csv", "a,b\n1,2\n")
	writeTestFile(t, dir, "sub/nested.json", `{"k":1}`)

	files, charts, err := s.Collect(dir, before, nil)
	require.NoError(t, err)
	assert.Empty(t, charts)

	require.Len(t, files, 2)
	assert.Equal(t, "fresh.csv", files[0].Filename)
	assert.True(t, files[0].Inlined)
	assert.Equal(t, []byte("a,b\n1,2\n"), files[0].Content)
	assert.Equal(t, filepath.Join("sub", "nested.json"), files[1].Filename)
}

func TestSweeper_DetectsModifiedFiles(t *testing.T) {
	s, dir := setupTestSweeper(t)

	writeTestFile(t, dir, "data.txt", "v1")
	before, err := s.Snapshot(dir)
	require.NoError(t, err)

	// Different size guarantees detection regardless of mtime granularity.
	writeTestFile(t, dir, "data.txt", "version two")

	files, _, err := s.Collect(dir, before, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "data.txt", files[0].Filename)
}

func TestSweeper_UntouchedFilesSkipped(t *testing.T) {
	s, dir := setupTestSweeper(t)

	writeTestFile(t, dir, "stable.txt", "unchanged")
	before, err := s.Snapshot(dir)
	require.NoError(t, err)

	files, _, err := s.Collect(dir, before, nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSweeper_LargeFileReportedNotInlined(t *testing.T) {
	s := New(8, DefaultStorableExtensions)
	dir := t.TempDir()

	before, err := s.Snapshot(dir)
	require.NoError(t, err)

	writeTestFile(t, dir, "big.txt", "this is more than eight bytes")

	files, _, err := s.Collect(dir, before, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.False(t, files[0].Inlined)
	assert.Nil(t, files[0].Content)
	assert.Equal(t, int64(29), files[0].Size)
}

func TestSweeper_NonStorableExtensionIgnored(t *testing.T) {
	s, dir := setupTestSweeper(t)

	before, err := s.Snapshot(dir)
	require.NoError(t, err)

	writeTestFile(t, dir, "binary.exe", "MZ")
	writeTestFile(t, dir, "noext", "data")

	files, _, err := s.Collect(dir, before, nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSweeper_MissingDirectoryIsEmpty(t *testing.T) {
	s, _ := setupTestSweeper(t)

	snap, err := s.Snapshot(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestSweeper_DrainsChartSurface(t *testing.T) {
	s, dir := setupTestSweeper(t)

	before, err := s.Snapshot(dir)
	require.NoError(t, err)

	surface := chart.NewSurface()
	thread := &starlark.Thread{Name: "test"}
	capability.WithEnv(thread, &capability.Env{
		SessionID:  "test",
		SessionDir: dir,
		Guard:      pathguard.New(),
	})
	chart.WithSurface(thread, surface)

	module, err := chart.NewModule()
	require.NoError(t, err)
	_, err = starlark.ExecFile(thread, "test.star", `chart.line([1, 2], [3, 4])`, starlark.StringDict{"chart": module})
	require.NoError(t, err)

	files, charts, err := s.Collect(dir, before, surface)
	require.NoError(t, err)
	assert.Empty(t, files)
	require.Len(t, charts, 1)
	assert.NotEmpty(t, charts[0].PNG)

	// The surface was closed out by the sweep.
	assert.Equal(t, 0, surface.OpenCount())
}

func TestSweeper_SavedChartAppearsInBothPaths(t *testing.T) {
	s, dir := setupTestSweeper(t)

	before, err := s.Snapshot(dir)
	require.NoError(t, err)

	surface := chart.NewSurface()
	thread := &starlark.Thread{Name: "test"}
	capability.WithEnv(thread, &capability.Env{
		SessionID:  "test",
		SessionDir: dir,
		Guard:      pathguard.New(),
	})
	chart.WithSurface(thread, surface)

	module, err := chart.NewModule()
	require.NoError(t, err)
	script := `
chart.bar(["a"], [1])
chart.savefig("fig.png")
`
	_, err = starlark.ExecFile(thread, "test.star", script, starlark.StringDict{"chart": module})
	require.NoError(t, err)

	files, charts, err := s.Collect(dir, before, surface)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "fig.png", files[0].Filename)
	require.Len(t, charts, 1)
	assert.Equal(t, files[0].Content, charts[0].PNG)
}

func TestSweeper_SnapshotIsPointInTime(t *testing.T) {
	s, dir := setupTestSweeper(t)

	writeTestFile(t, dir, "a.txt", "a")
	snap1, err := s.Snapshot(dir)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	writeTestFile(t, dir, "b.txt", "b")

	snap2, err := s.Snapshot(dir)
	require.NoError(t, err)

	assert.Len(t, snap1, 1)
	assert.Len(t, snap2, 2)
}
