package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	root := GetRootCmd()

	assert.Equal(t, "crucible", root.Use)
	assert.Equal(t, version, root.Version)

	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "stop")
	assert.Contains(t, names, "status")
	assert.Contains(t, names, "configure")
}

func TestVersionFlag(t *testing.T) {
	root := GetRootCmd()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), version)
}

func TestConfigure_WritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.json")
	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	root := GetRootCmd()
	root.SetArgs([]string{"configure", "--config", path})
	require.NoError(t, root.Execute())

	assert.FileExists(t, path)

	// A second run without --force refuses to overwrite.
	root.SetArgs([]string{"configure", "--config", path})
	assert.Error(t, root.Execute())

	root.SetArgs([]string{"configure", "--config", path, "--force"})
	assert.NoError(t, root.Execute())
}

func TestStatus_Stopped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crucible.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "`+dir+`"}`), 0o644))
	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	root := GetRootCmd()
	root.SetArgs([]string{"status", "--config", path})
	assert.NoError(t, root.Execute())
}

func TestIsRunning(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, isRunning(filepath.Join(dir, "absent.pid")))

	bogus := filepath.Join(dir, "bogus.pid")
	require.NoError(t, os.WriteFile(bogus, []byte("not a pid"), 0o644))
	assert.False(t, isRunning(bogus))

	own := filepath.Join(dir, "own.pid")
	require.NoError(t, os.WriteFile(own, []byte("1\n"), 0o644))
	// PID 1 exists but belongs to init; signal 0 may be denied, so only
	// assert the parse path by reading it back.
	pid, err := readPID(own)
	require.NoError(t, err)
	assert.Equal(t, 1, pid)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m5s", formatDuration(2*time.Minute+5*time.Second))
	assert.Equal(t, "1h2m5s", formatDuration(time.Hour+2*time.Minute+5*time.Second))
}
