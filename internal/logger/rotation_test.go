package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_CreatesFileAndDirectory(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "crucible.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	assert.FileExists(t, logFile)
}

func TestRotatingWriter_WriteAppends(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "crucible.log")

	rw, err := NewRotatingWriter(logFile, 10, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	for _, line := range []string{"first\n", "second\n"} {
		n, err := rw.Write([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestRotatingWriter_RotatesAtCeiling(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "crucible.log")

	rw, err := NewRotatingWriter(logFile, 1, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	require.NoError(t, os.WriteFile(logFile, []byte(strings.Repeat("x", 64)), 0o644))
	rw.currentSize = rw.maxSize

	_, err = rw.Write([]byte("fresh\n"))
	require.NoError(t, err)

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	require.Len(t, rotated, 1)

	old, err := os.ReadFile(rotated[0])
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 64), string(old))

	current, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "fresh\n", string(current))
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "crucible.log")

	rw, err := NewRotatingWriter(logFile, 10, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := rw.Write([]byte("line\n"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, 8*50, strings.Count(string(data), "line\n"))
}

func TestRotatingWriter_CompressFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "crucible.log.20250101-000000")
	require.NoError(t, os.WriteFile(target, []byte("rotated content"), 0o644))

	rw := &RotatingWriter{compress: true}
	require.NoError(t, rw.compressFile(target))

	assert.FileExists(t, target+".gz")
	assert.NoFileExists(t, target)
}

func TestRotatingWriter_PruneOld(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "crucible.log")

	stale := logFile + ".20240101-000000"
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(stale, past, past))

	recent := logFile + ".recent"
	require.NoError(t, os.WriteFile(recent, []byte("recent"), 0o644))

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	rw.pruneOld()

	assert.NoFileExists(t, stale)
	assert.FileExists(t, recent)
}

func TestRotatingWriter_DoubleClose(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "crucible.log")

	rw, err := NewRotatingWriter(logFile, 10, 0, false)
	require.NoError(t, err)

	require.NoError(t, rw.Close())
	assert.NoError(t, rw.Close())
}
