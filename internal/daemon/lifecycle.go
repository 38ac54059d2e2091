package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
)

// LifecycleManager owns the PID file that marks a running service
// instance. The stop and status subcommands read the same file.
type LifecycleManager struct {
	pidFile string
}

// NewLifecycleManager builds a lifecycle manager rooted in dataDir.
func NewLifecycleManager(dataDir string) *LifecycleManager {
	return &LifecycleManager{pidFile: filepath.Join(dataDir, "crucible.pid")}
}

// Start records the current process in the PID file.
func (l *LifecycleManager) Start() error {
	if err := os.MkdirAll(filepath.Dir(l.pidFile), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	log.Info().Str("pid_file", l.pidFile).Int("pid", os.Getpid()).Msg("PID file written")
	return nil
}

// Stop removes the PID file. A missing file is not an error.
func (l *LifecycleManager) Stop() error {
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	return nil
}

// GetPID reads the recorded process id.
func (l *LifecycleManager) GetPID() (int, error) {
	data, err := os.ReadFile(l.pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %w", l.pidFile, err)
	}
	return pid, nil
}

// IsRunning reports whether the recorded process is alive. On Unix,
// FindProcess always succeeds, so the liveness probe is signal 0.
func (l *LifecycleManager) IsRunning() bool {
	pid, err := l.GetPID()
	if err != nil {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
