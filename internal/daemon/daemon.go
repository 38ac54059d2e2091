// Package daemon assembles the crucible service: sandbox executor, job
// queue, artifact store, uploads, HTTP API, and maintenance scheduler.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/crucible/internal/api"
	"github.com/harun/crucible/internal/config"
	"github.com/harun/crucible/internal/logger"
	"github.com/harun/crucible/internal/observability"
	"github.com/harun/crucible/pkg/cron"
	"github.com/harun/crucible/pkg/jobs"
	"github.com/harun/crucible/pkg/sandbox"
	"github.com/harun/crucible/pkg/storage"
	"github.com/harun/crucible/pkg/uploads"
)

// Daemon represents the crucible daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	store       *storage.Store
	uploads     *uploads.Store
	executor    *sandbox.Executor
	queue       *jobs.Queue
	apiServer   *api.Server
	maintenance *cron.Service
	lifecycle   *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	stopped   bool
	mu        sync.RWMutex
}

// Status describes the running daemon.
type Status struct {
	Running  bool            `json:"running"`
	PID      int             `json:"pid"`
	Uptime   time.Duration   `json:"uptime"`
	Sessions int             `json:"sessions"`
	Jobs     int             `json:"jobs"`
	Tasks    []cron.TaskInfo `json:"tasks"`
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if cfg.Logging.AuditLog != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditLog); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize audit log, continuing without it")
		}
	}

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := d.initialize(); err != nil {
		cancel()
		d.closePartial()
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}

	d.lifecycle = NewLifecycleManager(cfg.DataDir)
	return d, nil
}

// initialize builds the components in dependency order.
func (d *Daemon) initialize() error {
	store, err := storage.Open(d.config.Storage.Path, d.config.Storage.ArtifactTTL)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}
	d.store = store

	uploadStore, err := uploads.New(d.config.Uploads.Dir, d.config.Uploads.MaxBytes)
	if err != nil {
		return fmt.Errorf("upload store: %w", err)
	}
	d.uploads = uploadStore

	sandboxCfg := sandbox.Config{
		BaseDir:                d.config.Sandbox.BaseDir,
		SharedReadOnlyDirs:     append([]string{uploadStore.Dir()}, d.config.Sandbox.SharedReadOnlyDirs...),
		MaxSessions:            d.config.Sandbox.MaxSessions,
		IdleTimeout:            d.config.Sandbox.IdleTimeout,
		MaxConcurrentKernels:   d.config.Sandbox.MaxConcurrentKernels,
		DefaultTimeout:         d.config.Sandbox.DefaultTimeout,
		MaxTimeout:             d.config.Sandbox.MaxTimeout,
		MemoryCeilingMB:        d.config.Sandbox.MemoryCeilingMB,
		MaxSteps:               d.config.Sandbox.MaxSteps,
		MaxScriptBytes:         d.config.Sandbox.MaxScriptBytes,
		MaxInlineArtifactBytes: d.config.Sandbox.MaxInlineArtifactBytes,
		StorableExtensions:     d.config.Sandbox.StorableExtensions,
	}
	if sandboxCfg.BaseDir == "" {
		sandboxCfg.BaseDir = filepath.Join(d.config.DataDir, "sessions")
	}

	executor, err := sandbox.New(sandboxCfg, store)
	if err != nil {
		return fmt.Errorf("sandbox executor: %w", err)
	}
	d.executor = executor

	d.queue = jobs.New(executor, d.config.Jobs.Workers, d.config.Jobs.QueueSize, d.config.Jobs.Retention)

	apiServer, err := api.NewServer(api.Options{
		Host:         d.config.Server.Host,
		Port:         d.config.Server.Port,
		AuthToken:    d.config.Server.AuthToken,
		RateLimitRPS: d.config.Server.RateLimitRPS,
	}, executor, d.queue, store, uploadStore, d.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	d.apiServer = apiServer

	d.maintenance = cron.NewService()
	return d.registerMaintenanceTasks()
}

// registerMaintenanceTasks wires the recurring cleanup work.
func (d *Daemon) registerMaintenanceTasks() error {
	sweepInterval := d.config.Sandbox.IdleTimeout / 4
	if sweepInterval < 30*time.Second {
		sweepInterval = 30 * time.Second
	}
	if err := d.maintenance.Add("sessions.sweep_idle", cron.Every(sweepInterval), func(ctx context.Context) error {
		evicted := d.executor.SweepIdleSessions()
		if len(evicted) > 0 {
			d.logger.Info().Strs("sessions", evicted).Msg("Idle sessions evicted")
		}
		return nil
	}); err != nil {
		return err
	}

	if err := d.maintenance.Add("artifacts.expire", cron.Expr("*/10 * * * *"), func(ctx context.Context) error {
		removed, err := d.store.DeleteExpired(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			d.logger.Info().Int64("count", removed).Msg("Expired artifacts deleted")
		}
		return nil
	}); err != nil {
		return err
	}

	cleanupInterval := d.config.Jobs.Retention / 2
	if cleanupInterval < time.Minute {
		cleanupInterval = time.Minute
	}
	return d.maintenance.Add("jobs.cleanup_finished", cron.Every(cleanupInterval), func(ctx context.Context) error {
		d.queue.CleanupFinished()
		return nil
	})
}

// Start starts the daemon
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	if d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("daemon is stopped")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.lifecycle.Start(); err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.apiServer.Start(); err != nil {
			d.logger.Error().Err(err).Msg("API server error")
			d.cancel()
		}
	}()

	d.logger.Info().
		Str("host", d.config.Server.Host).
		Int("port", d.config.Server.Port).
		Msg("Crucible daemon started")
	return nil
}

// Run starts the daemon and blocks until a shutdown signal arrives.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-d.ctx.Done():
	}

	return d.Stop()
}

// Stop gracefully stops the daemon. It also tears down a daemon that
// was built but never started.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	wasRunning := d.running
	d.stopped = true
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping crucible daemon")

	// Shutdown in reverse dependency order
	d.maintenance.Stop()

	if err := d.apiServer.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop API server")
	}

	d.queue.Stop()
	d.executor.Close()
	d.closePartial()

	d.cancel()
	d.wg.Wait()

	if wasRunning {
		if err := d.lifecycle.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}
	if err := observability.GetAuditLogger().Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close audit log")
	}

	d.logger.Info().Msg("Crucible daemon stopped")
	return nil
}

// closePartial closes leaf resources; safe on a half-built daemon.
func (d *Daemon) closePartial() {
	if d.uploads != nil {
		if err := d.uploads.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close upload store")
		}
		d.uploads = nil
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close artifact store")
		}
		d.store = nil
	}
}

// Status returns a snapshot of the daemon state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
		PID:     os.Getpid(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
	}
	if d.executor != nil {
		status.Sessions = len(d.executor.ListSessions())
	}
	if d.queue != nil {
		status.Jobs = len(d.queue.List())
	}
	if d.maintenance != nil {
		status.Tasks = d.maintenance.List()
	}
	return status
}
