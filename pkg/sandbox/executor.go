// Package sandbox is the execution facade: it wires the preprocessor,
// kernel manager, runner, and artifact sweep into one Execute call and
// exposes session management around it.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"

	"github.com/harun/crucible/internal/observability"
	"github.com/harun/crucible/pkg/capability"
	"github.com/harun/crucible/pkg/chart"
	"github.com/harun/crucible/pkg/kernel"
	"github.com/harun/crucible/pkg/pathguard"
	"github.com/harun/crucible/pkg/preprocess"
	"github.com/harun/crucible/pkg/runner"
	"github.com/harun/crucible/pkg/storage"
	"github.com/harun/crucible/pkg/sweep"
)

// ExecuteRequest is one script submission.
type ExecuteRequest struct {
	// SessionID selects (or creates) the persistent namespace
	SessionID string `json:"session_id"`

	// Code is the raw script text
	Code string `json:"code"`

	// Timeout overrides the default deadline; zero keeps the default
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ArtifactRef describes one produced file in an execution result.
type ArtifactRef struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Handle   string `json:"handle,omitempty"`
	Inlined  bool   `json:"inlined"`
}

// ChartRef describes one rendered figure in an execution result.
type ChartRef struct {
	// FigureIndex orders figures by creation within the execution
	FigureIndex int    `json:"figure_index"`
	Size        int    `json:"size"`
	Handle      string `json:"handle,omitempty"`
}

// ExecuteResult is everything one execution produced.
type ExecuteResult struct {
	SessionID      string              `json:"session_id"`
	Success        bool                `json:"success"`
	Stdout         string              `json:"stdout"`
	Stderr         string              `json:"stderr,omitempty"`
	Error          *runner.ErrorDetail `json:"error,omitempty"`
	BlockedImports []string            `json:"blocked_imports,omitempty"`
	Artifacts      []ArtifactRef       `json:"artifacts,omitempty"`
	Charts         []ChartRef          `json:"charts,omitempty"`
	Variables      map[string]string   `json:"variables,omitempty"`
	Duration       time.Duration       `json:"duration"`
}

// Executor runs scripts against persistent session kernels.
type Executor struct {
	cfg      Config
	registry *capability.Registry
	guard    *pathguard.Guard
	kernels  *kernel.Manager
	sweeper  *sweep.Sweeper
	store    *storage.Store
	base     starlark.StringDict
	sem      chan struct{}
}

// New builds an executor. store may be nil; artifacts are then returned
// inline only, without durable handles.
func New(cfg Config, store *storage.Store) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	observability.EnsureRegistered()

	registry := capability.NewRegistry()
	if err := capability.RegisterDefaults(registry); err != nil {
		return nil, fmt.Errorf("sandbox: register capabilities: %w", err)
	}
	if err := registry.Register("chart", false, chart.NewModule, "matplotlib", "plt", "plotly", "seaborn"); err != nil {
		return nil, fmt.Errorf("sandbox: register chart capability: %w", err)
	}
	registry.OnLoad(observability.RecordCapabilityLoad)
	if err := registry.LoadEager(); err != nil {
		return nil, fmt.Errorf("sandbox: load eager capabilities: %w", err)
	}

	base := capability.BaseNamespace(registry)
	e := &Executor{
		cfg:      cfg,
		registry: registry,
		guard:    pathguard.New(cfg.SharedReadOnlyDirs...),
		sweeper:  sweep.New(cfg.MaxInlineArtifactBytes, cfg.StorableExtensions),
		store:    store,
		base:     base,
		sem:      make(chan struct{}, cfg.MaxConcurrentKernels),
	}

	kernels, err := kernel.NewManager(kernel.Config{
		BaseDir:     cfg.BaseDir,
		MaxSessions: cfg.MaxSessions,
		IdleTimeout: cfg.IdleTimeout,
		NewNamespace: func() starlark.StringDict {
			ns := make(starlark.StringDict, len(base))
			for k, v := range base {
				ns[k] = v
			}
			return ns
		},
	})
	if err != nil {
		return nil, err
	}
	kernels.OnEvict(func(id, reason string) {
		observability.RecordSessionEvicted(reason)
		observability.RecordSessionAudit(context.Background(), id, "session_evicted", map[string]interface{}{
			"reason": reason,
		})
	})
	e.kernels = kernels

	log.Info().
		Int("max_sessions", cfg.MaxSessions).
		Int("max_concurrent", cfg.MaxConcurrentKernels).
		Dur("default_timeout", cfg.DefaultTimeout).
		Msg("Sandbox executor ready")
	return e, nil
}

// Execute runs one script in its session, sweeping artifacts and charts
// afterwards. Concurrent calls against different sessions run in
// parallel up to the kernel bound; calls against the same session
// serialize.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrEmptyScript
	}
	if e.cfg.MaxScriptBytes > 0 && len(req.Code) > e.cfg.MaxScriptBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrScriptTooLarge, len(req.Code))
	}
	timeout, err := e.effectiveTimeout(req.Timeout)
	if err != nil {
		return nil, err
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	session, release, err := e.kernels.Acquire(req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	defer observability.SetActiveSessions(e.kernels.Count())

	pre := preprocess.Preprocess(req.Code, e.registry)
	before, err := e.sweeper.Snapshot(session.Dir)
	if err != nil {
		return nil, err
	}

	runResult := runner.Run(ctx, runner.Request{
		SessionID: session.ID,
		Script:    pre.Rewritten,
		FileName:  fmt.Sprintf("%s.star", session.ID),
		Globals:   session.Globals,
		Env: &capability.Env{
			SessionID:  session.ID,
			SessionDir: session.Dir,
			Guard:      e.guard,
		},
		Charts: session.Charts,
		Limits: runner.Limits{
			Timeout:       timeout,
			MemoryCeiling: uint64(e.cfg.MemoryCeilingMB) << 20,
			MaxSteps:      e.cfg.MaxSteps,
		},
	})
	session.NoteExecution()

	files, charts, err := e.sweeper.Collect(session.Dir, before, session.Charts)
	if err != nil {
		log.Warn().Err(err).Str("session", session.ID).Msg("Artifact sweep failed")
	}

	result := &ExecuteResult{
		SessionID:      session.ID,
		Success:        runResult.Success,
		Stdout:         runResult.Stdout,
		Stderr:         runResult.Stderr,
		Error:          runResult.Error,
		BlockedImports: pre.Blocked,
		Duration:       runResult.Duration,
		Variables:      e.summarizeVariables(session.Globals),
		Artifacts:      e.storeArtifacts(ctx, session.ID, files),
		Charts:         e.storeCharts(ctx, session.ID, charts),
	}

	status := "success"
	if runResult.Error != nil {
		status = string(runResult.Error.Kind)
	}
	observability.RecordExecution(status, runResult.Duration)
	observability.RecordExecutionAudit(ctx, session.ID, status, map[string]interface{}{
		"duration_ms":     runResult.Duration.Milliseconds(),
		"artifacts":       len(result.Artifacts),
		"charts":          len(result.Charts),
		"blocked_imports": pre.Blocked,
	})
	return result, nil
}

func (e *Executor) effectiveTimeout(requested time.Duration) (time.Duration, error) {
	if requested < 0 || requested > e.cfg.MaxTimeout {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTimeout, requested)
	}
	if requested == 0 {
		return e.cfg.DefaultTimeout, nil
	}
	return requested, nil
}

// storeArtifacts persists inlined artifacts and attaches handles.
func (e *Executor) storeArtifacts(ctx context.Context, sessionID string, files []sweep.Artifact) []ArtifactRef {
	refs := make([]ArtifactRef, 0, len(files))
	for _, f := range files {
		ref := ArtifactRef{Filename: f.Filename, Size: f.Size, Inlined: f.Inlined}
		if e.store != nil && f.Inlined {
			handle, err := e.store.Put(ctx, sessionID, f.Filename, f.Content)
			if err != nil {
				log.Warn().Err(err).Str("file", f.Filename).Msg("Artifact store failed")
			} else {
				ref.Handle = handle
				observability.RecordArtifactStored(len(f.Content))
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

// storeCharts persists rendered figures under synthetic png names.
func (e *Executor) storeCharts(ctx context.Context, sessionID string, charts []chart.Capture) []ChartRef {
	refs := make([]ChartRef, 0, len(charts))
	for _, c := range charts {
		ref := ChartRef{FigureIndex: c.FigureIndex, Size: len(c.PNG)}
		if e.store != nil {
			name := fmt.Sprintf("chart_%d.png", c.FigureIndex)
			handle, err := e.store.Put(ctx, sessionID, name, c.PNG)
			if err != nil {
				log.Warn().Err(err).Int("figure", c.FigureIndex).Msg("Chart store failed")
			} else {
				ref.Handle = handle
			}
		}
		observability.RecordChartRendered()
		refs = append(refs, ref)
	}
	return refs
}

// summarizeVariables renders the session's user-defined bindings as
// short type-and-value descriptions. Predeclared names and loaded
// modules are left out.
func (e *Executor) summarizeVariables(globals starlark.StringDict) map[string]string {
	const maxRepr = 200

	vars := make(map[string]string)
	for name, value := range globals {
		if base, ok := e.base[name]; ok && base == value {
			continue
		}
		switch value.(type) {
		case *starlark.Builtin, *starlark.Function:
			vars[name] = value.Type()
			continue
		}
		if value.Type() == "module" {
			continue
		}
		repr := value.String()
		if len(repr) > maxRepr {
			repr = repr[:maxRepr] + "..."
		}
		vars[name] = fmt.Sprintf("%s: %s", value.Type(), repr)
	}
	return vars
}

// CreateSession allocates (or touches) a session and returns its info.
func (e *Executor) CreateSession(id string) (kernel.Info, error) {
	_, release, err := e.kernels.Acquire(id)
	if err != nil {
		return kernel.Info{}, err
	}
	release()
	observability.SetActiveSessions(e.kernels.Count())

	info, _ := e.kernels.Get(id)
	return info, nil
}

// ResetSession discards a session's namespace, keeping its files.
func (e *Executor) ResetSession(id string) error {
	return e.kernels.Reset(id)
}

// RemoveSession evicts a session and deletes its directory and artifacts.
func (e *Executor) RemoveSession(ctx context.Context, id string) error {
	if err := e.kernels.Remove(id); err != nil {
		return err
	}
	observability.SetActiveSessions(e.kernels.Count())
	if e.store != nil {
		return e.store.DeleteSession(ctx, id)
	}
	return nil
}

// ListSessions returns live session snapshots.
func (e *Executor) ListSessions() []kernel.Info {
	return e.kernels.List()
}

// GetSession returns one session snapshot.
func (e *Executor) GetSession(id string) (kernel.Info, bool) {
	return e.kernels.Get(id)
}

// SweepIdleSessions evicts expired idle sessions and reports their ids.
func (e *Executor) SweepIdleSessions() []string {
	evicted := e.kernels.SweepIdle()
	observability.SetActiveSessions(e.kernels.Count())
	return evicted
}

// ListFiles returns the session-relative names of a session's files.
func (e *Executor) ListFiles(id string) ([]string, error) {
	info, ok := e.kernels.Get(id)
	if !ok {
		return nil, kernel.ErrSessionNotFound
	}

	dir := filepath.Join(e.cfg.BaseDir, info.ID)
	var names []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		names = append(names, rel)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("sandbox: list files: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// ReadFile returns one file from a session directory, confined by the
// same guard scripts run under.
func (e *Executor) ReadFile(id, name string) ([]byte, error) {
	info, ok := e.kernels.Get(id)
	if !ok {
		return nil, kernel.ErrSessionNotFound
	}

	resolved, err := e.guard.Resolve(name, filepath.Join(e.cfg.BaseDir, info.ID), pathguard.ModeRead)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("sandbox: read file: %w", err)
	}
	return data, nil
}

// Close shuts the executor down, evicting every session.
func (e *Executor) Close() {
	e.kernels.Close()
}
