// Package kernel manages the persistent per-session namespaces: one
// Starlark globals dict plus working directory and chart surface per
// session id, with per-session execution serialization, a hard ceiling
// on live sessions, and idle eviction.
package kernel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"

	"github.com/harun/crucible/pkg/chart"
)

// Config holds the manager's limits and namespace factory.
type Config struct {
	// BaseDir is the directory session working directories live under
	BaseDir string

	// MaxSessions is the ceiling on simultaneously live sessions
	MaxSessions int

	// IdleTimeout is how long a session may sit idle before the sweep evicts it
	IdleTimeout time.Duration

	// NewNamespace builds the predeclared globals for a fresh session
	NewNamespace func() starlark.StringDict
}

// Manager owns the session table.
type Manager struct {
	cfg      Config
	mu       sync.Mutex
	sessions map[string]*Session
	onEvict  func(id, reason string)
	closed   bool
}

// NewManager creates the session table and its base directory.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("kernel: max sessions must be positive, got %d", cfg.MaxSessions)
	}
	if cfg.NewNamespace == nil {
		return nil, fmt.Errorf("kernel: namespace factory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o700); err != nil {
		return nil, fmt.Errorf("kernel: create base dir: %w", err)
	}

	log.Info().
		Str("dir", cfg.BaseDir).
		Int("max_sessions", cfg.MaxSessions).
		Dur("idle_timeout", cfg.IdleTimeout).
		Msg("Kernel manager initialized")

	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}, nil
}

// OnEvict registers a hook called after each eviction.
func (m *Manager) OnEvict(fn func(id, reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if len(id) > 128 {
		return fmt.Errorf("%w: too long", ErrInvalidSessionID)
	}
	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// Acquire returns the session for id with its execution lock held,
// creating the session first if needed. The returned release function
// must be called when the execution finishes. Creation opportunistically
// sweeps idle sessions and, at the ceiling, evicts the least-recently
// used idle session; if every session is mid-execution the call fails
// with ErrCapacityExceeded instead of interrupting one.
func (m *Manager) Acquire(id string) (*Session, func(), error) {
	if err := validateSessionID(id); err != nil {
		return nil, nil, err
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, nil, ErrManagerClosed
		}

		s, ok := m.sessions[id]
		if !ok {
			m.sweepIdleLocked()
			if len(m.sessions) >= m.cfg.MaxSessions {
				if !m.evictLRULocked() {
					m.mu.Unlock()
					return nil, nil, ErrCapacityExceeded
				}
			}
			var err error
			s, err = m.createLocked(id)
			if err != nil {
				m.mu.Unlock()
				return nil, nil, err
			}
		}
		m.mu.Unlock()

		s.mu.Lock()
		if s.evicted {
			// Lost the race with an eviction; the id maps to a fresh
			// namespace on the next pass.
			s.mu.Unlock()
			continue
		}
		release := func() {
			s.lastActivity = time.Now()
			s.mu.Unlock()
		}
		return s, release, nil
	}
}

// createLocked allocates a namespace and directory. Caller holds m.mu.
func (m *Manager) createLocked(id string) (*Session, error) {
	dir := filepath.Join(m.cfg.BaseDir, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("kernel: create session dir: %w", err)
	}

	now := time.Now()
	s := &Session{
		ID:           id,
		Dir:          dir,
		Globals:      m.cfg.NewNamespace(),
		Charts:       chart.NewSurface(),
		CreatedAt:    now,
		lastActivity: now,
	}
	m.sessions[id] = s

	log.Info().Str("session", id).Int("live", len(m.sessions)).Msg("Session created")
	return s, nil
}

// Get returns a metadata snapshot for one session.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	return s.snapshot(), true
}

// List returns snapshots of every live session, ordered by id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, len(sessions))
	for i, s := range sessions {
		infos[i] = s.snapshot()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Reset discards a session's namespace and chart state in place. Files
// in the session directory are kept. Fails if the session is executing.
func (m *Manager) Reset(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if !s.mu.TryLock() {
		return ErrSessionBusy
	}
	defer s.mu.Unlock()
	if s.evicted {
		return ErrSessionNotFound
	}

	s.Globals = m.cfg.NewNamespace()
	s.Charts.Drain()
	s.execCount = 0
	s.lastActivity = time.Now()

	log.Info().Str("session", id).Msg("Session reset")
	return nil
}

// Remove evicts a session and deletes its working directory.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if !s.mu.TryLock() {
		m.mu.Unlock()
		return ErrSessionBusy
	}
	m.evictLocked(s, "removed")
	s.mu.Unlock()
	m.mu.Unlock()

	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("kernel: remove session dir: %w", err)
	}
	return nil
}

// SweepIdle evicts every session idle longer than the configured
// timeout and reports the evicted ids.
func (m *Manager) SweepIdle() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepIdleLocked()
}

// sweepIdleLocked evicts expired idle sessions. Caller holds m.mu.
func (m *Manager) sweepIdleLocked() []string {
	if m.cfg.IdleTimeout <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-m.cfg.IdleTimeout)
	var evicted []string
	for _, s := range m.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if !s.evicted && s.lastActivity.Before(cutoff) {
			m.evictLocked(s, "idle")
			evicted = append(evicted, s.ID)
		}
		s.mu.Unlock()
	}
	return evicted
}

// evictLRULocked evicts the least-recently-used idle session. Caller
// holds m.mu. Returns false when every session is mid-execution.
func (m *Manager) evictLRULocked() bool {
	var victim *Session
	for _, s := range m.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if victim == nil || s.lastActivity.Before(victim.lastActivity) {
			if victim != nil {
				victim.mu.Unlock()
			}
			victim = s
			continue
		}
		s.mu.Unlock()
	}
	if victim == nil {
		return false
	}
	m.evictLocked(victim, "lru")
	victim.mu.Unlock()
	return true
}

// evictLocked marks a session terminal and drops it from the table.
// Caller holds m.mu and the session lock. A later request with the same
// id gets a fresh namespace; variables do not resurrect.
func (m *Manager) evictLocked(s *Session, reason string) {
	s.evicted = true
	s.Charts.Drain()
	delete(m.sessions, s.ID)

	log.Info().Str("session", s.ID).Str("reason", reason).Int("live", len(m.sessions)).Msg("Session evicted")
	if m.onEvict != nil {
		m.onEvict(s.ID, reason)
	}
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close evicts every session and refuses further acquisitions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, s := range m.sessions {
		s.mu.Lock()
		m.evictLocked(s, "shutdown")
		s.mu.Unlock()
	}
}
