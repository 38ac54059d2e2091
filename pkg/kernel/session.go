package kernel

import (
	"sync"
	"time"

	"go.starlark.net/starlark"

	"github.com/harun/crucible/pkg/chart"
)

// Session is one persistent interpreter namespace plus its working
// directory and chart surface. The mutex serializes executions; the
// namespace is mutated in place so state survives across calls.
type Session struct {
	// ID is the caller-chosen session identifier
	ID string

	// Dir is the session's exclusively-owned working directory
	Dir string

	// Globals is the persistent namespace, mutated in place by each run
	Globals starlark.StringDict

	// Charts is the session's figure surface
	Charts *chart.Surface

	// CreatedAt is when the namespace was allocated
	CreatedAt time.Time

	mu sync.Mutex

	// guarded by mu
	lastActivity time.Time
	execCount    int
	evicted      bool
}

// NoteExecution records a completed run. Callers hold the session lock.
func (s *Session) NoteExecution() {
	s.execCount++
	s.lastActivity = time.Now()
}

// Info is a point-in-time snapshot of a session's metadata.
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExecCount    int       `json:"exec_count"`
	Busy         bool      `json:"busy"`
}

// snapshot reads metadata without blocking behind a running execution.
func (s *Session) snapshot() Info {
	busy := !s.mu.TryLock()
	info := Info{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Busy:      busy,
	}
	if !busy {
		info.LastActivity = s.lastActivity
		info.ExecCount = s.execCount
		s.mu.Unlock()
	}
	return info
}
