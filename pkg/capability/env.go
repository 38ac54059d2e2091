package capability

import (
	"context"

	"go.starlark.net/starlark"

	"github.com/harun/crucible/pkg/pathguard"
)

const (
	envLocalKey = "crucible.env"
	ctxLocalKey = "crucible.ctx"
)

// Env is the per-execution environment threaded through the interpreter.
// Capability builtins use it to confine file access to the running session.
type Env struct {
	// SessionID is the id of the session executing the script
	SessionID string

	// SessionDir is the session's exclusively-owned directory
	SessionDir string

	// Guard confines every path the script supplies
	Guard *pathguard.Guard
}

// WithEnv attaches env to a Starlark thread
func WithEnv(thread *starlark.Thread, env *Env) {
	thread.SetLocal(envLocalKey, env)
}

// EnvFromThread returns the environment attached to a thread
func EnvFromThread(thread *starlark.Thread) (*Env, error) {
	env, ok := thread.Local(envLocalKey).(*Env)
	if !ok || env == nil {
		return nil, ErrNoEnvironment
	}
	return env, nil
}

// WithContext attaches the run's context to a thread so blocking
// capabilities observe the script's deadline.
func WithContext(thread *starlark.Thread, ctx context.Context) {
	thread.SetLocal(ctxLocalKey, ctx)
}

// ContextFromThread returns the context attached to a thread, or
// context.Background when none was attached.
func ContextFromThread(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(ctxLocalKey).(context.Context); ok && ctx != nil {
		return ctx
	}
	return context.Background()
}

// ResolvePath confines a script-supplied path using the thread's environment
func ResolvePath(thread *starlark.Thread, raw string, mode pathguard.Mode) (string, error) {
	env, err := EnvFromThread(thread)
	if err != nil {
		return "", err
	}
	return env.Guard.Resolve(raw, env.SessionDir, mode)
}
