// Package runner executes preprocessed scripts against a session's
// persistent namespace under a wall-clock deadline, a memory ceiling,
// and a step budget. Script content can fail the run but never the
// process.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/harun/crucible/pkg/capability"
	"github.com/harun/crucible/pkg/chart"
	"github.com/harun/crucible/pkg/pathguard"
)

// Cancellation reasons, matched back out of the interpreter's error.
const (
	reasonDeadline = "deadline exceeded"
	reasonMemory   = "memory ceiling exceeded"
	reasonCanceled = "canceled by caller"
	reasonSteps    = "too many steps"
)

const memorySampleInterval = 10 * time.Millisecond

// fileOptions enables the dialect scripts are written in: while loops,
// top-level control flow, reassignment, sets, recursion.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Limits bounds one execution.
type Limits struct {
	// Timeout is the wall-clock deadline
	Timeout time.Duration

	// MemoryCeiling is the heap growth allowance in bytes; 0 disables the monitor
	MemoryCeiling uint64

	// MaxSteps is the interpreter step budget; 0 means unbounded
	MaxSteps uint64
}

// Request is one execution against a session namespace.
type Request struct {
	// SessionID names the session, for thread naming and logs
	SessionID string

	// Script is the preprocessed source
	Script string

	// FileName labels the script in backtraces
	FileName string

	// Globals is the persistent namespace, mutated in place
	Globals starlark.StringDict

	// Env confines the script's file access
	Env *capability.Env

	// Charts receives the script's figures
	Charts *chart.Surface

	Limits Limits
}

// Run executes the request. The namespace object is never replaced;
// bindings the script creates or mutates persist for the next call.
func Run(ctx context.Context, req Request) (result Result) {
	start := time.Now()
	var stdout strings.Builder

	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			log.Error().Str("session", req.SessionID).Interface("panic", r).Msg("Execution panicked")
			result = Result{
				Stdout:   stdout.String(),
				Duration: time.Since(start),
				Error: &ErrorDetail{
					Kind:    KindScriptError,
					Message: fmt.Sprintf("internal execution fault: %v", r),
				},
			}
			result.Stderr = result.Error.Message
		}
	}()

	if req.FileName == "" {
		req.FileName = "script"
	}

	file, err := fileOptions.Parse(req.FileName, req.Script, 0)
	if err != nil {
		return Result{
			Error: &ErrorDetail{
				Kind:    KindScriptError,
				Message: err.Error(),
			},
			Stderr: err.Error(),
		}
	}

	thread := &starlark.Thread{
		Name: "session:" + req.SessionID,
		Print: func(_ *starlark.Thread, msg string) {
			stdout.WriteString(msg)
			stdout.WriteByte('\n')
		},
	}
	if req.Env != nil {
		capability.WithEnv(thread, req.Env)
	}
	if req.Charts != nil {
		chart.WithSurface(thread, req.Charts)
	}
	if req.Limits.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(req.Limits.MaxSteps)
	}

	stop := make(chan struct{})
	defer close(stop)

	// Blocking capabilities (fetch) watch this context, so their waits
	// end with the script's deadline instead of their own.
	runCtx := ctx
	if runCtx == nil {
		runCtx = context.Background()
	}
	if req.Limits.Timeout > 0 {
		var cancelRun context.CancelFunc
		runCtx, cancelRun = context.WithTimeout(runCtx, req.Limits.Timeout)
		defer cancelRun()
	}
	capability.WithContext(thread, runCtx)

	if req.Limits.Timeout > 0 {
		timer := time.AfterFunc(req.Limits.Timeout, func() {
			thread.Cancel(reasonDeadline)
		})
		defer timer.Stop()
	}
	if req.Limits.MemoryCeiling > 0 {
		go watchMemory(thread, req.Limits.MemoryCeiling, stop)
	}
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				thread.Cancel(reasonCanceled)
			case <-stop:
			}
		}()
	}

	execErr := starlark.ExecREPLChunk(file, thread, req.Globals)

	result = Result{
		Success: execErr == nil,
		Stdout:  stdout.String(),
		Steps:   thread.ExecutionSteps(),
	}
	if execErr != nil {
		detail := classify(execErr)
		result.Error = &detail
		result.Stderr = detail.Backtrace
		if result.Stderr == "" {
			result.Stderr = detail.Message
		}
	}
	return result
}

// watchMemory samples heap growth relative to the run's baseline and
// cancels the thread once the ceiling is crossed. Sampling is a
// process-wide approximation, not per-script accounting; the interval
// keeps the overshoot small.
func watchMemory(thread *starlark.Thread, ceiling uint64, stop <-chan struct{}) {
	var base runtime.MemStats
	runtime.ReadMemStats(&base)

	ticker := time.NewTicker(memorySampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			var now runtime.MemStats
			runtime.ReadMemStats(&now)
			if now.HeapAlloc > base.HeapAlloc && now.HeapAlloc-base.HeapAlloc > ceiling {
				thread.Cancel(reasonMemory)
				return
			}
		}
	}
}

// classify maps an interpreter error onto the failure taxonomy.
// Cancellation reasons are folded into the interpreter's error text, so
// aborts are told apart by the reason string planted at cancel time.
func classify(err error) ErrorDetail {
	msg := err.Error()

	switch {
	case strings.Contains(msg, reasonDeadline):
		return ErrorDetail{Kind: KindTimeout, Message: "execution deadline exceeded"}
	case strings.Contains(msg, reasonMemory):
		return ErrorDetail{Kind: KindResourceExceeded, Message: "memory ceiling exceeded"}
	case strings.Contains(msg, reasonSteps):
		return ErrorDetail{Kind: KindResourceExceeded, Message: "execution step budget exceeded"}
	case strings.Contains(msg, reasonCanceled):
		return ErrorDetail{Kind: KindCanceled, Message: "execution canceled"}
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		detail := ErrorDetail{
			Kind:      KindScriptError,
			Message:   evalErr.Msg,
			Backtrace: evalErr.Backtrace(),
		}
		cause := evalErr.Unwrap()
		switch {
		case isPathRejection(cause):
			detail.Kind = KindPathRejected
		case errors.Is(cause, capability.ErrBlockedCapability):
			detail.Kind = KindBlockedCapability
		}
		return detail
	}

	return ErrorDetail{Kind: KindScriptError, Message: msg}
}

func isPathRejection(err error) bool {
	return errors.Is(err, pathguard.ErrPathTraversal) ||
		errors.Is(err, pathguard.ErrPathOutsideSandbox) ||
		errors.Is(err, pathguard.ErrReadOnlyRoot) ||
		errors.Is(err, pathguard.ErrEmptyPath) ||
		errors.Is(err, pathguard.ErrNullByte)
}
