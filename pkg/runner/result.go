package runner

import "time"

// Kind classifies why an execution failed.
type Kind string

const (
	// KindTimeout means the script exceeded its wall-clock deadline.
	KindTimeout Kind = "timeout"

	// KindResourceExceeded means the script hit the memory ceiling or the step budget.
	KindResourceExceeded Kind = "resource_exceeded"

	// KindScriptError means the script itself failed: syntax error or runtime fault.
	KindScriptError Kind = "script_error"

	// KindPathRejected means the script touched a path outside its confinement.
	KindPathRejected Kind = "path_rejected"

	// KindBlockedCapability means the script demanded a capability outside the allowlist.
	KindBlockedCapability Kind = "blocked_capability"

	// KindCanceled means the caller abandoned the execution.
	KindCanceled Kind = "canceled"
)

// ErrorDetail is the structured failure description returned to callers.
type ErrorDetail struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Backtrace string `json:"backtrace,omitempty"`
}

// Result is the outcome of one execution. Stdout holds whatever the
// script printed before finishing or being aborted.
type Result struct {
	Success  bool          `json:"success"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Error    *ErrorDetail  `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Steps    uint64        `json:"steps"`
}
