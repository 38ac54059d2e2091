package sandbox

import "errors"

var (
	// ErrEmptyScript is returned when an execution request carries no code.
	ErrEmptyScript = errors.New("script is empty")

	// ErrScriptTooLarge is returned when the script exceeds the size ceiling.
	ErrScriptTooLarge = errors.New("script exceeds size limit")

	// ErrInvalidTimeout is returned when a requested timeout is negative or above the ceiling.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidMaxSessions is returned when the session ceiling is not positive.
	ErrInvalidMaxSessions = errors.New("max sessions must be positive")

	// ErrInvalidConcurrency is returned when the kernel concurrency bound is not positive.
	ErrInvalidConcurrency = errors.New("max concurrent kernels must be positive")

	// ErrInvalidMemoryCeiling is returned when the memory ceiling is negative.
	ErrInvalidMemoryCeiling = errors.New("invalid memory ceiling")

	// ErrFileNotFound is returned when a session file read misses.
	ErrFileNotFound = errors.New("file not found")
)
