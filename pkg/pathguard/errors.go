package pathguard

import "errors"

var (
	// ErrEmptyPath is returned when the supplied path is empty
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrPathTraversal is returned when a path escapes its root via parent references
	ErrPathTraversal = errors.New("path escapes sandbox via parent traversal")

	// ErrPathOutsideSandbox is returned when a path resolves outside every permitted root
	ErrPathOutsideSandbox = errors.New("path resolves outside the sandbox")

	// ErrReadOnlyRoot is returned when a write targets a read-only root
	ErrReadOnlyRoot = errors.New("path is in a read-only directory")

	// ErrNullByte is returned when a path contains a null byte
	ErrNullByte = errors.New("path cannot contain null bytes")
)
