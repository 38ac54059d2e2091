package uploads

import "errors"

var (
	// ErrInvalidName is returned for upload names that cannot be stored safely.
	ErrInvalidName = errors.New("invalid upload name")

	// ErrTooLarge is returned when an upload exceeds the size ceiling.
	ErrTooLarge = errors.New("upload too large")

	// ErrNotFound is returned when a named upload does not exist.
	ErrNotFound = errors.New("upload not found")
)
