package kernel

import "errors"

var (
	// ErrCapacityExceeded is returned when the session ceiling is hit and no idle session can be evicted.
	ErrCapacityExceeded = errors.New("session capacity exceeded and no idle session to evict")

	// ErrSessionNotFound is returned when an operation targets an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionID is returned for ids that cannot name a session directory.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrSessionBusy is returned when an operation needs exclusive access to a session that is executing.
	ErrSessionBusy = errors.New("session is executing")

	// ErrManagerClosed is returned after the manager has shut down.
	ErrManagerClosed = errors.New("kernel manager closed")
)
