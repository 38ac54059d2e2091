package jobs

import "errors"

var (
	// ErrQueueFull is returned when the pending queue cannot take another job.
	ErrQueueFull = errors.New("job queue is full")

	// ErrJobNotFound is returned when a job id resolves to nothing.
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueClosed is returned when submitting to a stopped queue.
	ErrQueueClosed = errors.New("job queue is closed")
)
