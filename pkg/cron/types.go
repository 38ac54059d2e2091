// Package cron schedules recurring maintenance tasks: idle session
// sweeps, artifact expiry, finished-job cleanup.
package cron

import (
	"context"
	"time"
)

// ScheduleKind represents the type of schedule
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule represents a time specification for task execution
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "at" schedule
	At string `json:"at,omitempty"` // ISO 8601 timestamp

	// For "every" schedule
	Every  time.Duration `json:"every,omitempty"`
	Anchor *time.Time    `json:"anchor,omitempty"` // Optional alignment point

	// For "cron" schedule
	Expr string `json:"expr,omitempty"` // Cron expression (5-field format)
	TZ   string `json:"tz,omitempty"`   // Optional timezone
}

// Every builds an interval schedule.
func Every(interval time.Duration) Schedule {
	return Schedule{Kind: ScheduleKindEvery, Every: interval}
}

// Expr builds a cron-expression schedule.
func Expr(expr string) Schedule {
	return Schedule{Kind: ScheduleKindCron, Expr: expr}
}

// At builds a one-shot schedule.
func At(t time.Time) Schedule {
	return Schedule{Kind: ScheduleKindAt, At: t.Format(time.RFC3339)}
}

// TaskFunc is the work a task performs.
type TaskFunc func(ctx context.Context) error

// TaskState tracks runtime state of a task
type TaskState struct {
	NextRunAt         *time.Time    `json:"next_run_at,omitempty"`
	RunningAt         *time.Time    `json:"running_at,omitempty"`
	LastRunAt         *time.Time    `json:"last_run_at,omitempty"`
	LastStatus        string        `json:"last_status,omitempty"` // "ok" or "error"
	LastError         string        `json:"last_error,omitempty"`
	LastDuration      time.Duration `json:"last_duration,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors,omitempty"`
}

// TaskInfo is a task snapshot for introspection.
type TaskInfo struct {
	Name     string    `json:"name"`
	Schedule Schedule  `json:"schedule"`
	State    TaskState `json:"state"`
}
