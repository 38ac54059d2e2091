package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextRun calculates the next run time for a schedule
func NextRun(schedule Schedule, now time.Time) (time.Time, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		return nextAt(schedule)
	case ScheduleKindEvery:
		return nextEvery(schedule, now)
	case ScheduleKindCron:
		return nextCron(schedule, now)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", schedule.Kind)
	}
}

// nextAt calculates next run for "at" schedule
func nextAt(schedule Schedule) (time.Time, error) {
	if schedule.At == "" {
		return time.Time{}, fmt.Errorf("'at' schedule requires 'at' field")
	}

	t, err := time.Parse(time.RFC3339, schedule.At)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	return t, nil
}

// nextEvery calculates next run for "every" schedule
func nextEvery(schedule Schedule, now time.Time) (time.Time, error) {
	if schedule.Every <= 0 {
		return time.Time{}, fmt.Errorf("'every' schedule requires positive interval")
	}

	// Without anchor: next run is now + interval
	if schedule.Anchor == nil {
		return now.Add(schedule.Every), nil
	}

	// With anchor: calculate next aligned time
	anchor := *schedule.Anchor
	elapsed := now.Sub(anchor)

	// If anchor is in the future, use it
	if elapsed < 0 {
		return anchor, nil
	}

	periods := elapsed / schedule.Every
	return anchor.Add((periods + 1) * schedule.Every), nil
}

// nextCron calculates next run for "cron" schedule
func nextCron(schedule Schedule, now time.Time) (time.Time, error) {
	if schedule.Expr == "" {
		return time.Time{}, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}

	return sched.Next(now), nil
}
