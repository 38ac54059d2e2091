package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// task pairs a definition with its runtime state.
type task struct {
	name     string
	schedule Schedule
	fn       TaskFunc
	state    TaskState
}

// Service manages maintenance task scheduling and execution
type Service struct {
	tasks   map[string]*task
	timers  map[string]*time.Timer
	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewService creates a new maintenance scheduler
func NewService() *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		tasks:  make(map[string]*task),
		timers: make(map[string]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a task and schedules its first run
func (s *Service) Add(name string, schedule Schedule, fn TaskFunc) error {
	if name == "" {
		return fmt.Errorf("task name is required")
	}
	if fn == nil {
		return fmt.Errorf("task function is required")
	}

	nextRun, err := NextRun(schedule, time.Now())
	if err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("service is stopped")
	}
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task already registered: %s", name)
	}

	t := &task{
		name:     name,
		schedule: schedule,
		fn:       fn,
		state:    TaskState{NextRunAt: &nextRun},
	}
	s.tasks[name] = t
	s.scheduleTaskLocked(t)

	log.Info().
		Str("task", name).
		Time("next_run", nextRun).
		Msg("Maintenance task registered")
	return nil
}

// Remove deletes a task
func (s *Service) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; !exists {
		return fmt.Errorf("task not found: %s", name)
	}

	s.cancelTaskLocked(name)
	delete(s.tasks, name)

	log.Info().Str("task", name).Msg("Maintenance task removed")
	return nil
}

// RunNow manually executes a task
func (s *Service) RunNow(name string) error {
	s.mu.RLock()
	t, exists := s.tasks[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("task not found: %s", name)
	}

	go s.executeTask(t)
	return nil
}

// List returns task snapshots sorted by name
func (s *Service) List() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		infos = append(infos, TaskInfo{
			Name:     t.name,
			Schedule: t.schedule,
			State:    t.state,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Stop cancels all timers and waits for running tasks to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()

	for name := range s.timers {
		s.cancelTaskLocked(name)
	}
	s.mu.Unlock()

	s.running.Wait()
	log.Info().Msg("Maintenance scheduler stopped")
}

// scheduleTaskLocked arms a task's timer (must hold lock)
func (s *Service) scheduleTaskLocked(t *task) {
	if t.state.NextRunAt == nil {
		log.Warn().Str("task", t.name).Msg("Cannot schedule task without next run time")
		return
	}

	delay := time.Until(*t.state.NextRunAt)
	if delay < 0 {
		delay = 0
	}

	s.timers[t.name] = time.AfterFunc(delay, func() {
		s.executeTask(t)
	})

	log.Debug().
		Str("task", t.name).
		Dur("delay", delay).
		Msg("Maintenance task scheduled")
}

// cancelTaskLocked stops a task's timer (must hold lock)
func (s *Service) cancelTaskLocked(name string) {
	if timer, exists := s.timers[name]; exists {
		timer.Stop()
		delete(s.timers, name)
	}
}

// executeTask runs one task, skipping if it is already running
func (s *Service) executeTask(t *task) {
	s.mu.Lock()
	current, exists := s.tasks[t.name]
	if !exists || s.stopped {
		s.mu.Unlock()
		return
	}
	if current.state.RunningAt != nil {
		s.mu.Unlock()
		log.Debug().Str("task", t.name).Msg("Task already running, skipping")
		return
	}

	start := time.Now()
	current.state.RunningAt = &start
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	err := t.fn(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	duration := time.Since(start)
	current.state.RunningAt = nil
	current.state.LastRunAt = &start
	current.state.LastDuration = duration

	if err != nil {
		current.state.LastStatus = "error"
		current.state.LastError = err.Error()
		current.state.ConsecutiveErrors++

		log.Error().
			Str("task", t.name).
			Err(err).
			Int("consecutive_errors", current.state.ConsecutiveErrors).
			Msg("Maintenance task failed")
	} else {
		current.state.LastStatus = "ok"
		current.state.LastError = ""
		current.state.ConsecutiveErrors = 0

		log.Debug().
			Str("task", t.name).
			Dur("duration", duration).
			Msg("Maintenance task completed")
	}

	// One-shot schedules do not reschedule
	if current.schedule.Kind == ScheduleKindAt {
		current.state.NextRunAt = nil
		s.cancelTaskLocked(t.name)
		return
	}

	nextRun, calcErr := NextRun(current.schedule, time.Now())
	if calcErr != nil {
		log.Error().Str("task", t.name).Err(calcErr).Msg("Failed to calculate next run")
		return
	}
	current.state.NextRunAt = &nextRun

	if !s.stopped {
		s.scheduleTaskLocked(current)
	}
}
