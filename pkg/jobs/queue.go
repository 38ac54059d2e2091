// Package jobs runs script executions asynchronously on a bounded
// worker pool, keeping finished results for later pickup and streaming
// status transitions to subscribers.
package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harun/crucible/internal/observability"
	"github.com/harun/crucible/pkg/sandbox"
)

// Status is a job lifecycle state.
type Status string

const (
	// StatusQueued means the job waits for a worker.
	StatusQueued Status = "queued"
	// StatusRunning means a worker is executing the job.
	StatusRunning Status = "running"
	// StatusSucceeded means the execution finished, successfully or not; the result tells.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the job could not be executed at all.
	StatusFailed Status = "failed"
)

// terminal reports whether a status is final.
func (s Status) terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is one queued execution and its eventual outcome.
type Job struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"session_id"`
	Status     Status                 `json:"status"`
	Result     *sandbox.ExecuteResult `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	StartedAt  time.Time              `json:"started_at,omitempty"`
	FinishedAt time.Time              `json:"finished_at,omitempty"`
}

// Event is one status transition, delivered to subscribers.
type Event struct {
	Job Job `json:"job"`
}

type subscriber struct {
	jobID string
	ch    chan Event
}

// Queue is the worker pool plus the job table.
type Queue struct {
	exec      *sandbox.Executor
	pending   chan string
	retention time.Duration

	mu          sync.RWMutex
	jobs        map[string]*Job
	requests    map[string]sandbox.ExecuteRequest
	subscribers map[*subscriber]struct{}
	closed      bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a queue. workers bounds concurrent executions dispatched
// from the queue; queueSize bounds jobs waiting for a worker; finished
// jobs are kept for retention before cleanup removes them.
func New(exec *sandbox.Executor, workers, queueSize int, retention time.Duration) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		exec:        exec,
		pending:     make(chan string, queueSize),
		retention:   retention,
		jobs:        make(map[string]*Job),
		requests:    make(map[string]sandbox.ExecuteRequest),
		subscribers: make(map[*subscriber]struct{}),
		cancel:      cancel,
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	log.Info().Int("workers", workers).Int("queue_size", queueSize).Msg("Job queue started")
	return q
}

// Submit enqueues one execution and returns the queued job.
func (q *Queue) Submit(req sandbox.ExecuteRequest) (Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Job{}, ErrQueueClosed
	}

	// The send stays under the lock; Stop closes pending under the same
	// lock, so a submission can never hit a closed channel.
	select {
	case q.pending <- job.ID:
	default:
		return Job{}, ErrQueueFull
	}
	q.jobs[job.ID] = job
	q.requests[job.ID] = req

	return *job, nil
}

// Get returns a snapshot of one job.
func (q *Queue) Get(id string) (Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// List returns snapshots of every tracked job, newest first.
func (q *Queue) List() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Subscribe streams status transitions for one job id; the empty id
// subscribes to every job. The returned cancel function must be called.
func (q *Queue) Subscribe(jobID string) (<-chan Event, func()) {
	sub := &subscriber{jobID: jobID, ch: make(chan Event, 16)}

	q.mu.Lock()
	q.subscribers[sub] = struct{}{}
	q.mu.Unlock()

	cancel := func() {
		q.mu.Lock()
		if _, ok := q.subscribers[sub]; ok {
			delete(q.subscribers, sub)
			close(sub.ch)
		}
		q.mu.Unlock()
	}
	return sub.ch, cancel
}

// CleanupFinished drops terminal jobs older than the retention window.
func (q *Queue) CleanupFinished() int {
	cutoff := time.Now().Add(-q.retention)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, job := range q.jobs {
		if job.Status.terminal() && job.FinishedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("count", removed).Msg("Finished jobs cleaned up")
	}
	return removed
}

// Stop refuses new submissions and waits for running jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.pending)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for id := range q.pending {
		q.mu.Lock()
		req, ok := q.requests[id]
		delete(q.requests, id)
		q.mu.Unlock()
		if !ok {
			continue
		}
		q.transition(id, func(job *Job) {
			job.Status = StatusRunning
			job.StartedAt = time.Now()
		})

		result, err := q.exec.Execute(ctx, req)

		q.transition(id, func(job *Job) {
			job.FinishedAt = time.Now()
			if err != nil {
				job.Status = StatusFailed
				job.Error = err.Error()
			} else {
				job.Status = StatusSucceeded
				job.Result = result
			}
		})
	}
}

// transition mutates a job under the lock and fans the snapshot out.
func (q *Queue) transition(id string, mutate func(*Job)) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	mutate(job)
	snapshot := *job

	var targets []*subscriber
	for sub := range q.subscribers {
		if sub.jobID == "" || sub.jobID == id {
			targets = append(targets, sub)
		}
	}
	q.mu.Unlock()

	if snapshot.Status.terminal() {
		observability.RecordJob(string(snapshot.Status))
		observability.RecordJobAudit(context.Background(), snapshot.ID, string(snapshot.Status), map[string]interface{}{
			"session_id": snapshot.SessionID,
		})
	}

	for _, sub := range targets {
		select {
		case sub.ch <- Event{Job: snapshot}:
		default:
			// Slow subscribers drop transitions rather than stall workers.
		}
	}
}
