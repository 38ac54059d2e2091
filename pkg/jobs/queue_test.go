package jobs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/crucible/pkg/sandbox"
)

func setupTestQueue(t *testing.T, workers, queueSize int) *Queue {
	t.Helper()

	cfg := sandbox.DefaultConfig()
	cfg.BaseDir = t.TempDir()
	exec, err := sandbox.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(exec.Close)

	q := New(exec, workers, queueSize, time.Hour)
	t.Cleanup(q.Stop)
	return q
}

func waitTerminal(t *testing.T, q *Queue, id string) Job {
	t.Helper()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("job %s never finished", id)
		case <-time.After(10 * time.Millisecond):
		}
		job, err := q.Get(id)
		require.NoError(t, err)
		if job.Status.terminal() {
			return job
		}
	}
}

func TestQueue_SubmitAndComplete(t *testing.T) {
	q := setupTestQueue(t, 2, 8)

	job, err := q.Submit(sandbox.ExecuteRequest{SessionID: "s1", Code: `print("async")`})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusQueued, job.Status)

	finished := waitTerminal(t, q, job.ID)
	assert.Equal(t, StatusSucceeded, finished.Status)
	require.NotNil(t, finished.Result)
	assert.Equal(t, "async\n", finished.Result.Stdout)
	assert.False(t, finished.FinishedAt.IsZero())
}

func TestQueue_ExecutionErrorIsStillSucceededJob(t *testing.T) {
	q := setupTestQueue(t, 1, 8)

	job, err := q.Submit(sandbox.ExecuteRequest{SessionID: "s1", Code: `boom()`})
	require.NoError(t, err)

	finished := waitTerminal(t, q, job.ID)
	// The job ran; the script failed. That distinction lives in the result.
	assert.Equal(t, StatusSucceeded, finished.Status)
	require.NotNil(t, finished.Result)
	assert.False(t, finished.Result.Success)
}

func TestQueue_RejectedRequestFailsJob(t *testing.T) {
	q := setupTestQueue(t, 1, 8)

	job, err := q.Submit(sandbox.ExecuteRequest{SessionID: "s1", Code: "   "})
	require.NoError(t, err)

	finished := waitTerminal(t, q, job.ID)
	assert.Equal(t, StatusFailed, finished.Status)
	assert.Contains(t, finished.Error, "script is empty")
}

func TestQueue_GetUnknownJob(t *testing.T) {
	q := setupTestQueue(t, 1, 8)

	_, err := q.Get("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestQueue_Subscribe(t *testing.T) {
	q := setupTestQueue(t, 1, 8)

	events, cancel := q.Subscribe("")
	defer cancel()

	job, err := q.Submit(sandbox.ExecuteRequest{SessionID: "s1", Code: `x = 1`})
	require.NoError(t, err)

	var statuses []Status
	deadline := time.After(10 * time.Second)
	for len(statuses) < 2 {
		select {
		case ev := <-events:
			if ev.Job.ID == job.ID {
				statuses = append(statuses, ev.Job.Status)
			}
		case <-deadline:
			t.Fatalf("saw only %v", statuses)
		}
	}

	assert.Equal(t, StatusRunning, statuses[0])
	assert.Equal(t, StatusSucceeded, statuses[1])
}

func TestQueue_QueueFull(t *testing.T) {
	q := setupTestQueue(t, 1, 1)

	// Saturate the single worker and the single queue slot.
	_, err := q.Submit(sandbox.ExecuteRequest{SessionID: "a", Code: `x = 1`})
	require.NoError(t, err)

	full := false
	for i := 0; i < 50 && !full; i++ {
		_, err := q.Submit(sandbox.ExecuteRequest{SessionID: "b", Code: `x = 1`})
		if err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			full = true
		}
	}
	assert.True(t, full, "queue never reported full")
}

func TestQueue_List(t *testing.T) {
	q := setupTestQueue(t, 2, 8)

	first, err := q.Submit(sandbox.ExecuteRequest{SessionID: "s1", Code: `x = 1`})
	require.NoError(t, err)
	waitTerminal(t, q, first.ID)

	second, err := q.Submit(sandbox.ExecuteRequest{SessionID: "s1", Code: `x = 2`})
	require.NoError(t, err)
	waitTerminal(t, q, second.ID)

	jobs := q.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID, "newest first")
}

func TestQueue_CleanupFinished(t *testing.T) {
	cfg := sandbox.DefaultConfig()
	cfg.BaseDir = t.TempDir()
	exec, err := sandbox.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(exec.Close)

	q := New(exec, 1, 8, 10*time.Millisecond)
	t.Cleanup(q.Stop)

	job, err := q.Submit(sandbox.ExecuteRequest{SessionID: "s1", Code: `x = 1`})
	require.NoError(t, err)
	waitTerminal(t, q, job.ID)

	time.Sleep(25 * time.Millisecond)

	assert.Equal(t, 1, q.CleanupFinished())
	_, err = q.Get(job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestQueue_ConcurrentSubmitAndStop(t *testing.T) {
	cfg := sandbox.DefaultConfig()
	cfg.BaseDir = t.TempDir()
	exec, err := sandbox.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(exec.Close)

	// Submissions racing Stop must land as ErrQueueFull or ErrQueueClosed,
	// never as a send on the closed pending channel.
	for round := 0; round < 25; round++ {
		q := New(exec, 2, 16, time.Hour)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 25; j++ {
					if _, err := q.Submit(sandbox.ExecuteRequest{SessionID: "s1", Code: `x = 1`}); err != nil {
						assert.True(t, errors.Is(err, ErrQueueFull) || errors.Is(err, ErrQueueClosed), "unexpected error: %v", err)
					}
				}
			}()
		}

		close(start)
		q.Stop()
		wg.Wait()

		_, err := q.Submit(sandbox.ExecuteRequest{SessionID: "s1", Code: `x = 1`})
		assert.ErrorIs(t, err, ErrQueueClosed)
	}
}

func TestQueue_StopRefusesSubmit(t *testing.T) {
	q := setupTestQueue(t, 1, 8)
	q.Stop()

	_, err := q.Submit(sandbox.ExecuteRequest{SessionID: "s1", Code: `x = 1`})
	assert.ErrorIs(t, err, ErrQueueClosed)
}
