package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// flakyTask fails until it has been called more than successAfter times.
type flakyTask struct {
	successAfter int32
	attempts     atomic.Int32
}

func (f *flakyTask) Run(ctx context.Context) error {
	n := f.attempts.Add(1)
	if n > f.successAfter {
		return nil
	}
	return errors.New("simulated send failure")
}

type failureRecorder struct {
	mu      sync.Mutex
	items   []QueueItem
	reasons []string
}

func (r *failureRecorder) handle(item QueueItem, reason string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	r.reasons = append(r.reasons, reason)
}

func (r *failureRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		Backoff:        []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond},
		Deadline:       5 * time.Second,
		AttemptTimeout: time.Second,
	}
}

func newTestQueue(t *testing.T, policy RetryPolicy, workers, size int) (*Queue, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	q := NewQueue(zap.New(core).Sugar(), QueueOptions{
		Policy:       policy,
		Workers:      workers,
		QueueSize:    size,
		Host:         "test.example.com",
		TickInterval: 5 * time.Millisecond,
	})
	q.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.Stop(ctx); err != nil {
			t.Errorf("failed to stop queue: %v", err)
		}
	})
	return q, logs
}

func TestQueue_SucceedsFirstAttempt(t *testing.T) {
	q, _ := newTestQueue(t, fastPolicy(), 2, 10)
	task := &flakyTask{successAfter: 0}

	require.NoError(t, q.Enqueue("support-form-1", task.Run, 0))

	assert.Eventually(t, func() bool { return q.Length() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), task.attempts.Load())
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	q, logs := newTestQueue(t, fastPolicy(), 2, 10)
	rec := &failureRecorder{}
	q.OnPermanentFailure(rec.handle)
	task := &flakyTask{successAfter: 2}

	require.NoError(t, q.Enqueue("support-form-2", task.Run, 0))

	assert.Eventually(t, func() bool { return q.Length() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), task.attempts.Load())
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 2, logs.FilterMessage("Task attempt failed, scheduling retry").Len())
}

func TestQueue_GivesUpAfterMaxAttempts(t *testing.T) {
	q, logs := newTestQueue(t, fastPolicy(), 2, 10)
	rec := &failureRecorder{}
	q.OnPermanentFailure(rec.handle)
	task := &flakyTask{successAfter: 100}

	require.NoError(t, q.Enqueue("support-form-3", task.Run, 0))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	// give a stray fourth attempt the chance to show up
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), task.attempts.Load())
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, FailureAttemptsExhausted, rec.reasons[0])
	assert.Equal(t, 3, rec.items[0].Attempt)
	assert.Equal(t, 0, q.Length())
	assert.Equal(t, 1, logs.FilterMessage("Queued task failed permanently").Len())
}

func TestQueue_AttemptTimeoutCountsAsFailure(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 1
	policy.AttemptTimeout = 20 * time.Millisecond
	q, logs := newTestQueue(t, policy, 1, 10)
	rec := &failureRecorder{}
	q.OnPermanentFailure(rec.handle)

	release := make(chan struct{})
	require.NoError(t, q.Enqueue("slow", func(ctx context.Context) error {
		<-release // ignores ctx on purpose
		return nil
	}, 0))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rec.items[0].LastError, ErrAttemptTimeout)

	close(release)
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("Task attempt completed after its timeout").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestQueue_TaskContextExpires(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 1
	policy.AttemptTimeout = 20 * time.Millisecond
	q, _ := newTestQueue(t, policy, 1, 10)
	rec := &failureRecorder{}
	q.OnPermanentFailure(rec.handle)

	var sawDeadline atomic.Bool
	require.NoError(t, q.Enqueue("ctx-aware", func(ctx context.Context) error {
		<-ctx.Done()
		sawDeadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	}, 0))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, sawDeadline.Load, time.Second, 5*time.Millisecond)
}

func TestQueue_AbandonsRetryPastDeadline(t *testing.T) {
	policy := fastPolicy()
	policy.Backoff = []time.Duration{200 * time.Millisecond}
	policy.Deadline = 50 * time.Millisecond
	q, _ := newTestQueue(t, policy, 1, 10)
	rec := &failureRecorder{}
	q.OnPermanentFailure(rec.handle)
	task := &flakyTask{successAfter: 100}

	require.NoError(t, q.Enqueue("deadline", task.Run, 0))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, FailureDeadlineExceeded, rec.reasons[0])
	assert.Equal(t, int32(1), task.attempts.Load())
}

func TestQueue_HonoursDelay(t *testing.T) {
	q, _ := newTestQueue(t, fastPolicy(), 1, 10)
	task := &flakyTask{}

	require.NoError(t, q.Enqueue("delayed", task.Run, 150*time.Millisecond))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), task.attempts.Load(), "task must not run before its delay")
	assert.Eventually(t, func() bool { return task.attempts.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestQueue_RejectsDuplicatesAndOverflow(t *testing.T) {
	q, _ := newTestQueue(t, fastPolicy(), 1, 2)
	block := func(context.Context) error { return nil }

	require.NoError(t, q.Enqueue("a", block, time.Hour))
	err := q.Enqueue("a", block, time.Hour)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	require.NoError(t, q.Enqueue("b", block, time.Hour))
	err = q.Enqueue("c", block, time.Hour)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Length())

	assert.Error(t, q.Enqueue("nil-body", nil, 0))
}

func TestQueue_BoundedConcurrency(t *testing.T) {
	q, _ := newTestQueue(t, fastPolicy(), 2, 10)

	var running, maxRunning, finished atomic.Int32
	task := func(context.Context) error {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		finished.Add(1)
		return nil
	}
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		require.NoError(t, q.Enqueue(id, task, 0))
	}

	assert.Eventually(t, func() bool { return finished.Load() == 5 }, 3*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, maxRunning.Load(), int32(2))
}

func TestQueue_PanicInTaskIsAFailure(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 2
	q, _ := newTestQueue(t, policy, 1, 10)
	rec := &failureRecorder{}
	q.OnPermanentFailure(rec.handle)

	var calls atomic.Int32
	require.NoError(t, q.Enqueue("panics", func(context.Context) error {
		calls.Add(1)
		panic("boom")
	}, 0))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, rec.items[0].LastError.Error(), "boom")
}

func TestQueue_StopDropsWaitingTasks(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	q := NewQueue(zap.New(core).Sugar(), QueueOptions{Policy: fastPolicy(), TickInterval: 5 * time.Millisecond})
	q.Start()

	task := &flakyTask{}
	require.NoError(t, q.Enqueue("waiting", task.Run, time.Hour))

	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, int32(0), task.attempts.Load())
	assert.Equal(t, 0, q.Length())
	assert.Equal(t, 1, logs.FilterMessage("Dropping waiting tasks on shutdown").Len())

	assert.ErrorIs(t, q.Enqueue("late", task.Run, 0), ErrQueueStopped)
}

func TestQueue_EnqueueRejectedOnceStopped(t *testing.T) {
	q := NewQueue(zap.NewNop().Sugar(), QueueOptions{Policy: fastPolicy(), TickInterval: 5 * time.Millisecond})
	// stopped but context not yet cancelled, as during the final drain
	q.markStopped()

	task := &flakyTask{}
	assert.ErrorIs(t, q.Enqueue("late", task.Run, 0), ErrQueueStopped)
	assert.Equal(t, 0, q.Length())
	assert.Empty(t, q.queue)
}

func TestQueue_ConcurrentEnqueueDuringStop(t *testing.T) {
	q := NewQueue(zap.NewNop().Sugar(), QueueOptions{Policy: fastPolicy(), TickInterval: 5 * time.Millisecond})
	q.Start()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			for i := 0; i < 50; i++ {
				err := q.Enqueue(fmt.Sprintf("task-%d-%d", g, i), func(context.Context) error { return nil }, time.Hour)
				if err != nil {
					assert.ErrorIs(t, err, ErrQueueStopped)
				}
			}
		}(g)
	}

	close(start)
	require.NoError(t, q.Stop(context.Background()))
	wg.Wait()

	// nothing accepted may outlive the shutdown drain
	assert.Equal(t, 0, q.Length())
	assert.Empty(t, q.queue)
}

func TestQueue_StopWaitsForInFlight(t *testing.T) {
	q := NewQueue(zap.NewNop().Sugar(), QueueOptions{Policy: fastPolicy(), TickInterval: 5 * time.Millisecond})
	q.Start()

	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, q.Enqueue("in-flight", func(context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}, 0))

	<-started
	require.NoError(t, q.Stop(context.Background()))
	assert.True(t, finished.Load())
}

func TestRetryPolicy_BackoffAfter(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Hour, p.Deadline)
	assert.Equal(t, 30*time.Second, p.AttemptTimeout)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{7, 120 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.BackoffAfter(tt.attempt), "attempt %d", tt.attempt)
	}
	assert.Zero(t, RetryPolicy{}.BackoffAfter(1))
}
