/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/config"
	"github.com/ma12/companion-api/pkg/metrics"
)

var (
	ErrQueueFull      = errors.New("mail queue is full")
	ErrQueueStopped   = errors.New("queue is shutting down")
	ErrAlreadyQueued  = errors.New("task is already queued")
	ErrAttemptTimeout = errors.New("attempt timed out")
)

const (
	FailureAttemptsExhausted = "attempts_exhausted"
	FailureDeadlineExceeded  = "deadline_exceeded"
)

// RetryPolicy bounds how often and for how long a task is retried.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff[n-1] is the wait after attempt n; the last entry repeats.
	Backoff        []time.Duration
	Deadline       time.Duration
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    config.DefaultMailAttempts,
		Backoff:        append([]time.Duration(nil), config.DefaultBackoff...),
		Deadline:       config.DefaultDeadline,
		AttemptTimeout: config.DefaultAttemptTimeout,
	}
}

// PolicyFromConfig builds a RetryPolicy from mail settings, defaulting unset fields.
func PolicyFromConfig(cfg config.Mail) (RetryPolicy, error) {
	backoff, err := cfg.BackoffDurations()
	if err != nil {
		return RetryPolicy{}, err
	}
	deadline, err := config.ParseDuration(cfg.Deadline, config.DefaultDeadline)
	if err != nil {
		return RetryPolicy{}, fmt.Errorf("mail.deadline: %w", err)
	}
	timeout, err := config.ParseDuration(cfg.AttemptTimeout, config.DefaultAttemptTimeout)
	if err != nil {
		return RetryPolicy{}, fmt.Errorf("mail.attemptTimeout: %w", err)
	}
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		Backoff:        backoff,
		Deadline:       deadline,
		AttemptTimeout: timeout,
	}.withDefaults(), nil
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if len(p.Backoff) == 0 {
		p.Backoff = def.Backoff
	}
	if p.Deadline <= 0 {
		p.Deadline = def.Deadline
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = def.AttemptTimeout
	}
	return p
}

// BackoffAfter returns the wait before the attempt that follows attempt (1-based).
func (p RetryPolicy) BackoffAfter(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt-1]
}

// TaskFunc performs one delivery attempt. ctx is cancelled when the attempt timeout expires.
type TaskFunc func(ctx context.Context) error

// QueueItem is a scheduled task with its retry state.
type QueueItem struct {
	ID        string
	Attempt   int
	CreatedAt time.Time
	NextRun   time.Time
	Deadline  time.Time
	Succeeded bool
	LastError error

	run TaskFunc
}

// FailureHandler is invoked once for every task that is given up on.
type FailureHandler func(item QueueItem, reason string, err error)

type QueueOptions struct {
	Policy    RetryPolicy
	Workers   int
	QueueSize int
	// Host labels metrics, usually the SMTP host of the sender.
	Host         string
	TickInterval time.Duration
	Now          func() time.Time
}

type attemptResult struct {
	item     *QueueItem
	err      error
	timedOut bool
}

// Queue runs delayed tasks with bounded concurrency and retries failed attempts
// according to its RetryPolicy.
type Queue struct {
	opts    QueueOptions
	policy  RetryPolicy
	log     *zap.SugaredLogger
	queue   chan *QueueItem
	results chan attemptResult

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once

	mu        sync.Mutex
	active    map[string]struct{}
	stopped   bool // set before the final drain; guards sends to queue
	onFailure FailureHandler

	// owned by the worker goroutine
	pending  []*QueueItem
	inFlight int
}

// NewQueue creates a queue. Call Start before tasks become due.
func NewQueue(log *zap.SugaredLogger, opts QueueOptions) *Queue {
	opts.Policy = opts.Policy.withDefaults()
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultMailWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = config.DefaultMailQueueSize
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 50 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Host == "" {
		opts.Host = "default"
	}

	log.Infow("Initializing mail queue",
		"maxAttempts", opts.Policy.MaxAttempts,
		"backoff", opts.Policy.Backoff,
		"deadline", opts.Policy.Deadline,
		"attemptTimeout", opts.Policy.AttemptTimeout,
		"workers", opts.Workers,
		"maxQueueSize", opts.QueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		opts:    opts,
		policy:  opts.Policy,
		log:     log,
		queue:   make(chan *QueueItem, opts.QueueSize),
		results: make(chan attemptResult, opts.Workers),
		ctx:     ctx,
		cancel:  cancel,
		active:  make(map[string]struct{}),
	}
}

// OnPermanentFailure registers the handler for abandoned tasks.
func (q *Queue) OnPermanentFailure(fn FailureHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFailure = fn
}

func (q *Queue) Policy() RetryPolicy { return q.policy }

// Start begins the background worker. Further calls are no-ops.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go q.worker()
		q.log.Info("Mail queue worker started")
	})
}

// Enqueue schedules run to start after delay. A task id may only be queued once at a time.
func (q *Queue) Enqueue(id string, run TaskFunc, delay time.Duration) error {
	if run == nil {
		return fmt.Errorf("cannot enqueue task %s without a body", id)
	}
	if delay < 0 {
		delay = 0
	}
	now := q.opts.Now()
	item := &QueueItem{
		ID:        id,
		CreatedAt: now,
		NextRun:   now.Add(delay),
		Deadline:  now.Add(q.policy.Deadline),
		run:       run,
	}

	// Sent under mu so the shutdown drain sees every accepted task. active
	// bounds the channel contents, so the send does not block.
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		q.log.Errorw("Cannot enqueue, queue is shutting down", "id", id)
		metrics.MailQueueDropped.WithLabelValues(q.opts.Host).Inc()
		return ErrQueueStopped
	}
	if _, ok := q.active[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, id)
	}
	if len(q.active) >= q.opts.QueueSize {
		metrics.MailQueueDropped.WithLabelValues(q.opts.Host).Inc()
		q.log.Errorw("Mail queue is full, dropping task", "id", id, "queueSize", q.opts.QueueSize)
		return fmt.Errorf("%w (capacity: %d)", ErrQueueFull, q.opts.QueueSize)
	}
	select {
	case q.queue <- item:
	default:
		metrics.MailQueueDropped.WithLabelValues(q.opts.Host).Inc()
		return fmt.Errorf("%w (capacity: %d)", ErrQueueFull, q.opts.QueueSize)
	}
	q.active[id] = struct{}{}
	metrics.MailQueued.WithLabelValues(q.opts.Host).Inc()
	q.log.Debugw("Task queued", "id", id, "delay", delay)
	return nil
}

// markStopped makes every later Enqueue fail with ErrQueueStopped.
func (q *Queue) markStopped() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
}

// Length returns the number of tasks waiting, running or scheduled for retry.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	delete(q.active, id)
	q.mu.Unlock()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorw("panic in mail queue worker recovered", "panic", r)
			// Restart the worker to maintain processing capacity
			q.wg.Add(1)
			go q.worker()
		}
	}()

	ticker := time.NewTicker(q.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			q.shutdown()
			return
		case item := <-q.queue:
			q.pending = append(q.pending, item)
			q.updatePendingGauge()
		case res := <-q.results:
			q.inFlight--
			q.handleResult(res)
		case <-ticker.C:
			q.dispatchDue()
		}
	}
}

func (q *Queue) dispatchDue() {
	now := q.opts.Now()
	remaining := make([]*QueueItem, 0, len(q.pending))
	for _, item := range q.pending {
		switch {
		case now.After(item.Deadline):
			q.giveUp(item, FailureDeadlineExceeded, item.LastError)
		case now.Before(item.NextRun) || q.inFlight >= q.opts.Workers:
			remaining = append(remaining, item)
		default:
			item.Attempt++
			q.inFlight++
			q.log.Infow("Processing queued task",
				"id", item.ID,
				"attempt", item.Attempt,
				"maxAttempts", q.policy.MaxAttempts)
			go q.runAttempt(item)
		}
	}
	q.pending = remaining
	q.updatePendingGauge()
}

func (q *Queue) runAttempt(item *QueueItem) {
	id, attempt := item.ID, item.Attempt
	ctx, cancel := context.WithTimeout(context.Background(), q.policy.AttemptTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in task %s: %v", id, r)
			}
		}()
		done <- item.run(ctx)
	}()

	select {
	case err := <-done:
		q.results <- attemptResult{item: item, err: err}
	case <-ctx.Done():
		q.results <- attemptResult{
			item:     item,
			err:      fmt.Errorf("%w after %s", ErrAttemptTimeout, q.policy.AttemptTimeout),
			timedOut: true,
		}
		go q.awaitLate(id, attempt, done)
	}
}

// awaitLate logs the outcome of an attempt that already counted as timed out.
func (q *Queue) awaitLate(id string, attempt int, done <-chan error) {
	err := <-done
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.MailLateCompletions.WithLabelValues(q.opts.Host, outcome).Inc()
	q.log.Warnw("Task attempt completed after its timeout",
		"id", id,
		"attempt", attempt,
		"outcome", outcome,
		"error", err)
}

func (q *Queue) handleResult(res attemptResult) {
	item := res.item
	if res.err == nil {
		item.Succeeded = true
		q.release(item.ID)
		q.log.Infow("Queued task completed successfully", "id", item.ID, "attempt", item.Attempt)
		metrics.MailSent.WithLabelValues(q.opts.Host).Inc()
		return
	}

	item.LastError = res.err
	if res.timedOut {
		metrics.MailAttemptTimeouts.WithLabelValues(q.opts.Host).Inc()
	}
	if item.Attempt >= q.policy.MaxAttempts {
		q.giveUp(item, FailureAttemptsExhausted, res.err)
		return
	}

	wait := q.policy.BackoffAfter(item.Attempt)
	next := q.opts.Now().Add(wait)
	if next.After(item.Deadline) {
		q.giveUp(item, FailureDeadlineExceeded, res.err)
		return
	}
	item.NextRun = next
	q.pending = append(q.pending, item)
	q.updatePendingGauge()

	q.log.Warnw("Task attempt failed, scheduling retry",
		"id", item.ID,
		"attempt", item.Attempt,
		"error", res.err,
		"retryIn", wait.String(),
		"nextRetry", next.Format(time.RFC3339))
	metrics.MailRetryScheduled.WithLabelValues(q.opts.Host).Inc()
}

func (q *Queue) giveUp(item *QueueItem, reason string, err error) {
	q.release(item.ID)
	q.log.Errorw("Queued task failed permanently",
		"id", item.ID,
		"attempts", item.Attempt,
		"reason", reason,
		"error", err)
	metrics.MailFailed.WithLabelValues(q.opts.Host, reason).Inc()

	q.mu.Lock()
	fn := q.onFailure
	q.mu.Unlock()
	if fn != nil {
		fn(*item, reason, err)
	}
}

// shutdown waits for in-flight attempts and drops everything still waiting.
func (q *Queue) shutdown() {
	q.log.Info("Mail queue worker shutting down")
	for q.inFlight > 0 {
		res := <-q.results
		q.inFlight--
		q.handleResult(res)
	}
	q.markStopped()
	for {
		select {
		case item := <-q.queue:
			q.pending = append(q.pending, item)
			continue
		default:
		}
		break
	}
	if len(q.pending) > 0 {
		ids := make([]string, 0, len(q.pending))
		for _, item := range q.pending {
			ids = append(ids, item.ID)
			q.release(item.ID)
		}
		q.log.Warnw("Dropping waiting tasks on shutdown", "count", len(ids), "ids", ids)
	}
	q.pending = nil
	q.updatePendingGauge()
}

func (q *Queue) updatePendingGauge() {
	metrics.MailQueuePending.WithLabelValues(q.opts.Host).Set(float64(len(q.pending)))
}

// Stop cancels waiting retries and waits for in-flight attempts to finish.
func (q *Queue) Stop(ctx context.Context) error {
	q.log.Info("Stopping mail queue")
	q.markStopped()
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("Mail queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.log.Warnw("Mail queue shutdown timeout, in-flight attempts may still be running")
		return ctx.Err()
	}
}
