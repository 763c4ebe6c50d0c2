// Package jobqueue runs queued jobs on an elastic pool of worker goroutines.
//
// The pool keeps MinWorkers resident, grows towards MaxWorkers as the backlog
// exceeds LoadFactor jobs per worker, and retires extra workers after they sit
// idle for KeepAlive. Jobs are served by priority with FIFO order inside a
// priority, and a bounded starvation guarantee for low-priority jobs.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/repofeed/internal/domain/model"
)

// ErrQueueClosed is returned by AddJob after Shutdown has been called.
var ErrQueueClosed = errors.New("job queue closed")

// Job is a unit of work accepted by the queue.
type Job interface {
	ID() string
	Priority() model.Priority
	// RetryLimit is the maximum number of Run attempts. Values <= 0 use the
	// queue's configured default.
	RetryLimit() int
	// OnAdded is called by the worker right before the first attempt.
	OnAdded(ctx context.Context)
	// Run performs one attempt. A non-nil error marks the attempt failed.
	Run(ctx context.Context) error
	// OnFinished is called exactly once after the last attempt with that
	// attempt's error, or nil on success.
	OnFinished(ctx context.Context, err error)
}

// Config controls pool sizing and the retry policy.
type Config struct {
	MinWorkers int
	MaxWorkers int
	// LoadFactor is the number of ready or running jobs that justifies one worker.
	LoadFactor int
	// KeepAlive is how long an extra worker may stay idle before retiring.
	KeepAlive time.Duration
	// RetryLimit is the default attempt limit for jobs that do not set one.
	RetryLimit int
	// RetryDelay is multiplied by the attempt number to space retries. A
	// shutdown cuts the wait short and the job finishes with its last error.
	RetryDelay time.Duration
	// StarvationLimit is how many times a waiting job may be overtaken by
	// younger jobs before it is served next. Zero disables the guarantee.
	StarvationLimit int
}

// DefaultConfig returns the pool settings used by the application: at least
// one resident worker, up to three, three jobs per worker and a two minute
// keep-alive.
func DefaultConfig() Config {
	return Config{
		MinWorkers:      1,
		MaxWorkers:      3,
		LoadFactor:      3,
		KeepAlive:       120 * time.Second,
		RetryLimit:      20,
		RetryDelay:      time.Second,
		StarvationLimit: 8,
	}
}

// Validate checks the configuration for impossible values.
func (c Config) Validate() error {
	if c.MinWorkers < 1 {
		return fmt.Errorf("min workers must be >= 1, got %d", c.MinWorkers)
	}
	if c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("max workers (%d) must be >= min workers (%d)", c.MaxWorkers, c.MinWorkers)
	}
	if c.LoadFactor < 1 {
		return fmt.Errorf("load factor must be >= 1, got %d", c.LoadFactor)
	}
	if c.KeepAlive < 0 {
		return fmt.Errorf("keep alive must not be negative, got %s", c.KeepAlive)
	}
	if c.RetryLimit < 1 {
		return fmt.Errorf("retry limit must be >= 1, got %d", c.RetryLimit)
	}
	if c.StarvationLimit < 0 {
		return fmt.Errorf("starvation limit must not be negative, got %d", c.StarvationLimit)
	}
	return nil
}

// Stats is a point-in-time snapshot of the queue.
type Stats struct {
	Workers   int   `json:"workers"`
	Idle      int   `json:"idle"`
	Ready     int   `json:"ready"`
	Running   int   `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue is a bounded, elastic worker pool.
type Queue struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	ready   readySet
	seq     uint64
	workers int
	idle    int
	running int
	started bool
	closed  bool
	baseCtx context.Context

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
}

// New creates a stopped queue. Jobs may be added before Start; they run once
// workers exist.
func New(cfg Config, logger *slog.Logger) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job queue config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		cfg:     cfg,
		logger:  logger,
		baseCtx: context.Background(),
		wake:    make(chan struct{}, cfg.MaxWorkers),
		quit:    make(chan struct{}),
	}, nil
}

// Start spawns the resident workers. Jobs run with a context that keeps ctx's
// values but is never canceled: running jobs are not interrupted.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.closed {
		return
	}
	q.started = true
	q.baseCtx = context.WithoutCancel(ctx)

	for q.workers < q.cfg.MinWorkers {
		q.spawnLocked()
	}
	// Jobs added before Start may justify more workers.
	q.scaleLocked()

	q.logger.Info("job queue started",
		"min_workers", q.cfg.MinWorkers,
		"max_workers", q.cfg.MaxWorkers,
		"load_factor", q.cfg.LoadFactor,
		"keep_alive", q.cfg.KeepAlive,
	)
}

// AddJob appends job to the ready set and returns without waiting for it to run.
func (q *Queue) AddJob(job Job) error {
	if job == nil {
		return errors.New("add job: nil job")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("add job %s: %w", job.ID(), ErrQueueClosed)
	}

	q.seq++
	q.ready.push(&entry{
		job:      job,
		seq:      q.seq,
		priority: int(job.Priority()),
	})

	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.scaleLocked()

	q.logger.Debug("job added",
		"job_id", job.ID(),
		"priority", job.Priority().String(),
		"ready", q.ready.len(),
		"workers", q.workers,
	)

	return nil
}

// Shutdown stops accepting jobs, lets workers drain the ready set and waits
// for them to exit or for ctx to end.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.quit)
	}
	// Without workers nothing would ever drain the ready set.
	var stranded []Job
	if !q.started {
		for {
			e, ok := q.ready.pop(0)
			if !ok {
				break
			}
			stranded = append(stranded, e.job)
		}
	}
	baseCtx := q.baseCtx
	q.mu.Unlock()

	for _, job := range stranded {
		q.failed.Add(1)
		q.safeCall(job, "on_finished", func() { job.OnFinished(baseCtx, ErrQueueClosed) })
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job queue stopped",
			"completed", q.completed.Load(),
			"failed", q.failed.Load(),
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job queue shutdown: %w", ctx.Err())
	}
}

// Stats returns a snapshot of pool and backlog sizes.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Workers:   q.workers,
		Idle:      q.idle,
		Ready:     q.ready.len(),
		Running:   q.running,
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
}

// scaleLocked spawns workers while the backlog outgrows the workers not
// running a job and the load factor allows another worker. Caller must hold
// q.mu.
func (q *Queue) scaleLocked() {
	if !q.started || q.closed {
		return
	}

	wanted := (q.ready.len() + q.running + q.cfg.LoadFactor - 1) / q.cfg.LoadFactor
	wanted = max(q.cfg.MinWorkers, min(wanted, q.cfg.MaxWorkers))

	// Freshly spawned workers are free but not yet counted as idle.
	for q.workers < wanted && q.workers-q.running < q.ready.len() {
		q.spawnLocked()
	}
}

// spawnLocked starts one worker goroutine. Caller must hold q.mu.
func (q *Queue) spawnLocked() {
	q.workers++
	q.wg.Add(1)
	go q.work()
}

func (q *Queue) work() {
	defer q.wg.Done()

	for {
		job, ok := q.next()
		if !ok {
			return
		}
		q.execute(job)
	}
}

// next blocks until a job is ready, the queue is closed and drained, or this
// worker is retired after KeepAlive of idleness.
func (q *Queue) next() (Job, bool) {
	q.mu.Lock()
	for {
		if e, ok := q.ready.pop(q.cfg.StarvationLimit); ok {
			q.running++
			q.mu.Unlock()
			return e.job, true
		}

		if q.closed {
			q.workers--
			q.mu.Unlock()
			return nil, false
		}

		q.idle++
		q.mu.Unlock()

		retire := q.waitIdle()

		q.mu.Lock()
		q.idle--
		if retire && q.ready.len() == 0 && q.workers > q.cfg.MinWorkers {
			q.workers--
			q.mu.Unlock()
			q.logger.Debug("idle worker retired")
			return nil, false
		}
	}
}

// waitIdle waits for a wake-up and returns true if KeepAlive elapsed first.
func (q *Queue) waitIdle() bool {
	var expired <-chan time.Time
	if q.cfg.KeepAlive > 0 {
		timer := time.NewTimer(q.cfg.KeepAlive)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-q.wake:
		return false
	case <-q.quit:
		return false
	case <-expired:
		return true
	}
}

func (q *Queue) execute(job Job) {
	q.mu.Lock()
	ctx := q.baseCtx
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.running--
		q.mu.Unlock()
	}()

	q.safeCall(job, "on_added", func() { job.OnAdded(ctx) })

	limit := job.RetryLimit()
	if limit <= 0 {
		limit = q.cfg.RetryLimit
	}

	start := time.Now()
	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		err = q.runOnce(ctx, job)
		if err == nil {
			break
		}

		q.logger.Warn("job attempt failed",
			"job_id", job.ID(),
			"attempt", attempt,
			"limit", limit,
			"error", err,
		)

		if attempt < limit && !q.backoff(q.cfg.RetryDelay*time.Duration(attempt)) {
			q.logger.Info("job retries abandoned, queue shutting down",
				"job_id", job.ID(),
				"attempt", attempt,
			)
			break
		}
	}

	if err != nil {
		q.failed.Add(1)
	} else {
		q.completed.Add(1)
	}

	q.safeCall(job, "on_finished", func() { job.OnFinished(ctx, err) })

	q.logger.Debug("job finished",
		"job_id", job.ID(),
		"success", err == nil,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// backoff waits d before the next attempt. It returns false if the queue
// starts shutting down first.
func (q *Queue) backoff(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-q.quit:
		return false
	}
}

// runOnce converts a panicking attempt into a failed attempt.
func (q *Queue) runOnce(ctx context.Context, job Job) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID(), v)
		}
	}()
	return job.Run(ctx)
}

func (q *Queue) safeCall(job Job, hook string, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			q.logger.Error("job hook panicked", "job_id", job.ID(), "hook", hook, "panic", v)
		}
	}()
	fn()
}
