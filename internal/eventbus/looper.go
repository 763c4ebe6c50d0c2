package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrLooperRunning is returned by Run when the looper already has a consumer.
var ErrLooperRunning = errors.New("looper already running")

// loopKey marks contexts handed to tasks executing on a Looper.
type loopKey struct{}

// loopToken is the value stored under loopKey. It vouches for the loop only
// while its task runs, and only on the goroutine that runs it.
type loopToken struct {
	looper *Looper
	gid    uint64
	active atomic.Bool
}

// Looper is a single-consumer FIFO task queue. Any goroutine may Post a task;
// the goroutine blocked in Run executes tasks one at a time in posting order.
// It plays the role of the designated main thread for MainThread delivery.
//
// The queue is unbounded so Post never blocks the producer.
type Looper struct {
	mu      sync.Mutex
	tasks   []func(context.Context)
	closed  bool
	signal  chan struct{} // buffered, size 1; coalesces wake-ups
	running atomic.Bool
	logger  *slog.Logger
}

// NewLooper creates an empty looper. Call Run on the goroutine that should
// own main-thread delivery.
func NewLooper(logger *slog.Logger) *Looper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Looper{
		tasks:  make([]func(context.Context), 0, 64),
		signal: make(chan struct{}, 1),
		logger: logger,
	}
}

// Post appends task to the queue and returns immediately. It returns false if
// the looper is closed.
func (l *Looper) Post(task func(ctx context.Context)) bool {
	if task == nil {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	l.tasks = append(l.tasks, task)

	select {
	case l.signal <- struct{}{}:
	default:
	}

	return true
}

// Run consumes tasks until the looper is closed and drained, or ctx is
// canceled. Tasks receive a context derived from ctx that satisfies OnLoop
// for as long as the task runs.
func (l *Looper) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLooperRunning
	}
	defer l.running.Store(false)

	gid := goroutineID()

	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.exec(ctx, gid, task)
		}

		l.mu.Lock()
		done := l.closed && len(l.tasks) == 0
		l.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.signal:
		}
	}
}

// Close stops accepting tasks. Run returns once the pending tasks are drained.
func (l *Looper) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// OnLoop reports whether the caller is executing inside one of this looper's
// tasks. ctx must be the one handed to the task; a copy carried to another
// goroutine, or kept after the task returned, does not qualify.
func (l *Looper) OnLoop(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	tok, _ := ctx.Value(loopKey{}).(*loopToken)
	if tok == nil || tok.looper != l || !tok.active.Load() {
		return false
	}
	return tok.gid != 0 && goroutineID() == tok.gid
}

// Pending returns the number of queued tasks.
func (l *Looper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

func (l *Looper) next() (func(context.Context), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) == 0 {
		return nil, false
	}

	task := l.tasks[0]
	l.tasks[0] = nil // release the closure for GC
	if len(l.tasks) == 1 {
		l.tasks = l.tasks[:0]
	} else {
		l.tasks = l.tasks[1:]
	}

	return task, true
}

// exec runs a single task. A panicking task is logged and does not stop the loop.
func (l *Looper) exec(ctx context.Context, gid uint64, task func(context.Context)) {
	tok := &loopToken{looper: l, gid: gid}
	tok.active.Store(true)
	defer func() {
		tok.active.Store(false)
		if v := recover(); v != nil {
			l.logger.Error("looper task panicked", "panic", v)
		}
	}()
	task(context.WithValue(ctx, loopKey{}, tok))
}
