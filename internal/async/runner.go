// Package async runs functions on a bounded pool of goroutines and returns
// tasks which can be awaited with a deadline or cancelled.
//
// A Runner is created explicitly and passed to whoever needs it:
//
//	r := async.New(async.DefaultSize())
//	defer r.Close()
//
//	t := async.Supply(ctx, r, 1, func(ctx context.Context) (int, error) {
//		return 42, nil
//	})
//	v, err := async.Await(ctx, t, time.Now(), time.Second)
//
// Parallelism of zero or less runs the function on the calling goroutine.
// Submissions beyond the pool size wait in an unbounded queue.
package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jdbcx/jdbcx/internal/model"
)

var (
	ErrClosed    = errors.New("runner closed")
	ErrAbandoned = errors.New("tasks abandoned")
)

// closeGrace bounds how long Close waits for running tasks.
const closeGrace = 30 * time.Second

type Runner struct {
	size      int
	sem       *semaphore.Weighted
	mx        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	running   atomic.Int64
	scheduler *Scheduler
}

// DefaultSize is 2*GOMAXPROCS+1 and never less than 4.
func DefaultSize() int {
	return max(2*runtime.GOMAXPROCS(0)+1, 4)
}

// New creates a pool of size workers. Size below one falls back to
// DefaultSize.
func New(size int) *Runner {
	if size < 1 {
		size = DefaultSize()
	}
	return &Runner{
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

func (r *Runner) Size() int {
	return r.size
}

// Scheduler returns the runner's scheduler, starting it on first use.
func (r *Runner) Scheduler() (*Scheduler, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.scheduler == nil {
		s, err := newScheduler()
		if err != nil {
			return nil, fmt.Errorf("initializing scheduler: %w", err)
		}
		r.scheduler = s
	}
	return r.scheduler, nil
}

// Close is Shutdown waiting at most 30s for running tasks.
func (r *Runner) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	return r.Shutdown(ctx)
}

// Shutdown stops accepting new work, waits for the queued and running tasks
// until ctx is done and shuts the scheduler down. Tasks stuck in calls their
// context cannot interrupt are abandoned and reported with ErrAbandoned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mx.Lock()
	if r.closed {
		r.mx.Unlock()
		return nil
	}
	r.closed = true
	r.mx.Unlock()

	var err error
	idle := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		n := r.running.Load()
		slog.WarnContext(ctx, "abandoning running tasks", "tasks", n)
		err = fmt.Errorf("%w: %d still running", ErrAbandoned, n)
	}

	if r.scheduler != nil {
		err = errors.Join(err, r.scheduler.shutdown())
	}
	return err
}

// Supply runs fn and returns its task. With parallelism <= 0 or a nil runner
// fn runs synchronously and the returned task is already complete. A panic in
// fn completes the task with an error.
func Supply[T any](ctx context.Context, r *Runner, parallelism int, fn func(context.Context) (T, error)) *Task[T] {
	t, tctx := newTask[T](ctx)
	if parallelism <= 0 || r == nil {
		t.complete(call(tctx, fn))
		return t
	}

	r.mx.RLock()
	if r.closed {
		r.mx.RUnlock()
		var zero T
		t.complete(zero, ErrClosed)
		return t
	}
	r.wg.Add(1)
	r.running.Add(1)
	r.mx.RUnlock()

	go func() {
		defer r.wg.Done()
		defer r.running.Add(-1)
		if err := r.sem.Acquire(tctx, 1); err != nil {
			var zero T
			t.complete(zero, model.Cancelled("queued task", context.Cause(tctx)))
			return
		}
		defer r.sem.Release(1)
		t.complete(call(tctx, fn))
	}()
	return t
}

// Go runs fn on a goroutine of its own, outside of any runner. It is meant
// for work which may block in calls its context cannot interrupt, such as a
// Read on a caller supplied reader; such a task is awaited with a deadline
// and abandoned when it passes.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	t, tctx := newTask[T](ctx)
	go func() {
		t.complete(call(tctx, fn))
	}()
	return t
}

// Run is Supply for functions without a result.
func Run(ctx context.Context, r *Runner, parallelism int, fn func(context.Context) error) *Task[struct{}] {
	return Supply(ctx, r, parallelism, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}
