package async

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdbcx/jdbcx/internal/model"
)

// Handle is the type-erased view of a Task used by CancelAll and Drain.
type Handle interface {
	Done() <-chan struct{}
	Completed() bool
	Cancel()
	Err() error
}

// Task is the pending result of a function submitted with Supply or Run.
// All methods are safe on a nil *Task, which behaves as a completed task
// without a value.
type Task[T any] struct {
	done   chan struct{}
	cancel context.CancelCauseFunc
	value  T
	err    error
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func newTask[T any](ctx context.Context) (*Task[T], context.Context) {
	tctx, cancel := context.WithCancelCause(ctx)
	return &Task[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}, tctx
}

func (t *Task[T]) complete(value T, err error) {
	t.value, t.err = value, err
	close(t.done)
	t.cancel(nil)
}

// Done is closed once the task completes.
func (t *Task[T]) Done() <-chan struct{} {
	if t == nil {
		return closedChan
	}
	return t.done
}

func (t *Task[T]) Completed() bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

// Cancel asks the task to stop by cancelling its context. It does not wait.
func (t *Task[T]) Cancel() {
	if t == nil {
		return
	}
	t.cancel(model.ErrCancelled)
}

// Err returns the task error, or nil while the task is running.
func (t *Task[T]) Err() error {
	if t == nil || !t.Completed() {
		return nil
	}
	return t.err
}

// Result blocks until the task completes.
func (t *Task[T]) Result() (T, error) {
	if t == nil {
		var zero T
		return zero, nil
	}
	<-t.done
	return t.value, t.err
}

// Await waits for t to complete within timeout measured from start. A
// non-positive timeout waits without a deadline. When the deadline passes
// the task is cancelled and a timeout error is returned. Errors of the task
// itself are returned unchanged.
func Await[T any](ctx context.Context, t *Task[T], start time.Time, timeout time.Duration) (T, error) {
	var zero T
	if t == nil {
		return zero, nil
	}

	if timeout <= 0 {
		select {
		case <-t.done:
			return t.value, t.err
		case <-ctx.Done():
			t.Cancel()
			return zero, model.Interrupted("await", context.Cause(ctx))
		}
	}

	remaining := timeout - time.Since(start)
	if remaining <= 0 {
		select {
		case <-t.done:
			return t.value, t.err
		default:
		}
		t.Cancel()
		return zero, model.Timeout("await", time.Since(start), timeout)
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-t.done:
		return t.value, t.err
	case <-timer.C:
		// the task may have finished in the same instant
		select {
		case <-t.done:
			return t.value, t.err
		default:
		}
		t.Cancel()
		return zero, model.Timeout("await", time.Since(start), timeout)
	case <-ctx.Done():
		t.Cancel()
		return zero, model.Interrupted("await", context.Cause(ctx))
	}
}

// CancelAll cancels every running handle. Errors of the completed ones are
// only logged.
func CancelAll(ctx context.Context, handles ...Handle) {
	for i, h := range handles {
		if h == nil {
			continue
		}
		if h.Completed() {
			if err := h.Err(); err != nil {
				slog.DebugContext(ctx, "completed task failed", "task", i, "error", err)
			}
			continue
		}
		h.Cancel()
	}
}

// Drain waits up to grace for all handles to complete and reports how many
// did not.
func Drain(ctx context.Context, grace time.Duration, handles ...Handle) int {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	for _, h := range handles {
		if h == nil {
			continue
		}
		select {
		case <-h.Done():
		case <-timer.C:
			pending := countPending(handles)
			slog.WarnContext(ctx, "tasks still running after grace period", "pending", pending, "grace", grace)
			return pending
		case <-ctx.Done():
			return countPending(handles)
		}
	}
	return 0
}

func countPending(handles []Handle) int {
	n := 0
	for _, h := range handles {
		if h != nil && !h.Completed() {
			n++
		}
	}
	return n
}

func call[T any](ctx context.Context, fn func(context.Context) (T, error)) (ret T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return fn(ctx)
}
