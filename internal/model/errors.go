package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnavailable   = errors.New("command unavailable")
	ErrTimeout       = errors.New("timed out")
	ErrInterrupted   = errors.New("interrupted")
	ErrProcessFailed = errors.New("process failed")
	ErrCancelled     = errors.New("cancelled")

	ErrEmptyGroup    = errors.New("query group produced no results")
	ErrUnknownPolicy = errors.New("unknown result policy")
	ErrNoSource      = errors.New("no query source")
	// ErrQueryFailed is all a caller gets from a failed parallel batch, the
	// details are in the log.
	ErrQueryFailed = errors.New("query failed, please check logs for details")
)

// Kind classifies execution failures.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindUnavailable
	KindTimeout
	KindInterrupted
	KindProcessFailure
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindInterrupted:
		return "interrupted"
	case KindProcessFailure:
		return "process_failure"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnavailable:
		return ErrUnavailable
	case KindTimeout:
		return ErrTimeout
	case KindInterrupted:
		return ErrInterrupted
	case KindProcessFailure:
		return ErrProcessFailed
	case KindCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// ExecError is the tagged error returned by the async, pipe and process
// packages. errors.Is matches both the sentinel of its Kind and the wrapped Err.
type ExecError struct {
	Kind     Kind
	Op       string
	Elapsed  time.Duration // KindTimeout
	Budget   time.Duration // KindTimeout
	ExitCode int           // KindProcessFailure
	Stderr   string        // KindProcessFailure
	Err      error
}

func (e *ExecError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	switch e.Kind {
	case KindTimeout:
		fmt.Fprintf(&sb, "timed out after %s (budget %s)", e.Elapsed.Round(time.Millisecond), e.Budget)
	case KindProcessFailure:
		fmt.Fprintf(&sb, "exit code %d", e.ExitCode)
		if e.Stderr != "" {
			sb.WriteString(": ")
			sb.WriteString(strings.TrimSpace(e.Stderr))
		}
	default:
		sb.WriteString(e.Kind.sentinel().Error())
	}
	if e.Err != nil && e.Kind != KindProcessFailure {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ExecError) Unwrap() []error {
	ret := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		ret = append(ret, s)
	}
	if e.Err != nil {
		ret = append(ret, e.Err)
	}
	return ret
}

func Unavailable(op string, err error) error {
	return &ExecError{Kind: KindUnavailable, Op: op, Err: err}
}

func Timeout(op string, elapsed, budget time.Duration) error {
	return &ExecError{Kind: KindTimeout, Op: op, Elapsed: elapsed, Budget: budget}
}

func Interrupted(op string, err error) error {
	return &ExecError{Kind: KindInterrupted, Op: op, Err: err}
}

func ProcessFailure(op string, exitCode int, stderr string) error {
	return &ExecError{Kind: KindProcessFailure, Op: op, ExitCode: exitCode, Stderr: stderr}
}

func Cancelled(op string, err error) error {
	return &ExecError{Kind: KindCancelled, Op: op, Err: err}
}

// KindOf returns the Kind of the first ExecError in err's tree. Bare context
// errors are reported as KindInterrupted.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindInterrupted
	}
	return KindUnknown
}
