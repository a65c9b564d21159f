// Package process runs an external command with its stdin and stdout wired
// to arbitrary endpoints, bounded by a single deadline per call.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jdbcx/jdbcx/internal/async"
	"github.com/jdbcx/jdbcx/internal/log"
	"github.com/jdbcx/jdbcx/internal/model"
	"github.com/jdbcx/jdbcx/internal/pipe"
	"github.com/jdbcx/jdbcx/internal/result"
)

const (
	waitDelay  = time.Second
	drainGrace = time.Second
	// pumps on closed pipe ends get this long once the deadline passed
	settleGrace = 20 * time.Millisecond
)

// Request holds the per call options of Execute.
type Request struct {
	// Parallelism <= 0 copies stdin and stdout on the calling goroutine, 1
	// runs one copy on the runner and waits for it, N runs up to N copies
	// concurrently.
	Parallelism    int
	RedirectStderr bool
	// Timeout <= 0 disables the deadline.
	Timeout time.Duration
	WorkDir string
	// Input is nil, File, *os.File, []byte, *bytes.Buffer, io.Reader or a
	// value written as text in InputCharset.
	Input        any
	InputCharset string
	// Output is nil (captured in Outcome.Stdout), File, *os.File,
	// *strings.Builder (decoded from OutputCharset), *[]byte or io.Writer.
	Output        any
	OutputCharset string
}

type Outcome struct {
	Command  []string
	ExitCode int
	Stdout   []byte
	Stderr   string
	Elapsed  time.Duration
	// DryRun describes the call instead of running it.
	DryRun *result.Result
}

type Executor struct {
	command []string
	dryRun  bool
	runner  *async.Runner
}

// New resolves the configured command once. In dry-run mode nothing is
// probed and the command is used as configured.
func New(ctx context.Context, cfg Config, runner *async.Runner) (*Executor, error) {
	if cfg.DryRun {
		tokens := Tokens(cfg.Command)
		if len(tokens) == 0 {
			return nil, model.Unavailable("resolve", errors.New("empty command"))
		}
		return &Executor{command: tokens, dryRun: true, runner: runner}, nil
	}
	command, err := Resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Executor{command: command, runner: runner}, nil
}

// Command returns the resolved command.
func (e *Executor) Command() []string {
	return slices.Clone(e.command)
}

// Execute runs the resolved command followed by the non-blank args. A non-zero
// exit code fails with the captured stderr. Exceeding req.Timeout kills the
// process. The process is never left running when Execute returns.
func (e *Executor) Execute(ctx context.Context, req Request, args ...string) (Outcome, error) {
	args = nonBlank(args)
	tokens := slices.Concat(e.command, args)
	ctx = log.ContextAttrs(ctx,
		slog.String("exec_id", uuid.NewString()),
		slog.String("command", tokens[0]),
	)

	if e.dryRun {
		r := dryRun(e.command, args, req)
		return Outcome{Command: tokens, DryRun: &r}, nil
	}

	c := &call{
		runner: e.runner,
		req:    req,
		tokens: tokens,
		op:     "exec " + tokens[0],
	}
	return c.run(ctx)
}

type pumpTask struct {
	task    *async.Task[int64]
	input   bool
	settled bool
}

// call is the state of one Execute.
type call struct {
	runner *async.Runner
	req    Request
	tokens []string
	op     string
	start  time.Time

	in      input
	out     output
	stdinW  *os.File // parent end of stdin pipe
	stdoutR *os.File // parent end of stdout pipe
	stderr  bytes.Buffer

	cmd    *exec.Cmd
	exited chan error
	waited bool

	pumpCtx     context.Context
	cancelPumps context.CancelCauseFunc
	pumps       []*pumpTask

	expired atomic.Bool
}

func (c *call) run(ctx context.Context) (ret Outcome, err error) {
	c.start = time.Now()
	ret.Command = c.tokens
	defer func() {
		ret.Elapsed = time.Since(c.start)
	}()

	if c.in, err = openInput(c.req.Input, c.req.InputCharset); err != nil {
		return ret, err
	}
	defer c.in.close()
	if c.out, err = openOutput(c.req.Output, c.req.OutputCharset); err != nil {
		return ret, err
	}
	defer func() {
		if cerr := c.out.close(); cerr != nil && err == nil {
			err = fmt.Errorf("%s: closing output: %w", c.op, cerr)
		}
	}()

	c.pumpCtx, c.cancelPumps = context.WithCancelCause(ctx)
	if err := c.startProcess(ctx); err != nil {
		c.cancelPumps(nil)
		return ret, err
	}
	defer c.cleanup(ctx)
	if c.req.Timeout > 0 {
		deadline := time.AfterFunc(c.req.Timeout-time.Since(c.start), func() {
			c.expire(ctx)
		})
		defer deadline.Stop()
	}

	if err := c.pumpAll(ctx); err != nil {
		return ret, err
	}

	ret.ExitCode, err = c.waitExit(ctx)
	if c.waited {
		ret.Stderr = c.stderr.String()
	}
	if err != nil {
		return ret, err
	}
	if c.out.buf != nil {
		ret.Stdout = c.out.buf.Bytes()
	}
	return ret, nil
}

func (c *call) startProcess(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.tokens[0], c.tokens[1:]...)
	cmd.Dir = c.req.WorkDir
	cmd.WaitDelay = waitDelay

	var childEnds []*os.File
	fail := func(err error) error {
		closeFiles(childEnds...)
		closeFiles(c.stdinW, c.stdoutR)
		c.stdinW, c.stdoutR = nil, nil
		return err
	}

	switch {
	case c.in.file != nil:
		cmd.Stdin = c.in.file
	case c.in.reader != nil:
		r, w, err := os.Pipe()
		if err != nil {
			return fail(fmt.Errorf("%s: creating stdin pipe: %w", c.op, err))
		}
		cmd.Stdin = r
		childEnds = append(childEnds, r)
		c.stdinW = w
	}

	stdout := c.out.file
	if stdout == nil {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(fmt.Errorf("%s: creating stdout pipe: %w", c.op, err))
		}
		stdout = w
		childEnds = append(childEnds, w)
		c.stdoutR = r
	}
	cmd.Stdout = stdout
	if c.req.RedirectStderr {
		// same descriptor, the streams are merged by the OS
		cmd.Stderr = stdout
	} else {
		cmd.Stderr = &c.stderr
	}

	if c.req.Timeout > 0 {
		deadline := c.start.Add(c.req.Timeout)
		if c.stdinW != nil {
			if err := c.stdinW.SetWriteDeadline(deadline); err != nil {
				slog.DebugContext(ctx, "stdin deadline not supported", "error", err)
			}
		}
		if c.stdoutR != nil {
			if err := c.stdoutR.SetReadDeadline(deadline); err != nil {
				slog.DebugContext(ctx, "stdout deadline not supported", "error", err)
			}
		}
	}

	if err := cmd.Start(); err != nil {
		return fail(model.Unavailable(c.op, err))
	}
	// the child has its own copies now
	closeFiles(childEnds...)

	c.cmd = cmd
	c.exited = make(chan error, 1)
	go func() {
		c.exited <- cmd.Wait()
	}()
	slog.DebugContext(ctx, "process started",
		"pid", cmd.Process.Pid,
		"args", c.tokens[1:],
		"parallelism", c.req.Parallelism,
		"timeout", c.req.Timeout,
	)
	return nil
}

// pumpAll schedules the stdin copy before the stdout copy. The parallelism
// budget is consumed greedily, once it drops to zero the call waits for the
// copy it just scheduled.
//
// With a deadline, a reader that is not in memory is never read on the
// calling goroutine: its Read may block beyond any deadline, so the copy is
// detached and awaited instead.
func (c *call) pumpAll(ctx context.Context) error {
	budget := c.req.Parallelism
	if c.stdinW != nil {
		p := &pumpTask{input: true}
		if budget <= 0 && c.req.Timeout > 0 && !c.in.memory {
			p.task = pipe.Detach(c.pumpCtx, c.stdinW, c.in.reader, c.stdinW)
			c.pumps = append(c.pumps, p)
			if err := c.await(ctx, p); err != nil {
				return err
			}
		} else {
			p.task = pipe.Pump(c.pumpCtx, c.runner, budget, c.stdinW, c.in.reader, c.stdinW)
			c.pumps = append(c.pumps, p)
			if err := c.settle(ctx, p, &budget); err != nil {
				return err
			}
		}
	}
	if c.stdoutR != nil {
		p := &pumpTask{}
		p.task = pipe.Pump(c.pumpCtx, c.runner, budget, c.out.writer, c.stdoutR)
		c.pumps = append(c.pumps, p)
		if err := c.settle(ctx, p, &budget); err != nil {
			return err
		}
	}

	for _, p := range c.pumps {
		if p.settled {
			continue
		}
		if err := c.await(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (c *call) settle(ctx context.Context, p *pumpTask, budget *int) error {
	if *budget <= 0 {
		// ran on this goroutine
		p.settled = true
		return c.pumpErr(ctx, p, p.task.Err())
	}
	*budget--
	if *budget == 0 {
		return c.await(ctx, p)
	}
	return nil
}

func (c *call) await(ctx context.Context, p *pumpTask) error {
	p.settled = true
	_, err := async.Await(ctx, p.task, c.start, c.req.Timeout)
	return c.pumpErr(ctx, p, err)
}

func (c *call) pumpErr(ctx context.Context, p *pumpTask, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return model.Interrupted(c.op, context.Cause(ctx))
	case c.expired.Load():
		c.cancelAll(ctx)
		return model.Timeout(c.op, time.Since(c.start), c.req.Timeout)
	case p.input && errors.Is(err, syscall.EPIPE):
		slog.DebugContext(ctx, "process closed stdin before reading all input", "error", err)
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded), model.KindOf(err) == model.KindTimeout:
		c.cancelAll(ctx)
		return model.Timeout(c.op, time.Since(c.start), c.req.Timeout)
	case model.KindOf(err) == model.KindInterrupted:
		return err
	default:
		return fmt.Errorf("%s: pipe: %w", c.op, err)
	}
}

func (c *call) cancelAll(ctx context.Context) {
	c.cancelPumps(model.ErrCancelled)
	async.CancelAll(ctx, c.handles()...)
}

func (c *call) handles() []async.Handle {
	ret := make([]async.Handle, 0, len(c.pumps))
	for _, p := range c.pumps {
		ret = append(ret, p.task)
	}
	return ret
}

// waitExit waits for the process within what is left of the deadline.
func (c *call) waitExit(ctx context.Context) (int, error) {
	var timeout <-chan time.Time
	if c.req.Timeout > 0 {
		remaining := c.req.Timeout - time.Since(c.start)
		if remaining <= 0 {
			select {
			case err := <-c.exited:
				return c.exit(ctx, err)
			default:
			}
			c.cancelAll(ctx)
			return -1, model.Timeout(c.op, time.Since(c.start), c.req.Timeout)
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-c.exited:
		return c.exit(ctx, err)
	case <-timeout:
		c.kill(ctx)
		return -1, model.Timeout(c.op, time.Since(c.start), c.req.Timeout)
	case <-ctx.Done():
		return -1, model.Interrupted(c.op, context.Cause(ctx))
	}
}

func (c *call) exit(ctx context.Context, waitErr error) (int, error) {
	c.waited = true
	code := -1
	if c.cmd.ProcessState != nil {
		code = c.cmd.ProcessState.ExitCode()
	}
	if err := ctx.Err(); err != nil {
		return code, model.Interrupted(c.op, context.Cause(ctx))
	}
	if c.expired.Load() {
		return code, model.Timeout(c.op, time.Since(c.start), c.req.Timeout)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
		case errors.Is(waitErr, exec.ErrWaitDelay):
			slog.WarnContext(ctx, "process left its output open after exit", "error", waitErr)
		default:
			return code, fmt.Errorf("%s: waiting for process: %w", c.op, waitErr)
		}
	}

	stderr := c.stderr.String()
	if code != 0 {
		slog.DebugContext(ctx, "process failed", "exit_code", code, "stderr", stderr)
		return code, model.ProcessFailure(c.op, code, stderr)
	}
	if strings.TrimSpace(stderr) != "" {
		slog.WarnContext(ctx, "process succeeded with output on stderr", "stderr", stderr)
	}
	slog.DebugContext(ctx, "process finished", "elapsed", time.Since(c.start))
	return code, nil
}

func (c *call) kill(ctx context.Context) {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.WarnContext(ctx, "killing process", "pid", c.cmd.Process.Pid, "error", err)
	}
}

// expire runs when the deadline passes, whatever the call is blocked on. It
// fires both abort signals at once: the pumps are cancelled and their pipe
// ends closed, and the process is killed.
func (c *call) expire(ctx context.Context) {
	c.expired.Store(true)
	slog.DebugContext(ctx, "deadline passed", "timeout", c.req.Timeout)
	c.cancelPumps(model.ErrTimeout)
	closeFiles(c.stdinW, c.stdoutR)
	c.kill(ctx)
}

// cleanup fires both abort signals: the pumps are cancelled and their pipe
// ends closed, and the process is killed and reaped. Pumps get what is left
// of the deadline to finish, a pump blocked on the caller's reader is
// abandoned.
func (c *call) cleanup(ctx context.Context) {
	c.cancelPumps(model.ErrCancelled)
	if !c.waited {
		c.kill(ctx)
		<-c.exited
		c.waited = true
	}
	closeFiles(c.stdinW, c.stdoutR)
	async.CancelAll(ctx, c.handles()...)

	grace := drainGrace
	if c.req.Timeout > 0 {
		grace = max(min(grace, c.req.Timeout-time.Since(c.start)), settleGrace)
	}
	async.Drain(context.WithoutCancel(ctx), grace, c.handles()...)
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

func dryRun(command, args []string, req Request) result.Result {
	r := result.New(
		result.Field{Name: "command", Type: result.TypeString},
		result.Field{Name: "args", Type: result.TypeString},
		result.Field{Name: "input", Type: result.TypeString},
		result.Field{Name: "options", Type: result.TypeString},
		result.Field{Name: "parallelism", Type: result.TypeInt},
		result.Field{Name: "timeout_ms", Type: result.TypeInt},
	)
	options := fmt.Sprintf("output=%s redirect_stderr=%t workdir=%q input_charset=%q output_charset=%q",
		describe(req.Output), req.RedirectStderr, req.WorkDir, req.InputCharset, req.OutputCharset)
	r.Append(
		strings.Join(command, " "),
		strings.Join(args, " "),
		describe(req.Input),
		options,
		int64(req.Parallelism),
		req.Timeout.Milliseconds(),
	)
	return r
}
