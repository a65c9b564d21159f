//go:build unix

package process_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jdbcx/jdbcx/internal/async"
	"github.com/jdbcx/jdbcx/internal/model"
	"github.com/jdbcx/jdbcx/internal/process"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func requireBinary(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("skipped, binary %s not available: %v", name, err)
		}
	}
}

func newExecutor(t *testing.T, cfg process.Config) *process.Executor {
	t.Helper()
	r := async.New(4)
	t.Cleanup(func() { require.NoError(t, r.Close()) })
	if cfg.Cache == nil {
		cfg.Cache = process.NewLivenessCache(16, time.Minute)
	}
	e, err := process.New(t.Context(), cfg, r)
	require.NoError(t, err)
	return e
}

// script writes an executable shell script into dir.
func script(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func requireNotAlive(t *testing.T, pid int) {
	t.Helper()
	err := unix.Kill(pid, 0)
	require.ErrorIs(t, err, unix.ESRCH, "process %d is still alive", pid)
}

func TestEcho(t *testing.T) {
	requireBinary(t, "echo")
	e := newExecutor(t, process.Config{Command: "echo"})
	require.Equal(t, []string{"echo"}, e.Command())

	out, err := e.Execute(t.Context(), process.Request{}, "o", " ", "k")
	require.NoError(t, err)
	require.Equal(t, "o k", strings.TrimSpace(string(out.Stdout)))
	require.Zero(t, out.ExitCode)
	require.Equal(t, []string{"echo", "o", "k"}, out.Command)
	require.Positive(t, out.Elapsed)
}

func TestProcessFailure(t *testing.T) {
	requireBinary(t, "ls")
	e := newExecutor(t, process.Config{Command: "ls"})

	out, err := e.Execute(t.Context(), process.Request{Timeout: 10 * time.Second}, "|")
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrProcessFailed)
	var execErr *model.ExecError
	require.ErrorAs(t, err, &execErr)
	require.NotZero(t, execErr.ExitCode)
	require.Equal(t, execErr.ExitCode, out.ExitCode)
	require.NotEmpty(t, execErr.Stderr)
	require.Equal(t, execErr.Stderr, out.Stderr)
}

func TestFailureWithoutStderr(t *testing.T) {
	requireBinary(t, "sh")
	e := newExecutor(t, process.Config{Command: "sh"})
	_, err := e.Execute(t.Context(), process.Request{}, "-c", "exit 3")
	require.ErrorIs(t, err, model.ErrProcessFailed)
	require.EqualError(t, err, "exec sh: exit code 3")
}

func TestStderr(t *testing.T) {
	requireBinary(t, "sh")
	e := newExecutor(t, process.Config{Command: "sh"})
	const cmd = "echo out; echo err 1>&2"

	t.Run("captured", func(t *testing.T) {
		out, err := e.Execute(t.Context(), process.Request{}, "-c", cmd)
		require.NoError(t, err)
		require.Equal(t, "out\n", string(out.Stdout))
		require.Equal(t, "err\n", out.Stderr)
	})

	t.Run("redirected", func(t *testing.T) {
		out, err := e.Execute(t.Context(), process.Request{RedirectStderr: true}, "-c", cmd)
		require.NoError(t, err)
		require.Equal(t, "out\nerr\n", string(out.Stdout))
		require.Empty(t, out.Stderr)
	})
}

func TestInputOutput(t *testing.T) {
	requireBinary(t, "cat")
	e := newExecutor(t, process.Config{Command: "cat"})
	large := strings.Repeat("jdbcx\n", 100_000)

	for _, parallelism := range []int{0, 1, 2} {
		t.Run("parallelism "+string(rune('0'+parallelism)), func(t *testing.T) {
			var testCases = []struct {
				scenario string
				input    any
				then     string
			}{
				{"string", "hello", "hello"},
				{"bytes", []byte("bytes"), "bytes"},
				{"buffer", bytes.NewBufferString("buffer"), "buffer"},
				{"reader", strings.NewReader("reader"), "reader"},
				{"stringer", 42, "42"},
				{"none", nil, ""},
			}
			for _, tc := range testCases {
				t.Run(tc.scenario, func(t *testing.T) {
					var sb strings.Builder
					req := process.Request{
						Parallelism: parallelism,
						Timeout:     10 * time.Second,
						Input:       tc.input,
						Output:      &sb,
					}
					_, err := e.Execute(t.Context(), req)
					require.NoError(t, err)
					require.Equal(t, tc.then, sb.String())
				})
			}
		})
	}

	t.Run("echo large input concurrently", func(t *testing.T) {
		var out []byte
		req := process.Request{
			Parallelism: 2,
			Timeout:     30 * time.Second,
			Input:       large,
			Output:      &out,
		}
		_, err := e.Execute(t.Context(), req)
		require.NoError(t, err)
		require.Equal(t, len(large), len(out))
	})
}

func TestFileEndpoints(t *testing.T) {
	requireBinary(t, "cat")
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(in, []byte("from file"), 0o644))
	outPath := filepath.Join(dir, "out.txt")

	e := newExecutor(t, process.Config{Command: "cat"})
	res, err := e.Execute(t.Context(), process.Request{
		Input:  process.File(in),
		Output: process.File(outPath),
	})
	require.NoError(t, err)
	require.Nil(t, res.Stdout)
	b, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, "from file", string(b))

	f, err := os.Open(in)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	res, err = e.Execute(t.Context(), process.Request{Input: f})
	require.NoError(t, err)
	require.Equal(t, "from file", string(res.Stdout))

	_, err = e.Execute(t.Context(), process.Request{Input: process.File(filepath.Join(dir, "missing"))})
	require.ErrorContains(t, err, "opening input")

	_, err = e.Execute(t.Context(), process.Request{Output: 42})
	require.ErrorContains(t, err, "unsupported output int")
}

func TestWorkDir(t *testing.T) {
	requireBinary(t, "pwd")
	dir := t.TempDir()
	e := newExecutor(t, process.Config{Command: "pwd"})
	out, err := e.Execute(t.Context(), process.Request{WorkDir: dir})
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(string(out.Stdout)))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestCharset(t *testing.T) {
	requireBinary(t, "cat")
	e := newExecutor(t, process.Config{Command: "cat"})

	var raw []byte
	_, err := e.Execute(t.Context(), process.Request{
		Input:        "café",
		InputCharset: "ISO-8859-1",
		Output:       &raw,
	})
	require.NoError(t, err)
	require.Equal(t, []byte{'c', 'a', 'f', 0xe9}, raw)

	var sb strings.Builder
	_, err = e.Execute(t.Context(), process.Request{
		Input:         raw,
		Output:        &sb,
		OutputCharset: "ISO-8859-1",
	})
	require.NoError(t, err)
	require.Equal(t, "café", sb.String())

	_, err = e.Execute(t.Context(), process.Request{Input: "x", InputCharset: "nope"})
	require.ErrorContains(t, err, "unsupported charset")
}

func TestTimeout(t *testing.T) {
	requireBinary(t, "sleep", "sh")
	var testCases = []struct {
		scenario string
		command  string
		probe    []string
		args     []string
		req      process.Request
	}{
		{
			scenario: "blocked on stdout",
			command:  "sleep",
			probe:    []string{"0"},
			args:     []string{"10"},
			req:      process.Request{Timeout: 300 * time.Millisecond},
		},
		{
			scenario: "blocked on stdout async",
			command:  "sleep",
			probe:    []string{"0"},
			args:     []string{"10"},
			req:      process.Request{Timeout: 300 * time.Millisecond, Parallelism: 2},
		},
		{
			scenario: "blocked on exit",
			command:  "sleep",
			probe:    []string{"0"},
			args:     []string{"10"},
			req:      process.Request{Timeout: 300 * time.Millisecond, Output: process.File(filepath.Join(t.TempDir(), "out"))},
		},
		{
			scenario: "never reading stdin",
			command:  "sh",
			args:     []string{"-c", "sleep 10"},
			req:      process.Request{Timeout: 300 * time.Millisecond, Parallelism: 1, Input: strings.Repeat("x", 1<<20)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			e := newExecutor(t, process.Config{Command: tc.command, TestArgs: tc.probe})
			start := time.Now()
			_, err := e.Execute(t.Context(), tc.req, tc.args...)
			elapsed := time.Since(start)
			require.ErrorIs(t, err, model.ErrTimeout)
			require.Equal(t, model.KindTimeout, model.KindOf(err))
			require.Less(t, elapsed, tc.req.Timeout+3*time.Second)
		})
	}
}

func TestTimeout_BlockingReader(t *testing.T) {
	requireBinary(t, "cat")
	const timeout = 300 * time.Millisecond

	for _, parallelism := range []int{0, 1} {
		t.Run("parallelism "+strconv.Itoa(parallelism), func(t *testing.T) {
			e := newExecutor(t, process.Config{Command: "cat"})
			// a reader nobody writes to, released before the runner is closed
			pr, pw := io.Pipe()
			t.Cleanup(func() { _ = pw.Close() })

			start := time.Now()
			_, err := e.Execute(t.Context(), process.Request{
				Input:       pr,
				Timeout:     timeout,
				Parallelism: parallelism,
			})
			elapsed := time.Since(start)
			require.ErrorIs(t, err, model.ErrTimeout)
			require.Less(t, elapsed, timeout+250*time.Millisecond)
		})
	}
}

func TestInterrupted(t *testing.T) {
	requireBinary(t, "sleep")
	e := newExecutor(t, process.Config{Command: "sleep", TestArgs: []string{"0"}})
	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	_, err := e.Execute(ctx, process.Request{}, "10")
	require.ErrorIs(t, err, model.ErrInterrupted)
}

func TestDryRun(t *testing.T) {
	e := newExecutor(t, process.Config{Command: "no-such-command-jdbcx --flag", DryRun: true})
	require.Equal(t, []string{"no-such-command-jdbcx", "--flag"}, e.Command())

	out, err := e.Execute(t.Context(), process.Request{
		Parallelism: 2,
		Timeout:     1500 * time.Millisecond,
		Input:       "select 1",
	}, "a", "", "b")
	require.NoError(t, err)
	require.NotNil(t, out.DryRun)
	require.Equal(t, 1, out.DryRun.Len())
	row := out.DryRun.Rows[0]
	require.Equal(t, "no-such-command-jdbcx --flag", row[0])
	require.Equal(t, "a b", row[1])
	require.Equal(t, "text(8)", row[2])
	require.Contains(t, row[3], "output=none")
	require.Equal(t, int64(2), row[4])
	require.Equal(t, int64(1500), row[5])
}

func TestNotAliveAfterExecute(t *testing.T) {
	requireBinary(t, "sh")
	dir := t.TempDir()
	e := newExecutor(t, process.Config{Command: "sh"})

	var testCases = []struct {
		scenario string
		args     []string
		req      process.Request
	}{
		{"success", []string{"-c", "echo $$ > " + filepath.Join(dir, "success")}, process.Request{}},
		{"failure", []string{"-c", "echo $$ > " + filepath.Join(dir, "failure") + "; exit 2"}, process.Request{}},
		{"timeout", []string{"-c", "echo $$ > " + filepath.Join(dir, "timeout") + "; exec sleep 10"}, process.Request{Timeout: 500 * time.Millisecond}},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, _ = e.Execute(t.Context(), tc.req, tc.args...)
			b, err := os.ReadFile(filepath.Join(dir, tc.scenario))
			require.NoError(t, err)
			pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
			require.NoError(t, err)
			require.Positive(t, pid)
			requireNotAlive(t, pid)
		})
	}
}

func TestLivenessCache(t *testing.T) {
	requireBinary(t, "sh")
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	ok := script(t, dir, "ok.sh", "echo run >> "+counter)
	bad := script(t, dir, "bad.sh", "echo run >> "+counter+"\nexit 1")

	lines := func() int {
		b, err := os.ReadFile(counter)
		if errors.Is(err, os.ErrNotExist) {
			return 0
		}
		require.NoError(t, err)
		return strings.Count(string(b), "\n")
	}

	cache := process.NewLivenessCache(4, time.Minute)
	tokens := []string{bad}
	require.False(t, cache.Probe(t.Context(), time.Second, tokens))
	require.False(t, cache.Probe(t.Context(), time.Second, tokens))
	require.Equal(t, 2, lines(), "failures must be probed again")
	require.Zero(t, cache.Len())

	tokens = []string{ok}
	require.True(t, cache.Probe(t.Context(), time.Second, tokens, "-v"))
	require.True(t, cache.Probe(t.Context(), time.Second, tokens, "-v"))
	require.Equal(t, 3, lines(), "successes are cached")
	require.True(t, cache.Alive(ok+" -v"))
	require.Equal(t, 1, cache.Len())

	// different args is a different key
	require.True(t, cache.Probe(t.Context(), time.Second, tokens))
	require.Equal(t, 4, lines())

	expired := process.NewLivenessCache(4, time.Nanosecond)
	require.True(t, expired.Probe(t.Context(), time.Second, tokens))
	time.Sleep(time.Millisecond)
	require.False(t, expired.Alive(ok))
	require.True(t, expired.Probe(t.Context(), time.Second, tokens))
	require.Equal(t, 6, lines())
}

func TestProbeTimeout(t *testing.T) {
	requireBinary(t, "sleep")
	cache := process.NewLivenessCache(4, time.Minute)
	start := time.Now()
	require.False(t, cache.Probe(t.Context(), 200*time.Millisecond, []string{"sleep"}, "10"))
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestResolve(t *testing.T) {
	requireBinary(t, "sh")
	dir := t.TempDir()
	// a fake container cli which runs the wrapped command itself
	fakeCLI := script(t, dir, "fakectl", `case "$1" in
--version) exit 0 ;;
pull) exit 0 ;;
run) shift 4; echo "in container: $*" ;;
*) exit 1 ;;
esac`)
	brokenCLI := script(t, dir, "brokenctl", `case "$1" in
--version) exit 0 ;;
*) exit 1 ;;
esac`)

	type then struct {
		command []string
		err     error
	}
	var testCases = []struct {
		scenario string
		given    process.Config
		then     then
	}{
		{
			scenario: "direct",
			given:    process.Config{Command: "  sh  -c  ", TestArgs: []string{"exit 0"}},
			then:     then{command: []string{"sh", "-c"}},
		},
		{
			scenario: "unresolvable without image",
			given:    process.Config{Command: "no-such-command-jdbcx"},
			then:     then{err: model.ErrUnavailable},
		},
		{
			scenario: "empty command",
			given:    process.Config{Command: "   "},
			then:     then{err: model.ErrUnavailable},
		},
		{
			scenario: "container fallback",
			given:    process.Config{Command: "no-such-command-jdbcx", Image: "alpine:3", ContainerCLI: fakeCLI},
			then:     then{command: []string{fakeCLI, "run", "--rm", "-i", "alpine:3", "no-such-command-jdbcx"}},
		},
		{
			scenario: "image not pullable",
			given:    process.Config{Command: "no-such-command-jdbcx", Image: "alpine:3", ContainerCLI: brokenCLI},
			then:     then{err: model.ErrUnavailable},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			tc.given.Cache = process.NewLivenessCache(8, time.Minute)
			command, err := process.Resolve(t.Context(), tc.given)
			if tc.then.err != nil {
				require.ErrorIs(t, err, tc.then.err)
				require.Nil(t, command)
				_, err = process.New(t.Context(), tc.given, nil)
				require.ErrorIs(t, err, tc.then.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then.command, command)
		})
	}

	t.Run("execute in container", func(t *testing.T) {
		e := newExecutor(t, process.Config{Command: "no-such-command-jdbcx", Image: "alpine:3", ContainerCLI: fakeCLI})
		out, err := e.Execute(t.Context(), process.Request{}, "--answer", "42")
		require.NoError(t, err)
		require.Equal(t, "in container: no-such-command-jdbcx --answer 42\n", string(out.Stdout))
	})
}

func TestResolveDefaultCLI(t *testing.T) {
	dir := t.TempDir()
	script(t, dir, "podman", `case "$1" in
--version|pull) exit 0 ;;
*) exit 1 ;;
esac`)
	t.Setenv("PATH", dir)

	command, err := process.Resolve(t.Context(), process.Config{
		Command: "no-such-command-jdbcx",
		Image:   "alpine:3",
		Cache:   process.NewLivenessCache(8, time.Minute),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"podman", "run", "--rm", "-i", "alpine:3", "no-such-command-jdbcx"}, command)
}

func TestFromModel(t *testing.T) {
	cfg, req := process.FromModel(model.Process{
		Command:        "psql -X",
		TestArgs:       []string{"--version"},
		ProbeTimeoutMS: 100,
		Container:      &model.Container{Image: "postgres:17", CLI: "podman"},
		Parallelism:    2,
		TimeoutMS:      2500,
		WorkDir:        "/tmp",
		InputCharset:   "UTF-8",
		RedirectStderr: true,
	})
	require.Equal(t, "psql -X", cfg.Command)
	require.Equal(t, 100*time.Millisecond, cfg.ProbeTimeout)
	require.Zero(t, cfg.PullTimeout)
	require.Equal(t, "postgres:17", cfg.Image)
	require.Equal(t, "podman", cfg.ContainerCLI)
	require.Equal(t, 2, req.Parallelism)
	require.Equal(t, 2500*time.Millisecond, req.Timeout)
	require.True(t, req.RedirectStderr)
	require.Equal(t, "/tmp", req.WorkDir)
}
