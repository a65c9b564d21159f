package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jdbcx/jdbcx/internal/async"
	"github.com/jdbcx/jdbcx/internal/log"
	"github.com/jdbcx/jdbcx/internal/model"
	"github.com/jdbcx/jdbcx/internal/process"
	"github.com/jdbcx/jdbcx/internal/result"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] [-- args...]",
	Short: "exec runs the configured command line tool with the given arguments",
	RunE:  doExec,
}

func init() {
	f := execCmd.Flags()
	f.String("command", "", "command to run, overrides process.command")
	f.StringSlice("test-args", nil, "arguments used to probe the command")
	f.String("image", "", "container image used when the command is not runnable")
	f.String("container-cli", "", "container CLI, docker then podman when empty")
	f.Int("parallelism", 0, "0 copies on the calling goroutine, 1 on one worker, N on up to N workers")
	f.Duration("timeout", 0, "deadline of the whole call, 0 disables it")
	f.String("workdir", "", "working directory of the command")
	f.String("input", "", "file fed to stdin, - for stdin of jdbcx")
	f.String("output", "-", "file receiving stdout, - for stdout of jdbcx")
	f.String("input-charset", "", "charset of the input")
	f.String("output-charset", "", "charset of the output")
	f.Bool("redirect-stderr", false, "merge stderr into the output")
	f.Bool("dry-run", false, "describe the call instead of running it")
	f.StringArrayP("option", "o", nil, "key=value property, may be repeated")
}

func processConfig(cmd *cobra.Command) (model.Process, error) {
	var p model.Process
	if config.Process != nil {
		p = *config.Process
	}
	props, err := properties(cmd)
	if err != nil {
		return p, err
	}
	p, err = p.Apply(props)
	if err != nil {
		return p, err
	}

	if settings.IsSet("command") {
		p.Command = settings.GetString("command")
	}
	if settings.IsSet("test-args") {
		p.TestArgs = settings.GetStringSlice("test-args")
	}
	if settings.IsSet("image") || settings.IsSet("container-cli") {
		var c model.Container
		if p.Container != nil {
			c = *p.Container
		}
		if settings.IsSet("image") {
			c.Image = settings.GetString("image")
		}
		if settings.IsSet("container-cli") {
			c.CLI = settings.GetString("container-cli")
		}
		p.Container = &c
	}
	if settings.IsSet("parallelism") {
		p.Parallelism = settings.GetInt("parallelism")
	}
	if settings.IsSet("timeout") {
		p.TimeoutMS = int(settings.GetDuration("timeout") / time.Millisecond)
	}
	if settings.IsSet("workdir") {
		p.WorkDir = settings.GetString("workdir")
	}
	if settings.IsSet("input-charset") {
		p.InputCharset = settings.GetString("input-charset")
	}
	if settings.IsSet("output-charset") {
		p.OutputCharset = settings.GetString("output-charset")
	}
	if settings.IsSet("redirect-stderr") {
		p.RedirectStderr = settings.GetBool("redirect-stderr")
	}
	if settings.IsSet("dry-run") {
		p.DryRun = settings.GetBool("dry-run")
	}

	if p.Command == "" {
		return p, fmt.Errorf("no command configured, use --command or process.command")
	}
	return p, nil
}

func doExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := processConfig(cmd)
	if err != nil {
		return err
	}

	attrs := slog.Group("jdbcx",
		slog.String("cmd", "exec"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	runner := async.New(async.DefaultSize())
	defer func() {
		if err := runner.Close(); err != nil {
			slog.WarnContext(ctx, "closing runner", "error", err)
		}
	}()

	cfg, req := process.FromModel(p)
	exe, err := process.New(ctx, cfg, runner)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "command resolved", "command", exe.Command())

	switch in := settings.GetString("input"); in {
	case "":
	case "-":
		req.Input = os.Stdin
	default:
		req.Input = process.File(in)
	}
	switch out := settings.GetString("output"); out {
	case "", "-":
		req.Output = os.Stdout
	default:
		req.Output = process.File(out)
	}

	outcome, err := exe.Execute(ctx, req, args...)
	if err != nil {
		return err
	}
	if outcome.DryRun != nil {
		return result.Render(cmd.OutOrStdout(), *outcome.DryRun, result.FormatTable)
	}
	if outcome.Stderr != "" {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), outcome.Stderr)
	}
	slog.DebugContext(ctx, "command finished", "exit_code", outcome.ExitCode, "elapsed", outcome.Elapsed)
	return nil
}
