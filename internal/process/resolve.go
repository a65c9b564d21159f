package process

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jdbcx/jdbcx/internal/model"
)

const (
	DefaultProbeTimeout = 5 * time.Second
	DefaultPullTimeout  = 5 * time.Minute
)

// container tools tried in order when none is configured
var defaultContainerCLIs = []string{"docker", "podman"}

// Config describes how a command is resolved.
type Config struct {
	Command      string
	TestArgs     []string
	ProbeTimeout time.Duration
	PullTimeout  time.Duration
	// Image enables the container fallback.
	Image        string
	ContainerCLI string
	DryRun       bool
	Cache        *LivenessCache
}

// Tokens splits a command line on whitespace. There is no quoting.
func Tokens(command string) []string {
	return strings.Fields(command)
}

func nonBlank(args []string) []string {
	ret := make([]string, 0, len(args))
	for _, a := range args {
		if strings.TrimSpace(a) != "" {
			ret = append(ret, a)
		}
	}
	return ret
}

// Resolve returns the command to execute: the configured tokens when they
// pass the probe, otherwise the tokens run inside the configured container
// image. It fails when neither is available.
func Resolve(ctx context.Context, cfg Config) ([]string, error) {
	tokens := Tokens(cfg.Command)
	if len(tokens) == 0 {
		return nil, model.Unavailable("resolve", errors.New("empty command"))
	}
	op := "resolve " + tokens[0]

	cache := cfg.Cache
	if cache == nil {
		cache = DefaultLivenessCache()
	}
	probeTimeout := orDefault(cfg.ProbeTimeout, DefaultProbeTimeout)
	pullTimeout := orDefault(cfg.PullTimeout, DefaultPullTimeout)

	if cache.Probe(ctx, probeTimeout, tokens, cfg.TestArgs...) {
		return tokens, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, model.Interrupted(op, err)
	}
	if cfg.Image == "" {
		return nil, model.Unavailable(op, nil)
	}

	clis := defaultContainerCLIs
	if cfg.ContainerCLI != "" {
		clis = []string{cfg.ContainerCLI}
	}
	for _, cli := range clis {
		cliTokens := Tokens(cli)
		if !cache.Probe(ctx, probeTimeout, cliTokens, "--version") {
			continue
		}
		if !cache.Probe(ctx, pullTimeout, cliTokens, "pull", "-q", cfg.Image) {
			slog.WarnContext(ctx, "container image not available", "cli", cli, "image", cfg.Image)
			continue
		}
		ret := slices.Concat(cliTokens, []string{"run", "--rm", "-i", cfg.Image}, tokens)
		slog.InfoContext(ctx, "command resolved to container", "command", cfg.Command, "cli", cli, "image", cfg.Image)
		return ret, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, model.Interrupted(op, err)
	}
	return nil, model.Unavailable(op, errors.New("no usable container cli for image "+cfg.Image))
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
