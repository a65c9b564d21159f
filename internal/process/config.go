package process

import (
	"slices"
	"time"

	"github.com/jdbcx/jdbcx/internal/model"
)

// FromModel splits the process section of the configuration into the
// resolution config and the default request.
func FromModel(p model.Process) (Config, Request) {
	cfg := Config{
		Command:      p.Command,
		TestArgs:     slices.Clone(p.TestArgs),
		ProbeTimeout: millis(p.ProbeTimeoutMS),
		PullTimeout:  millis(p.PullTimeoutMS),
		DryRun:       p.DryRun,
	}
	if p.Container != nil {
		cfg.Image = p.Container.Image
		cfg.ContainerCLI = p.Container.CLI
	}
	req := Request{
		Parallelism:    p.Parallelism,
		RedirectStderr: p.RedirectStderr,
		Timeout:        millis(p.TimeoutMS),
		WorkDir:        p.WorkDir,
		InputCharset:   p.InputCharset,
		OutputCharset:  p.OutputCharset,
	}
	return cfg, req
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
