package model

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Property keys understood by Process.Apply and Query.Apply.
const (
	PropParallelism    = "exec.parallelism"
	PropTimeout        = "exec.timeout" // milliseconds
	PropWorkDir        = "exec.workdir"
	PropInputCharset   = "exec.input.charset"
	PropOutputCharset  = "exec.output.charset"
	PropRedirectStderr = "exec.error.redirect"
	PropExecDryRun     = "exec.dryrun"

	PropCommand          = "cli.path"
	PropTestArgs         = "cli.test.args"
	PropProbeTimeout     = "cli.probe.timeout" // milliseconds
	PropContainerImage   = "cli.container.image"
	PropContainerCLI     = "cli.container.cli"
	PropQueryParallelism = "query.parallelism"
	PropResultPolicy     = "result.policy"
	PropQueryDryRun      = "query.dryrun"
)

// Properties is a flat key=value bag overriding the configuration file.
type Properties map[string]string

// ParseProperties parses key=value pairs, the later key wins.
func ParseProperties(pairs []string) (Properties, error) {
	ret := make(Properties, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property %q: expected key=value", pair)
		}
		ret[k] = strings.TrimSpace(v)
	}
	return ret, nil
}

func (p Properties) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

func (p Properties) String(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func (p Properties) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("property %s: %w", key, err)
	}
	return i, nil
}

func (p Properties) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("property %s: %w", key, err)
	}
	return b, nil
}

// Fields returns whitespace separated values of key.
func (p Properties) Fields(key string, def []string) []string {
	v, ok := p[key]
	if !ok {
		return def
	}
	return strings.Fields(v)
}

// Apply returns a copy of p with properties applied on top.
func (p Process) Apply(props Properties) (Process, error) {
	var err error
	ret := p
	ret.TestArgs = props.Fields(PropTestArgs, slices.Clone(p.TestArgs))
	ret.Command = props.String(PropCommand, p.Command)
	ret.WorkDir = props.String(PropWorkDir, p.WorkDir)
	ret.InputCharset = props.String(PropInputCharset, p.InputCharset)
	ret.OutputCharset = props.String(PropOutputCharset, p.OutputCharset)

	if ret.Parallelism, err = props.Int(PropParallelism, p.Parallelism); err != nil {
		return p, err
	}
	if ret.TimeoutMS, err = props.Int(PropTimeout, p.TimeoutMS); err != nil {
		return p, err
	}
	if ret.ProbeTimeoutMS, err = props.Int(PropProbeTimeout, p.ProbeTimeoutMS); err != nil {
		return p, err
	}
	if ret.RedirectStderr, err = props.Bool(PropRedirectStderr, p.RedirectStderr); err != nil {
		return p, err
	}
	if ret.DryRun, err = props.Bool(PropExecDryRun, p.DryRun); err != nil {
		return p, err
	}

	image, hasImage := props[PropContainerImage]
	cli, hasCLI := props[PropContainerCLI]
	if hasImage || hasCLI {
		var c Container
		if p.Container != nil {
			c = *p.Container
		}
		if hasImage {
			c.Image = image
		}
		if hasCLI {
			c.CLI = cli
		}
		ret.Container = &c
	}
	return ret, nil
}

// Apply returns a copy of q with properties applied on top.
func (q Query) Apply(props Properties) (Query, error) {
	var err error
	ret := q
	ret.Policy = props.String(PropResultPolicy, q.Policy)
	if ret.Parallelism, err = props.Int(PropQueryParallelism, q.Parallelism); err != nil {
		return q, err
	}
	if ret.DryRun, err = props.Bool(PropQueryDryRun, q.DryRun); err != nil {
		return q, err
	}
	return ret, nil
}
