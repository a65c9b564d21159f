package model

import (
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DriverSQLite = "sqlite"
	DSNMemory    = ":memory:"

	PolicySummary = "summary"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx       *cue.Context
	schema       cue.Value
	policySchema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}

	policySchema = compiled.LookupPath(cue.ParsePath("#Policy"))
	if policySchema.Err() != nil {
		panic(policySchema.Err())
	}
}

type Config struct {
	Version int      `json:"version" yaml:"version"` // fixed 0 for now
	Service Service  `json:"service,omitempty" yaml:"service,omitempty"`
	Process *Process `json:"process,omitempty" yaml:"process,omitempty"`
	Query   *Query   `json:"query,omitempty" yaml:"query,omitempty"`
}

type Service struct {
	Verbose bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log     string `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
}

// Process configures the command line executor. Zero values mean defaults.
type Process struct {
	Command        string     `json:"command" yaml:"command"`
	TestArgs       []string   `json:"test_args,omitempty" yaml:"test_args,omitempty"`
	ProbeTimeoutMS int        `json:"probe_timeout_ms,omitempty" yaml:"probe_timeout_ms,omitempty"`
	PullTimeoutMS  int        `json:"pull_timeout_ms,omitempty" yaml:"pull_timeout_ms,omitempty"`
	Container      *Container `json:"container,omitempty" yaml:"container,omitempty"`
	Parallelism    int        `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`
	TimeoutMS      int        `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	WorkDir        string     `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
	InputCharset   string     `json:"input_charset,omitempty" yaml:"input_charset,omitempty"`
	OutputCharset  string     `json:"output_charset,omitempty" yaml:"output_charset,omitempty"`
	RedirectStderr bool       `json:"redirect_stderr,omitempty" yaml:"redirect_stderr,omitempty"`
	DryRun         bool       `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// Container is the docker/podman fallback used when the command itself is not runnable.
type Container struct {
	Image string `json:"image" yaml:"image"`
	CLI   string `json:"cli,omitempty" yaml:"cli,omitempty"` // empty => docker, then podman
}

type Query struct {
	Driver      string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN         string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Parallelism int    `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`
	Policy      string `json:"policy,omitempty" yaml:"policy,omitempty"`
	DryRun      bool   `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Schedule    string `json:"schedule,omitempty" yaml:"schedule,omitempty"` // cron expression
}

func DefaultConfig() Config {
	return Config{
		Version: 0,
		Service: Service{
			Log: LogStderr,
		},
		Query: &Query{
			Driver: DriverSQLite,
			DSN:    DSNMemory,
			Policy: PolicySummary,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}
