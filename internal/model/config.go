package model

import (
	"context"
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	ServiceModeManual = "manual"
	ServiceModeTimer  = "timer"

	RuleKindMetric = "metric"
	RuleKindEpoch  = "epoch"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
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

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version    int             `json:"version" yaml:"version"` // fixed 0 for now
	Python     string          `json:"python,omitempty" yaml:"python,omitempty"`
	WorkDir    string          `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	Model      string          `json:"model,omitempty" yaml:"model,omitempty"`
	Dataset    string          `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	Params     map[string]any  `json:"params,omitempty" yaml:"params,omitempty"`
	Flags      map[string]bool `json:"flags,omitempty" yaml:"flags,omitempty"`
	Parser     *Parser         `json:"parser,omitempty" yaml:"parser,omitempty"`
	Supervisor *Supervisor     `json:"supervisor,omitempty" yaml:"supervisor,omitempty"`
	Service    Service         `json:"service" yaml:"service"`
}

// Parser extends (or with Replace swaps) the built-in progress rules.
type Parser struct {
	Replace bool   `json:"replace,omitempty" yaml:"replace,omitempty"`
	Rules   []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

type Rule struct {
	Name    string `json:"name" yaml:"name"`
	Kind    string `json:"kind" yaml:"kind"` // "metric" | "epoch"
	Pattern string `json:"pattern" yaml:"pattern"`
}

// Supervisor tunes the process termination. Durations use the 1d2h3m4s form.
type Supervisor struct {
	GracePeriod  string `json:"grace_period,omitempty" yaml:"grace_period,omitempty"`
	DrainTimeout string `json:"drain_timeout,omitempty" yaml:"drain_timeout,omitempty"`
	KeepScript   bool   `json:"keep_script,omitempty" yaml:"keep_script,omitempty"`
}

type Service struct {
	Mode     string    `json:"mode" yaml:"mode"` // "manual" | "timer"
	Verbose  bool      `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log      string    `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
	Dir      string    `json:"dir,omitempty" yaml:"dir,omitempty"` // directory for run reports
	Webhook  *Webhook  `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

type Webhook struct {
	Enabled bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	URL     string `json:"url" yaml:"url"`
}

// Schedule is either a cron expression or a fixed duration.
type Schedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract(configFile, r)
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

// DefaultConfig is stored when no configuration file exists.
func DefaultConfig(_ context.Context) Config {
	schema := DefaultSchema()
	params := make(map[string]any, len(schema.Params))
	for _, d := range schema.Params {
		switch d.Kind {
		case KindInt:
			i, _ := d.Default.AsInt()
			params[d.Name] = i
		case KindFloat:
			f, _ := d.Default.AsFloat()
			params[d.Name] = f
		default:
			params[d.Name] = d.Default.String()
		}
	}
	flags := make(map[string]bool, len(schema.Flags))
	for _, d := range schema.Flags {
		b, _ := d.Default.AsBool()
		flags[d.Name] = b
	}
	return Config{
		Version: 0,
		Python:  "python3",
		WorkDir: ".",
		Model:   BuiltinModels[0],
		Params:  params,
		Flags:   flags,
		Supervisor: &Supervisor{
			GracePeriod:  "10s",
			DrainTimeout: "5s",
		},
		Service: Service{
			Mode: ServiceModeManual,
			Log:  LogStderr,
		},
	}
}

// ParameterSet returns params and flags of the config as one set.
func (c Config) ParameterSet() (ParameterSet, error) {
	ret, err := ParamsFromMap(c.Params)
	if err != nil {
		return nil, err
	}
	for k, b := range c.Flags {
		ret[k] = Bool(b)
	}
	return ret, nil
}
