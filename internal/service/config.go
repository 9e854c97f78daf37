package service

import (
	"fmt"

	"github.com/CZERTAINLY/Trainer/internal/jobspec"
	"github.com/CZERTAINLY/Trainer/internal/model"
	"github.com/CZERTAINLY/Trainer/internal/orchestrator"
	"github.com/CZERTAINLY/Trainer/internal/process"
	"github.com/CZERTAINLY/Trainer/internal/progress"
)

// ProcessOptions converts the supervisor section, zero values keep the
// process defaults.
func ProcessOptions(cfg *model.Supervisor) (process.Options, error) {
	var opts process.Options
	if cfg == nil {
		return opts, nil
	}
	if cfg.GracePeriod != "" {
		d, err := ParseCueDuration(cfg.GracePeriod)
		if err != nil {
			return opts, fmt.Errorf("parsing supervisor.grace_period: %w", err)
		}
		opts.GracePeriod = d
	}
	if cfg.DrainTimeout != "" {
		d, err := ParseCueDuration(cfg.DrainTimeout)
		if err != nil {
			return opts, fmt.Errorf("parsing supervisor.drain_timeout: %w", err)
		}
		opts.DrainTimeout = d
	}
	return opts, nil
}

// NewOrchestrator wires the builder, the parser and the process options of
// cfg together.
func NewOrchestrator(cfg model.Config, opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	if cfg.Version != 0 {
		return nil, fmt.Errorf("config version %d is not supported, expected 0", cfg.Version)
	}
	builder, err := jobspec.NewBuilder(model.DefaultSchema(), cfg.Python)
	if err != nil {
		return nil, fmt.Errorf("initializing job builder: %w", err)
	}
	parser, err := progress.FromConfig(cfg.Parser)
	if err != nil {
		return nil, fmt.Errorf("initializing progress parser: %w", err)
	}
	procOpts, err := ProcessOptions(cfg.Supervisor)
	if err != nil {
		return nil, err
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = "."
	}
	base := []orchestrator.Option{
		orchestrator.WithWorkDir(workDir),
		orchestrator.WithProcessOptions(procOpts),
		orchestrator.WithKeepScript(cfg.Supervisor != nil && cfg.Supervisor.KeepScript),
	}
	return orchestrator.New(builder, parser, append(base, opts...)...), nil
}

// NewRequest returns the run inputs stored in cfg.
func NewRequest(cfg model.Config) (orchestrator.Request, error) {
	params, err := cfg.ParameterSet()
	if err != nil {
		return orchestrator.Request{}, err
	}
	defaults := model.DefaultSchema().Defaults()
	return orchestrator.Request{
		Params:  defaults.Merge(params),
		Model:   cfg.Model,
		Dataset: cfg.Dataset,
	}, nil
}
