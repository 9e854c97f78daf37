package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CZERTAINLY/Trainer/internal/model"
)

const closeTimeout = 30 * time.Second

// Run implements the CLI run and train commands: one run in manual mode,
// scheduled runs in timer mode. overrides take precedence over the
// parameters of cfg.
func Run(ctx context.Context, cfg model.Config, overrides model.ParameterSet) error {
	orch, err := NewOrchestrator(cfg)
	if err != nil {
		return err
	}
	req, err := NewRequest(cfg)
	if err != nil {
		return err
	}
	req.Params = req.Params.Merge(overrides)
	supervisor, err := NewSupervisor(ctx, cfg.Service, orch, req)
	if err != nil {
		return err
	}

	err = supervisor.Do(ctx)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if cerr := orch.Close(closeCtx); cerr != nil {
		err = errors.Join(err, fmt.Errorf("closing orchestrator: %w", cerr))
	}
	return err
}
