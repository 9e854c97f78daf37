package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/CZERTAINLY/Trainer/internal/model"
	"github.com/CZERTAINLY/Trainer/internal/orchestrator"
)

// Orchestrator is the part of orchestrator.Orchestrator the Supervisor drives.
type Orchestrator interface {
	Start(ctx context.Context, req orchestrator.Request) (uuid.UUID, error)
	Stop() bool
	Subscribe() (<-chan model.Event, func())
}

// ErrRunFailed is returned by Do in manual mode when the run failed.
var ErrRunFailed = errors.New("training run failed")

type Supervisor struct {
	orch      Orchestrator
	request   orchestrator.Request
	reporters []model.Reporter
	console   io.Writer
	oneshot   bool
	scheduler gocron.Scheduler
	start     chan struct{}
}

func NewSupervisor(ctx context.Context, cfg model.Service, orch Orchestrator, req orchestrator.Request) (*Supervisor, error) {
	reporters, err := reporters(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing reporters: %w", err)
	}

	s := &Supervisor{
		orch:      orch,
		request:   req,
		reporters: reporters,
		console:   os.Stdout,
		oneshot:   cfg.Mode != model.ServiceModeTimer,
		start:     make(chan struct{}, 1),
	}
	if cfg.Mode == model.ServiceModeTimer {
		s.scheduler, err = newScheduler(ctx, cfg.Schedule, s.Start)
		if err != nil {
			return nil, fmt.Errorf("timer mode failed: %w", err)
		}
	}
	return s, nil
}

// WithReporters replaces the configured reporters.
func (s *Supervisor) WithReporters(ctx context.Context, reporters ...model.Reporter) *Supervisor {
	s.closeReporters(ctx)
	s.reporters = reporters
	return s
}

// WithConsole sets where the training output is written, nil discards it.
func (s *Supervisor) WithConsole(w io.Writer) *Supervisor {
	if w == nil {
		w = io.Discard
	}
	s.console = w
	return s
}

// Start requests a new run. It never blocks; a request made while one is
// still pending is merged with it.
func (s *Supervisor) Start() {
	select {
	case s.start <- struct{}{}:
	default:
	}
}

// Do runs the supervisor event loop. It multiplexes
//  1. start requests from Start or the scheduler,
//  2. events of the orchestrator: output goes to the console, summaries to
//     the reporters,
//  3. context cancellation, which stops an active run and waits for its
//     summary.
//
// In manual mode a run is requested on entry and Do returns after its
// summary was reported: ErrRunFailed for a failed run, otherwise the
// reporting error. In timer mode the errors are logged and Do returns on
// cancellation.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor", "oneshot", s.oneshot)

	events, unsub := s.orch.Subscribe()
	defer unsub()

	if s.scheduler != nil {
		s.scheduler.Start()
		defer func() {
			if err := s.scheduler.Shutdown(); err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}
	defer s.closeReporters(ctx)

	if s.oneshot {
		s.Start()
	}

	// the reporters must finish even when ctx was cancelled
	reportCtx := context.WithoutCancel(ctx)
	done := ctx.Done()
	var active, stopping bool
	for {
		select {
		case <-done:
			done = nil
			if !active {
				return nil
			}
			slog.InfoContext(ctx, "stopping active training run")
			stopping = true
			s.orch.Stop()
		case <-s.start:
			if stopping {
				continue
			}
			id, err := s.orch.Start(ctx, s.request)
			switch {
			case errors.Is(err, model.ErrAlreadyRunning):
				slog.WarnContext(ctx, "training still running: skipping")
			case err != nil:
				if s.oneshot {
					return err
				}
				slog.ErrorContext(ctx, "training start failed", "error", err)
			default:
				active = true
				slog.DebugContext(ctx, "training run started", "run_id", id)
			}
		case e, ok := <-events:
			if !ok {
				return nil
			}
			switch e.Kind {
			case model.EventLog:
				_, _ = fmt.Fprintln(s.console, e.Line.Text)
			case model.EventProgress:
				slog.DebugContext(ctx, "progress", "run_id", e.RunID, "event", *e.Progress)
			case model.EventSummary:
				active = false
				err := s.report(reportCtx, *e.Summary)
				if stopping {
					return err
				}
				if s.oneshot {
					if err == nil && e.Summary.FinalState == model.StateFailed {
						err = fmt.Errorf("%w: exit code %d", ErrRunFailed, e.Summary.Exit.Code)
					}
					return err
				}
				if err != nil {
					slog.ErrorContext(ctx, "reporting run failed", "error", err)
				}
			}
		}
	}
}

func (s *Supervisor) report(ctx context.Context, summary model.Summary) error {
	slog.InfoContext(ctx, "training run finished",
		"run_id", summary.RunID,
		"state", summary.FinalState,
		"epoch", summary.Progress.Epoch,
		"total", summary.Progress.Total,
	)
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}
	var errs []error
	for _, r := range s.reporters {
		if err := r.Report(ctx, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) closeReporters(ctx context.Context) {
	for _, r := range s.reporters {
		if closer, ok := r.(model.ReportCloser); ok {
			if err := closer.Close(); err != nil {
				slog.ErrorContext(ctx, "closing reporter have failed", "error", err)
			}
		}
	}
}

func newScheduler(ctx context.Context, cfgp *model.Schedule, startFunc func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, errors.New("service.schedule is nil")
	}
	cfg := *cfgp
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		if err := ParseCron(cfg.Cron); err != nil {
			return nil, fmt.Errorf("parsing service.schedule.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
	case cfg.Duration != "":
		d, err := ParseCueDuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.duration: %w", err)
		}
		if d <= 0 {
			return nil, errors.New("service.schedule.duration must be positive")
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(job, gocron.NewTask(startFunc))
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
