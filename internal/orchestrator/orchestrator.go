// Package orchestrator owns the training run state machine.
//
//	Idle ----Start----> Running ----exit 0----> Completed
//	                      |  \-----exit != 0--> Failed
//	                     Stop
//	                      v
//	                   Stopping --any exit----> Stopped
//
// Completed, Failed and Stopped are terminal and Start is legal again from
// each of them. Every run has one worker goroutine, the only reader of the
// process output. Observers receive events from Subscribe and are never
// waited for.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/CZERTAINLY/Trainer/internal/jobspec"
	"github.com/CZERTAINLY/Trainer/internal/log"
	"github.com/CZERTAINLY/Trainer/internal/model"
	"github.com/CZERTAINLY/Trainer/internal/process"
	"github.com/CZERTAINLY/Trainer/internal/progress"

	"github.com/google/uuid"
)

// ErrNoRun is returned by Wait before the first Start.
var ErrNoRun = errors.New("no training run")

// CommandFunc returns the command executing the script of spec stored at
// scriptPath.
type CommandFunc func(spec jobspec.JobSpec, scriptPath string) process.Command

type Option func(*Orchestrator)

// WithWorkDir sets the directory holding the generated scripts. The
// training process runs there too.
func WithWorkDir(dir string) Option {
	return func(o *Orchestrator) {
		o.workDir = dir
	}
}

func WithKeepScript(keep bool) Option {
	return func(o *Orchestrator) {
		o.keepScript = keep
	}
}

func WithProcessOptions(opts process.Options) Option {
	return func(o *Orchestrator) {
		o.procOpts = opts
	}
}

func WithCommandFunc(fn CommandFunc) Option {
	return func(o *Orchestrator) {
		o.command = fn
	}
}

// Request holds the inputs of one run.
type Request struct {
	Params  model.ParameterSet `json:"params"`
	Model   string             `json:"model"`
	Dataset string             `json:"dataset"`
}

// Status is a snapshot of the orchestrator.
type Status struct {
	RunID    uuid.UUID         `json:"run_id"`
	State    model.RunState    `json:"state"`
	Progress model.Progress    `json:"progress"`
	Model    string            `json:"model,omitempty"`
	Dataset  string            `json:"dataset,omitempty"`
	Exit     *model.ExitStatus `json:"exit,omitempty"`
}

type run struct {
	id      uuid.UUID
	spec    jobspec.JobSpec
	script  string
	cancel  context.CancelFunc
	done    chan struct{}
	summary model.Summary
}

type Orchestrator struct {
	builder    *jobspec.Builder
	parser     *progress.Parser
	command    CommandFunc
	workDir    string
	keepScript bool
	procOpts   process.Options
	events     *broker

	mu        sync.Mutex
	state     model.RunState
	run       *run
	progress  model.Progress
	exit      *model.ExitStatus
	launching chan struct{} // closed once the pending Start returned
}

func New(builder *jobspec.Builder, parser *progress.Parser, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		builder: builder,
		parser:  parser,
		workDir: ".",
		events:  newBroker(),
		state:   model.StateIdle,
	}
	o.command = o.defaultCommand
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) defaultCommand(spec jobspec.JobSpec, scriptPath string) process.Command {
	return process.Command{
		Path: spec.Interpreter,
		Args: spec.Argv(scriptPath),
		Env:  append(os.Environ(), "PYTHONUNBUFFERED=1"),
		Dir:  o.workDir,
	}
}

func (o *Orchestrator) Schema() model.Schema {
	return o.builder.Schema()
}

// Subscribe returns all the events published after the call.
func (o *Orchestrator) Subscribe() (<-chan model.Event, func()) {
	return o.events.Subscribe()
}

func (o *Orchestrator) State() model.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		State:    o.state,
		Progress: o.progress.Clone(),
	}
	if o.run != nil {
		st.RunID = o.run.id
		st.Model = o.run.spec.Model
		st.Dataset = o.run.spec.Dataset
	}
	if o.exit != nil {
		exit := *o.exit
		st.Exit = &exit
	}
	return st
}

// Start builds the job and spawns its process. It fails with
// model.ErrAlreadyRunning while a run is active or being launched, with the
// builder errors on invalid input, and with model.ErrLaunchFailure when the
// process could not be started. The state is left untouched in all those
// cases.
//
// The lock is not held while the script is written and the process spawned,
// so State, Status and Stop answer meanwhile. ctx only carries values; the
// run lives until it exits or Stop is called.
func (o *Orchestrator) Start(ctx context.Context, req Request) (uuid.UUID, error) {
	o.mu.Lock()
	if o.state.Active() || o.launching != nil {
		o.mu.Unlock()
		return uuid.Nil, model.ErrAlreadyRunning
	}
	launching := make(chan struct{})
	o.launching = launching
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.launching = nil
		o.mu.Unlock()
		close(launching)
	}()

	spec, err := o.builder.Build(req.Params, req.Model, req.Dataset)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	ctx = log.ContextAttrs(ctx, slog.String("run_id", id.String()))

	script, err := spec.Write(o.workDir, "train-"+id.String()+".py")
	if err != nil {
		o.launchFailed(ctx, id, err)
		return uuid.Nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	proc, err := process.Start(runCtx, o.command(spec, script), o.procOpts)
	if err != nil {
		cancel()
		o.removeScript(ctx, script)
		o.launchFailed(ctx, id, err)
		return uuid.Nil, err
	}

	r := &run{
		id:     id,
		spec:   spec,
		script: script,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.mu.Lock()
	o.run = r
	o.state = model.StateRunning
	o.progress = model.Progress{}
	o.exit = nil
	o.publishLocked(model.Event{RunID: id, Kind: model.EventState})
	o.mu.Unlock()
	slog.InfoContext(ctx, "training started", "pid", proc.Pid(), "model", spec.Model, "dataset", spec.Dataset)

	go o.work(runCtx, r, proc)
	return id, nil
}

func (o *Orchestrator) launchFailed(ctx context.Context, id uuid.UUID, err error) {
	slog.ErrorContext(ctx, "training launch failed", "error", err)
	o.mu.Lock()
	o.publishLocked(model.Event{RunID: id, Kind: model.EventLaunchFailure, Error: err.Error()})
	o.mu.Unlock()
}

// Stop asks the current run to terminate and returns immediately. It
// reports whether a stop was requested; it does nothing unless Running.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != model.StateRunning {
		return false
	}
	o.state = model.StateStopping
	o.publishLocked(model.Event{RunID: o.run.id, Kind: model.EventState})
	o.run.cancel()
	return true
}

// Wait blocks until the latest run reached its terminal state and returns
// its summary.
func (o *Orchestrator) Wait(ctx context.Context) (model.Summary, error) {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil {
		return model.Summary{}, ErrNoRun
	}
	select {
	case <-r.done:
		return r.summary, nil
	case <-ctx.Done():
		return model.Summary{}, ctx.Err()
	}
}

// Close stops the active run, waits for it and closes all the subscriptions.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	launching := o.launching
	o.mu.Unlock()
	if launching != nil {
		select {
		case <-launching:
		case <-ctx.Done():
			o.events.Close()
			return fmt.Errorf("waiting for run launch: %w", ctx.Err())
		}
	}

	o.Stop()
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	var err error
	if r != nil {
		select {
		case <-r.done:
		default:
			select {
			case <-r.done:
			case <-ctx.Done():
				err = fmt.Errorf("waiting for run %s: %w", r.id, ctx.Err())
			}
		}
	}
	o.events.Close()
	return err
}

func (o *Orchestrator) work(ctx context.Context, r *run, proc *process.Process) {
	defer r.cancel()
	for line := range proc.Lines() {
		events := o.parser.Parse(line.Text)
		o.mu.Lock()
		o.publishLocked(model.Event{RunID: r.id, Kind: model.EventLog, Line: &line})
		for _, e := range events {
			o.progress.Apply(e)
			o.publishLocked(model.Event{RunID: r.id, Kind: model.EventProgress, Progress: &e})
		}
		o.mu.Unlock()
	}
	o.finish(ctx, r, proc.Wait())
}

// finish is the only transition into a terminal state.
func (o *Orchestrator) finish(ctx context.Context, r *run, status model.ExitStatus) {
	if !o.keepScript {
		o.removeScript(ctx, r.script)
	}

	o.mu.Lock()
	var final model.RunState
	switch {
	case o.state == model.StateStopping:
		final = model.StateStopped
	case status.Success():
		final = model.StateCompleted
	default:
		final = model.StateFailed
	}
	o.state = final
	o.exit = &status

	r.summary = model.Summary{
		RunID:      r.id,
		FinalState: final,
		Exit:       status,
		Progress:   o.progress.Clone(),
		Model:      r.spec.Model,
		Dataset:    r.spec.Dataset,
	}
	if status.Err != nil {
		r.summary.Error = status.Err.Error()
	}
	summary := r.summary
	o.publishLocked(model.Event{RunID: r.id, Kind: model.EventSummary, Summary: &summary})
	close(r.done)
	o.mu.Unlock()

	slog.InfoContext(ctx, "training finished", "state", final, "code", status.Code, "signal", status.Signal)
}

func (o *Orchestrator) removeScript(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "removing job script", "path", filepath.Base(path), "error", err)
	}
}

func (o *Orchestrator) publishLocked(e model.Event) {
	e.State = o.state
	o.events.Publish(e)
}
