// Package envcheck inspects the Python environment the training runs in.
//
// Every probe is a short `python -c` program started through the process
// package; its exit code tells the outcome and its output carries the
// version or the device name.
package envcheck

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/CZERTAINLY/Trainer/internal/model"
	"github.com/CZERTAINLY/Trainer/internal/parallel"
	"github.com/CZERTAINLY/Trainer/internal/process"
)

type Status string

const (
	StatusOK          Status = "ok"
	StatusMissing     Status = "missing"
	StatusUnavailable Status = "unavailable"
	StatusError       Status = "error"
)

const (
	exitMissing     = 3
	exitUnavailable = 4
)

// Package is a distribution name and the module it is imported as.
type Package struct {
	Name   string
	Module string
}

// Packages needed to train.
var Packages = []Package{
	{Name: "ultralytics", Module: "ultralytics"},
	{Name: "torch", Module: "torch"},
	{Name: "torchvision", Module: "torchvision"},
	{Name: "opencv-python", Module: "cv2"},
	{Name: "numpy", Module: "numpy"},
}

const (
	pythonProbe = `import sys
print(sys.version.split()[0])`

	packageProbe = `import importlib, sys
try:
    m = importlib.import_module(sys.argv[1])
except ImportError:
    sys.exit(3)
print(getattr(m, "__version__", ""))`

	cudaProbe = `import sys
try:
    import torch
except ImportError:
    sys.exit(3)
if not torch.cuda.is_available():
    sys.exit(4)
print(torch.cuda.get_device_name(0))`
)

type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Version string `json:"version,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type Report struct {
	Python   Check   `json:"python"`
	Packages []Check `json:"packages"`
	CUDA     Check   `json:"cuda"`
}

// Ready reports whether all the packages are installed.
func (r Report) Ready() bool {
	if r.Python.Status != StatusOK {
		return false
	}
	for _, p := range r.Packages {
		if p.Status != StatusOK {
			return false
		}
	}
	return true
}

type Checker struct {
	python string
	limit  int
	opts   process.Options
}

func New(python string, limit int) *Checker {
	if python == "" {
		python = "python3"
	}
	return &Checker{python: python, limit: limit}
}

type probe struct {
	name   string
	kind   string
	code   string
	module string
}

type outcome struct {
	probe probe
	check Check
}

// Check runs all the probes in parallel. It fails only when the interpreter
// can't be started.
func (c *Checker) Check(ctx context.Context) (Report, error) {
	probes := []probe{{name: "python", kind: "python", code: pythonProbe}}
	for _, p := range Packages {
		probes = append(probes, probe{name: p.Name, kind: "package", code: packageProbe, module: p.Module})
	}
	probes = append(probes, probe{name: "cuda", kind: "cuda", code: cudaProbe})

	var report Report
	byName := make(map[string]Check, len(probes))
	for o, err := range parallel.NewMap(ctx, c.limit, c.run).Iter(all(probes)) {
		if err != nil {
			return Report{}, err
		}
		byName[o.probe.name] = o.check
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report.Python = byName["python"]
	for _, p := range Packages {
		report.Packages = append(report.Packages, byName[p.Name])
	}
	report.CUDA = byName["cuda"]
	return report, nil
}

func (c *Checker) run(ctx context.Context, p probe) (outcome, error) {
	args := []string{"-c", p.code}
	if p.module != "" {
		args = append(args, p.module)
	}
	lines, status, err := c.exec(ctx, args)
	if err != nil {
		return outcome{}, err
	}
	out := strings.TrimSpace(strings.Join(lines, "\n"))
	check := Check{Name: p.name}

	switch {
	case status.Success():
		check.Status = StatusOK
		if p.kind == "cuda" {
			check.Detail = out
		} else {
			check.Version = out
		}
	case status.Code == exitMissing && p.kind != "python":
		check.Status = StatusMissing
		if p.kind == "cuda" {
			check.Detail = "torch is not installed"
		}
	case status.Code == exitUnavailable && p.kind == "cuda":
		check.Status = StatusUnavailable
		check.Detail = "training will use the CPU"
	default:
		check.Status = StatusError
		check.Detail = lastLine(lines)
	}
	slog.DebugContext(ctx, "environment probe", "name", p.name, "status", check.Status, "code", status.Code)
	return outcome{probe: p, check: check}, nil
}

func (c *Checker) exec(ctx context.Context, args []string) ([]string, model.ExitStatus, error) {
	proc, err := process.Start(ctx, process.Command{Path: c.python, Args: args}, c.opts)
	if err != nil {
		return nil, model.ExitStatus{}, err
	}
	var lines []string
	for line := range proc.Lines() {
		lines = append(lines, line.Text)
	}
	return lines, proc.Wait(), nil
}

// Install runs pip on the requirements file in dir and hands every line of
// its output to fn.
func (c *Checker) Install(ctx context.Context, dir, requirements string, fn func(model.LogLine)) (model.ExitStatus, error) {
	if requirements == "" {
		requirements = "requirements.txt"
	}
	cmd := process.Command{
		Path: c.python,
		Args: []string{"-m", "pip", "install", "-r", requirements},
		Dir:  dir,
	}
	proc, err := process.Start(ctx, cmd, c.opts)
	if err != nil {
		return model.ExitStatus{}, err
	}
	for line := range proc.Lines() {
		if fn != nil {
			fn(line)
		}
	}
	status := proc.Wait()
	if !status.Success() {
		return status, fmt.Errorf("pip install failed: exit code %d%s", status.Code, signal(status))
	}
	return status, nil
}

func signal(s model.ExitStatus) string {
	if s.Signal == "" {
		return ""
	}
	return ", signal " + s.Signal
}

func lastLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func all[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}
