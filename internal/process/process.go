// Package process supervises one external training process.
//
// A Process is started from a Command. Both stdout and stderr of the child
// are connected to the write end of a single pipe, so the operating system
// decides the interleaving and the reader sees one ordered stream. A
// goroutine splits the stream into LogLines, another one waits for the exit.
//
//	Start ---> exec.Cmd.Start
//	   |          | stdout+stderr -> os.Pipe -> read() -> lines chan -> Lines()
//	   |          | wait() -> ExitStatus -> Wait()
//	Terminate -> SIGTERM to the process group, SIGKILL after the grace period
//
// Invariants:
//   - Lines can be iterated once; it ends when every writer closed the pipe,
//     or once the drain timeout elapsed after Terminate or process exit.
//   - Wait returns the same ExitStatus on every call.
//   - Cancelling the Start context is the same as calling Terminate.
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CZERTAINLY/Trainer/internal/model"
)

const (
	DefaultGracePeriod  = 10 * time.Second
	DefaultDrainTimeout = 5 * time.Second

	maxChunk = 512 * 1024
)

type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

type Options struct {
	// GracePeriod between the cooperative and the forceful termination.
	GracePeriod time.Duration
	// DrainTimeout bounds how long Lines keeps delivering output after
	// Terminate or after the process exited.
	DrainTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	return o
}

type Process struct {
	cmd    *exec.Cmd
	opts   Options
	logCtx context.Context // values of the Start context, for logging

	lines      chan model.LogLine
	linesTaken atomic.Bool

	reader      *os.File
	closeReader sync.Once

	expired    chan struct{}
	expireOnce sync.Once
	drainOnce  sync.Once
	termOnce   sync.Once
	killTimer  *time.Timer
	killTimerM sync.Mutex

	done   chan struct{}
	status model.ExitStatus
}

// Start runs the command. It fails with an error wrapping
// model.ErrLaunchFailure when the process can't be spawned, and no Process
// exists in that case.
func Start(ctx context.Context, proto Command, opts Options) (*Process, error) {
	if proto.Path == "" {
		return nil, fmt.Errorf("%w: command path is empty", model.ErrLaunchFailure)
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: creating output pipe: %w", model.ErrLaunchFailure, err)
	}

	cmd := exec.Command(proto.Path, proto.Args...)
	cmd.Env = proto.Env
	cmd.Dir = proto.Dir
	cmd.Stdout = pw
	cmd.Stderr = pw
	setProcessGroup(cmd)

	p := &Process{
		cmd:     cmd,
		opts:    opts.withDefaults(),
		logCtx:  context.WithoutCancel(ctx),
		lines:   make(chan model.LogLine, 64),
		reader:  pr,
		expired: make(chan struct{}),
		done:    make(chan struct{}),
	}

	started := time.Now().UTC()
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("%w: %w", model.ErrLaunchFailure, err)
	}
	// the child holds its own copy now, EOF comes once all copies are closed
	_ = pw.Close()

	slog.DebugContext(ctx, "process started", "path", proto.Path, "pid", cmd.Process.Pid)
	p.status.Started = started

	go p.read(ctx)
	go p.wait(ctx)
	go func() {
		select {
		case <-ctx.Done():
			p.Terminate()
		case <-p.done:
		}
	}()
	return p, nil
}

// Pid returns the operating system id of the process.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Lines returns the output of the process in the order it was written. The
// sequence can be consumed only once; later calls return an empty sequence.
func (p *Process) Lines() iter.Seq[model.LogLine] {
	return func(yield func(model.LogLine) bool) {
		if !p.linesTaken.CompareAndSwap(false, true) {
			return
		}
		for {
			select {
			case <-p.expired:
				return
			case line, ok := <-p.lines:
				if !ok {
					return
				}
				if !yield(line) {
					// nobody reads anymore: let the reader go
					p.expire()
					return
				}
			}
		}
	}
}

// Terminate asks the whole process group to exit, then kills it once the
// grace period elapsed. It never blocks and can be called repeatedly.
func (p *Process) Terminate() {
	p.termOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		slog.DebugContext(p.logCtx, "terminating process", "pid", p.Pid())
		p.armDrain()
		if err := terminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.WarnContext(p.logCtx, "sending termination signal", "pid", p.Pid(), "error", err)
		}
		p.killTimerM.Lock()
		p.killTimer = time.AfterFunc(p.opts.GracePeriod, func() {
			select {
			case <-p.done:
				return
			default:
			}
			slog.WarnContext(p.logCtx, "grace period elapsed: killing process", "pid", p.Pid())
			if err := kill(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
				slog.ErrorContext(p.logCtx, "killing process", "pid", p.Pid(), "error", err)
			}
		})
		p.killTimerM.Unlock()
	})
}

// Done is closed once the process exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exited and returns its status.
func (p *Process) Wait() model.ExitStatus {
	<-p.done
	return p.status
}

func (p *Process) read(ctx context.Context) {
	defer close(p.lines)
	defer p.closeReaderOnce()

	scanner := bufio.NewScanner(p.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*maxChunk)
	scanner.Split(scanLines)
	var seq uint64
	for scanner.Scan() {
		seq++
		line := model.LogLine{
			Seq:  seq,
			Text: scanner.Text(),
			Time: time.Now().UTC(),
		}
		select {
		case p.lines <- line:
		case <-p.expired:
			return
		}
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, os.ErrClosed) {
		slog.ErrorContext(ctx, "reading process output", "error", err)
	}
}

func (p *Process) wait(ctx context.Context) {
	err := p.cmd.Wait()
	stopped := time.Now().UTC()

	p.killTimerM.Lock()
	if p.killTimer != nil {
		p.killTimer.Stop()
	}
	p.killTimerM.Unlock()

	status := p.status
	status.Stopped = stopped
	status.Code = -1
	if state := p.cmd.ProcessState; state != nil {
		status.Code = state.ExitCode()
		status.Signal = signalName(state)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		status.Err = err
	}
	p.status = status
	close(p.done)

	slog.DebugContext(ctx, "process exited", "pid", p.Pid(), "code", status.Code, "signal", status.Signal)
	// descendants may still hold the pipe open
	p.armDrain()
}

func (p *Process) armDrain() {
	p.drainOnce.Do(func() {
		time.AfterFunc(p.opts.DrainTimeout, p.expire)
	})
}

// expire discards whatever output is still buffered.
func (p *Process) expire() {
	p.expireOnce.Do(func() {
		close(p.expired)
		p.closeReaderOnce()
	})
}

func (p *Process) closeReaderOnce() {
	p.closeReader.Do(func() {
		_ = p.reader.Close()
	})
}

// scanLines splits on \n, \r\n and a bare \r. Progress bars redraw a line
// with \r, each redraw becomes a line on its own.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// \r at the end of the buffer, wait for a possible \n
		return 0, nil, nil
	}
	if atEOF || len(data) >= maxChunk {
		return len(data), data, nil
	}
	return 0, nil, nil
}
