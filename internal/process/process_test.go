package process_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/Trainer/internal/log"
	"github.com/CZERTAINLY/Trainer/internal/model"
	"github.com/CZERTAINLY/Trainer/internal/process"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func texts(p *process.Process) []string {
	var ret []string
	for line := range p.Lines() {
		ret = append(ret, line.Text)
	}
	return ret
}

func TestStart_CombinedOutput(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	cmd := process.Command{
		Path: sh,
		Args: []string{"-c", "echo one; echo two 1>&2; echo three; printf 'no newline'"},
	}
	p, err := process.Start(t.Context(), cmd, process.Options{})
	require.NoError(t, err)

	var seqs []uint64
	var got []string
	for line := range p.Lines() {
		seqs = append(seqs, line.Seq)
		got = append(got, line.Text)
		require.NotZero(t, line.Time)
	}
	require.Equal(t, []string{"one", "two", "three", "no newline"}, got)
	require.Equal(t, []uint64{1, 2, 3, 4}, seqs)

	status := p.Wait()
	require.True(t, status.Success())
	require.Equal(t, 0, status.Code)
	require.NotZero(t, status.Started)
	require.False(t, status.Stopped.Before(status.Started))

	t.Run("wait is idempotent", func(t *testing.T) {
		require.Equal(t, status, p.Wait())
	})
	t.Run("lines are not restartable", func(t *testing.T) {
		require.Empty(t, texts(p))
	})
}

func TestStart_ManyLines(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	cmd := process.Command{
		Path: sh,
		Args: []string{"-c", "i=1; while [ $i -le 2000 ]; do echo line $i; i=$((i+1)); done"},
	}
	p, err := process.Start(t.Context(), cmd, process.Options{})
	require.NoError(t, err)
	got := texts(p)
	require.Len(t, got, 2000)
	for i, text := range got {
		require.Equal(t, "line "+strconv.Itoa(i+1), text)
	}
	require.True(t, p.Wait().Success())
}

func TestStart_ExitCode(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	p, err := process.Start(t.Context(), process.Command{Path: sh, Args: []string{"-c", "exit 3"}}, process.Options{})
	require.NoError(t, err)
	require.Empty(t, texts(p))
	status := p.Wait()
	require.False(t, status.Success())
	require.Equal(t, 3, status.Code)
	require.NoError(t, status.Err)
}

func TestStart_LaunchFailure(t *testing.T) {
	t.Parallel()

	p, err := process.Start(t.Context(), process.Command{Path: "does not exist"}, process.Options{})
	require.Nil(t, p)
	require.ErrorIs(t, err, model.ErrLaunchFailure)
	var execErr *exec.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, "does not exist", execErr.Name)

	_, err = process.Start(t.Context(), process.Command{}, process.Options{})
	require.ErrorIs(t, err, model.ErrLaunchFailure)

	_, err = process.Start(t.Context(), process.Command{Path: "/bin/sh", Dir: "/does/not/exist"}, process.Options{})
	require.ErrorIs(t, err, model.ErrLaunchFailure)
}

func TestTerminate(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	// the child traps TERM, prints and exits on its own
	cmd := process.Command{
		Path: sh,
		Args: []string{"-c", "trap 'echo bye; exit 0' TERM; echo ready; while :; do sleep 0.05; done"},
	}
	p, err := process.Start(t.Context(), cmd, process.Options{GracePeriod: 5 * time.Second})
	require.NoError(t, err)

	var got []string
	for line := range p.Lines() {
		got = append(got, line.Text)
		if line.Text == "ready" {
			p.Terminate()
			p.Terminate()
		}
	}
	require.Equal(t, "ready", got[0])
	require.Contains(t, got, "bye")
	status := p.Wait()
	require.Equal(t, 0, status.Code)
}

func TestTerminate_Kill(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	// TERM is ignored, so the grace period ends with SIGKILL
	cmd := process.Command{
		Path: sh,
		Args: []string{"-c", "trap '' TERM; echo ready; while :; do sleep 0.05; done"},
	}
	p, err := process.Start(t.Context(), cmd, process.Options{
		GracePeriod:  200 * time.Millisecond,
		DrainTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	start := time.Now()
	for line := range p.Lines() {
		if line.Text == "ready" {
			p.Terminate()
		}
	}
	status := p.Wait()
	require.NotEqual(t, 0, status.Code)
	require.Equal(t, "killed", status.Signal)
	require.Less(t, time.Since(start), 5*time.Second)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// not parallel: replaces the default logger
func TestTerminate_LogsContextAttrs(t *testing.T) {
	sh := shell(t)
	var buf syncBuffer
	prev := slog.Default()
	slog.SetDefault(log.New(&buf, true))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := log.ContextAttrs(t.Context(), slog.String("run_id", "run-1"))
	cmd := process.Command{
		Path: sh,
		Args: []string{"-c", "trap '' TERM; echo ready; while :; do sleep 0.05; done"},
	}
	p, err := process.Start(ctx, cmd, process.Options{
		GracePeriod:  200 * time.Millisecond,
		DrainTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	for line := range p.Lines() {
		if line.Text == "ready" {
			p.Terminate()
		}
	}
	require.Equal(t, "killed", p.Wait().Signal)

	msgs := make(map[string]string)
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &rec))
		msg, _ := rec["msg"].(string)
		runID, _ := rec["run_id"].(string)
		msgs[msg] = runID
	}
	require.Equal(t, "run-1", msgs["terminating process"])
	require.Equal(t, "run-1", msgs["grace period elapsed: killing process"])
}

func TestStart_ContextCancel(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	p, err := process.Start(ctx, process.Command{Path: sh, Args: []string{"-c", "echo ready; sleep 30"}}, process.Options{})
	require.NoError(t, err)
	for line := range p.Lines() {
		if line.Text == "ready" {
			cancel()
		}
	}
	status := p.Wait()
	require.False(t, status.Success())
	require.Equal(t, "terminated", status.Signal)
}

func TestScanLines(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     []string
	}{
		{"lf", "a\nb\n", []string{"a", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"cr progress", "1/10\r2/10\r3/10\n", []string{"1/10", "2/10", "3/10"}},
		{"empty lines", "a\n\nb", []string{"a", "", "b"}},
		{"trailing cr", "a\r", []string{"a"}},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			scanner := bufio.NewScanner(strings.NewReader(tc.given))
			scanner.Split(process.ScanLines)
			var got []string
			for scanner.Scan() {
				got = append(got, scanner.Text())
			}
			require.NoError(t, scanner.Err())
			require.Equal(t, tc.then, got)
		})
	}
}
