// Package supervisor runs external commands under a hard deadline with
// graceful-then-forceful termination.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

var ErrTimeout = errors.New("command timed out")

// gracePeriod is how long a process gets between SIGTERM and SIGKILL.
const gracePeriod = 5 * time.Second

// outputTail bounds how much captured output is embedded in errors.
const outputTail = 2048

// Spec describes one external command invocation.
type Spec struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // appended to the parent environment when non-empty
	Timeout time.Duration
}

// Runner executes external commands. The pipeline worker depends on this
// interface so tests can substitute a stub.
type Runner interface {
	Run(ctx context.Context, spec Spec) (string, error)
}

// ExecRunner is the os/exec-backed Runner.
type ExecRunner struct{}

// Run spawns the command, captures combined stdout/stderr and resolves
// only on a zero exit code. When the timeout elapses the process receives
// SIGTERM, then SIGKILL after the grace period. Timers and the process
// handle are released on every exit path.
func (ExecRunner) Run(ctx context.Context, spec Spec) (string, error) {
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = gracePeriod

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	output := buf.String()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			slog.Warn("command killed after timeout",
				"command", spec.Name, "timeout", spec.Timeout, "elapsed", time.Since(start))
			return output, fmt.Errorf("%w: %s after %s", ErrTimeout, spec.Name, spec.Timeout)
		}
		return output, fmt.Errorf("%s failed: %v: %s", spec.Name, err, tail(output))
	}
	return output, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= outputTail {
		return s
	}
	return "..." + s[len(s)-outputTail:]
}

var _ Runner = ExecRunner{}
