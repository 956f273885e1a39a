package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"time"

	"github.com/google/uuid"

	"modforge/internal/logging"
)

// Exec executes commands directly on the host using os/exec.
type Exec struct {
	config Config
}

// NewExec creates an executor with default config.
func NewExec() *Exec {
	return NewExecWithConfig(DefaultConfig())
}

// NewExecWithConfig creates an executor with custom config.
func NewExecWithConfig(config Config) *Exec {
	logging.ExecDebug("Creating executor: timeout=%s, maxOutput=%d bytes",
		config.DefaultTimeout, config.MaxOutputBytes)
	return &Exec{config: config}
}

// Run executes a command and captures its output.
func (e *Exec) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("binary is required")
	}
	cmd = e.config.merge(cmd)
	if cmd.RunID == "" {
		cmd.RunID = uuid.NewString()
	}

	timer := logging.StartTimer(logging.CategoryExec, "command "+cmd.Binary)
	defer timer.Stop()
	logging.Exec("[run:%s] %s (dir=%s, timeout=%s)", cmd.RunID, cmd.String(), cmd.Dir, cmd.Timeout)

	execCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = e.environment(cmd.Env)

	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: cmd.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: cmd.MaxOutputBytes}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	result := &Result{ExitCode: -1, StartedAt: time.Now()}
	err := execCmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		logging.ExecWarn("[run:%s] output truncated: %d bytes discarded", cmd.RunID, result.TruncatedBytes)
	}

	if err != nil {
		switch {
		case execCtx.Err() == context.DeadlineExceeded:
			result.Killed = true
			result.KillReason = fmt.Sprintf("timeout after %s", cmd.Timeout)
			logging.ExecWarn("[run:%s] killed: %s", cmd.RunID, result.KillReason)
			return result, nil
		case execCtx.Err() == context.Canceled:
			result.Killed = true
			result.KillReason = "context canceled"
			logging.ExecDebug("[run:%s] canceled", cmd.RunID)
			return result, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Command ran, just returned non-zero.
			result.ExitCode = exitErr.ExitCode()
			logging.ExecDebug("[run:%s] exited non-zero: %d", cmd.RunID, result.ExitCode)
			logging.Audit().ToolRun(cmd.RunID, cmd.Binary, result.ExitCode, result.Duration)
			return result, nil
		}
		logging.ExecError("[run:%s] failed to execute: %v", cmd.RunID, err)
		return nil, fmt.Errorf("executing %s: %w", cmd.Binary, err)
	}

	result.ExitCode = 0
	logging.Exec("[run:%s] exit=0, duration=%s, stdout=%d bytes",
		cmd.RunID, result.Duration, len(result.Stdout))
	logging.Audit().ToolRun(cmd.RunID, cmd.Binary, result.ExitCode, result.Duration)
	return result, nil
}

// Interactive executes a command with stdio inherited from the calling
// process. Used for external tools that prompt the user (the module
// generator, ssh password fallbacks). Returns the exit code; a non-zero
// exit is not a Go error.
func (e *Exec) Interactive(ctx context.Context, cmd Command) (int, error) {
	if cmd.Binary == "" {
		return -1, fmt.Errorf("binary is required")
	}
	cmd = e.config.merge(cmd)
	if cmd.RunID == "" {
		cmd.RunID = uuid.NewString()
	}
	logging.Exec("[run:%s] interactive: %s (dir=%s)", cmd.RunID, cmd.String(), cmd.Dir)

	execCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = e.environment(cmd.Env)
	execCmd.Stdin = os.Stdin
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr

	err := execCmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logging.ExecDebug("[run:%s] interactive exited non-zero: %d", cmd.RunID, exitErr.ExitCode())
			logging.Audit().ToolInteractive(cmd.RunID, cmd.Binary, exitErr.ExitCode())
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("executing %s: %w", cmd.Binary, err)
	}
	logging.Audit().ToolInteractive(cmd.RunID, cmd.Binary, 0)
	return 0, nil
}

// environment resolves the env slice for a command. A nil slice gets
// the base allow-list; anything else is taken as-is.
func (e *Exec) environment(cmdEnv []string) []string {
	if cmdEnv == nil {
		return BaseEnv(e.config.AllowedEnvironment)
	}
	return cmdEnv
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		// Partial write
		lw.truncated = true
		toWrite := p[:remaining]
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(toWrite)
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
