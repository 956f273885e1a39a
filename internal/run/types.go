// Package run is the execution layer of modforge. Every external tool
// the orchestrator touches - the UI bundler, the backend packager, test
// runners, ssh/scp, git, the module generator - goes through this
// package as a blocking subprocess with explicit environment and
// captured output.
//
// Design principles:
//   - Environment is always an explicit KEY=VALUE slice assembled per
//     invocation, never ambient process-wide state.
//   - A non-zero exit is a normal Result, not a Go error. Errors mean
//     the execution infrastructure itself failed.
//   - Output is captured with size limits and surfaced verbatim.
package run

import (
	"context"
	"time"
)

// Command represents a command to be executed.
type Command struct {
	// Binary is the executable to run (e.g., "npm", "ssh", "git").
	Binary string

	// Args are the command-line arguments.
	Args []string

	// Dir is the directory to execute in. If empty, uses the
	// executor's default working directory.
	Dir string

	// Env are environment variables in KEY=VALUE form. A nil slice
	// means "use the executor's base allow-list"; an empty non-nil
	// slice means "no environment at all".
	Env []string

	// Stdin provides input to the command's standard input.
	Stdin string

	// Timeout caps execution time. Zero means the executor default.
	Timeout time.Duration

	// MaxOutputBytes caps captured stdout/stderr. Zero means the
	// executor default.
	MaxOutputBytes int64

	// RunID correlates this execution in the exec log. Assigned a
	// fresh UUID by the executor when empty.
	RunID string
}

// String returns the full command line for display and logging.
func (c Command) String() string {
	result := c.Binary
	for _, arg := range c.Args {
		result += " " + arg
	}
	return result
}

// Result is the outcome of a completed command.
type Result struct {
	// ExitCode is the command's exit code (-1 if it never ran).
	ExitCode int

	// Stdout is the captured standard output.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string

	// Duration is how long the command ran.
	Duration time.Duration

	// StartedAt is when execution began.
	StartedAt time.Time

	// FinishedAt is when execution completed.
	FinishedAt time.Time

	// Killed indicates the command was terminated by timeout or
	// context cancellation.
	Killed bool

	// KillReason explains why the command was killed.
	KillReason string

	// Truncated indicates output was cut off by the size limit.
	Truncated bool

	// TruncatedBytes is how many bytes were discarded.
	TruncatedBytes int64
}

// Output returns stdout and stderr joined for diagnostics.
func (r *Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes commands. The production implementation is Exec;
// tests substitute recording fakes so pipeline logic can be verified
// without spawning processes.
type Runner interface {
	// Run executes the command, waiting for it to exit. Non-zero
	// exits are returned as a Result, not an error.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// Interactive executes the command with stdio inherited from the
	// calling process, for external tools that prompt the user. Only
	// the exit code is available; output is not captured.
	Interactive(ctx context.Context, cmd Command) (int, error)
}

// Config is the executor configuration.
type Config struct {
	// DefaultDir is used when Command.Dir is empty.
	DefaultDir string

	// DefaultTimeout is used when Command.Timeout is zero.
	DefaultTimeout time.Duration

	// MaxTimeout caps all timeout values.
	MaxTimeout time.Duration

	// MaxOutputBytes caps output capture.
	MaxOutputBytes int64

	// AllowedEnvironment lists variables passed through from the
	// parent process when Command.Env is nil.
	AllowedEnvironment []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultDir:     ".",
		DefaultTimeout: 10 * time.Minute,
		MaxTimeout:     30 * time.Minute,
		MaxOutputBytes: 10 * 1024 * 1024, // 10MB
		AllowedEnvironment: []string{
			"PATH", "HOME", "USER", "LANG", "LC_ALL", "TERM",
			"TMPDIR", "TEMP", "TMP",
			"SSH_AUTH_SOCK", // key-based deploys need the agent
		},
	}
}

// merge applies config defaults to a command.
func (c Config) merge(cmd Command) Command {
	result := cmd
	if result.Dir == "" {
		result.Dir = c.DefaultDir
	}
	if result.Timeout == 0 {
		result.Timeout = c.DefaultTimeout
	}
	if c.MaxTimeout > 0 && result.Timeout > c.MaxTimeout {
		result.Timeout = c.MaxTimeout
	}
	if result.MaxOutputBytes == 0 {
		result.MaxOutputBytes = c.MaxOutputBytes
	}
	return result
}
