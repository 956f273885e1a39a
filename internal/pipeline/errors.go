// Package pipeline defines the error taxonomy shared by every modforge
// component. The orchestrator distinguishes three fatal classes (failed
// preconditions, failed external tools, user cancellation) because each
// one maps to a different exit code and a different remediation story.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes reported by the modforge binary.
const (
	ExitOK           = 0
	ExitToolFailure  = 1
	ExitPrecondition = 2
	ExitCancelled    = 3
)

// ErrCancelled is returned when the user declines a confirmation prompt.
// It is a clean, zero-side-effect stop, not an error condition: nothing
// was uploaded, installed, or restarted.
var ErrCancelled = errors.New("cancelled by user")

// PreconditionError reports a missing prerequisite (module not found,
// host runtime not set up, package marker absent). These are never
// retried automatically; Remediation tells the user what to run instead.
type PreconditionError struct {
	Reason      string
	Remediation string
}

func (e *PreconditionError) Error() string {
	if e.Remediation == "" {
		return e.Reason
	}
	return e.Reason + "\n  → " + e.Remediation
}

// Preconditionf builds a PreconditionError with a formatted reason.
func Preconditionf(remediation, format string, args ...any) *PreconditionError {
	return &PreconditionError{
		Reason:      fmt.Sprintf(format, args...),
		Remediation: remediation,
	}
}

// ToolError reports a non-zero exit from an external tool. The tool's
// own output is carried verbatim so the caller can print it without the
// user needing to re-run with extra flags. modforge never interprets or
// masks the underlying exit code.
type ToolError struct {
	Step     string // pipeline step name, e.g. "ui-build", "upload"
	Tool     string // binary that failed, e.g. "npm", "scp"
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %s exited with code %d", e.Step, e.Tool, e.ExitCode)
	out := strings.TrimSpace(e.Output)
	if out != "" {
		msg += "\n" + out
	}
	return msg
}

// ExitCodeFor maps an error to the process exit code. External tool
// failures propagate the tool's own exit code when it is meaningful.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, ErrCancelled) {
		return ExitCancelled
	}
	var pre *PreconditionError
	if errors.As(err, &pre) {
		return ExitPrecondition
	}
	var tool *ToolError
	if errors.As(err, &tool) && tool.ExitCode > 0 {
		return tool.ExitCode
	}
	return ExitToolFailure
}
