package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies what kind of pipeline event was recorded.
type AuditEventType string

const (
	// External tool executions
	AuditToolRun         AuditEventType = "tool_run"
	AuditToolInteractive AuditEventType = "tool_interactive"

	// Pipeline stages
	AuditBuild      AuditEventType = "build"
	AuditLink       AuditEventType = "link"
	AuditTestSuite  AuditEventType = "test_suite"
	AuditDeployStep AuditEventType = "deploy_step"
	AuditScaffold   AuditEventType = "scaffold"
)

// AuditEvent is one JSONL record in the audit log. Tool executions are
// correlated with the exec log via RunID.
type AuditEvent struct {
	Timestamp  int64          `json:"ts"` // Unix milliseconds
	EventType  AuditEventType `json:"event"`
	RunID      string         `json:"run,omitempty"`
	Module     string         `json:"module,omitempty"`
	Target     string         `json:"target,omitempty"` // tool binary, link path, deploy target
	ExitCode   int            `json:"exit"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"dur_ms,omitempty"`
	Message    string         `json:"msg,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger = &AuditLogger{}
)

// AuditLogger appends structured events to the audit log.
type AuditLogger struct{}

// InitAudit opens the audit log. A no-op unless debug mode is on.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	return auditLogger
}

// Log writes one audit event.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// ToolRun records a completed external command.
func (a *AuditLogger) ToolRun(runID, binary string, exitCode int, duration time.Duration) {
	a.Log(AuditEvent{
		EventType:  AuditToolRun,
		RunID:      runID,
		Target:     binary,
		ExitCode:   exitCode,
		Success:    exitCode == 0,
		DurationMs: duration.Milliseconds(),
	})
}

// ToolInteractive records a completed interactive command. Output is
// never captured for these, only the exit code.
func (a *AuditLogger) ToolInteractive(runID, binary string, exitCode int) {
	a.Log(AuditEvent{
		EventType: AuditToolInteractive,
		RunID:     runID,
		Target:    binary,
		ExitCode:  exitCode,
		Success:   exitCode == 0,
	})
}

// Stage records a pipeline-stage event (build, link, deploy step).
func (a *AuditLogger) Stage(event AuditEventType, moduleName, target string, success bool, msg string) {
	a.Log(AuditEvent{
		EventType: event,
		Module:    moduleName,
		Target:    target,
		Success:   success,
		Message:   msg,
	})
}
