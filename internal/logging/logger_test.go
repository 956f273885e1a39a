package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// resetState clears the package globals between tests. The logging
// package is process-global state, so tests serialize through it.
func resetState() {
	CloseAudit()
	CloseAll()
	workspace = ""
	logsDir = ""
	configMu.Lock()
	config = loggingConfig{}
	configLoaded = false
	logLevel = LevelInfo
	configMu.Unlock()
}

func initWorkspace(t *testing.T, configYAML string) string {
	t.Helper()
	resetState()
	t.Cleanup(resetState)

	dir := t.TempDir()
	if configYAML != "" {
		if err := os.MkdirAll(filepath.Join(dir, ".modforge"), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, ".modforge", "config.yml"), []byte(configYAML), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	if err := Initialize(dir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return dir
}

func TestCategoriesWriteFilesInDebugMode(t *testing.T) {
	dir := initWorkspace(t, `
logging:
  debug_mode: true
  level: debug
`)

	Build("building widget")
	Deploy("deploying widget")
	ExecDebug("ran a command")
	CloseAll()

	logFiles, err := filepath.Glob(filepath.Join(dir, ".modforge", "logs", "*.log"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}

	found := map[string]bool{}
	for _, f := range logFiles {
		for _, cat := range []string{"build", "deploy", "exec"} {
			if strings.Contains(filepath.Base(f), "_"+cat+".log") {
				found[cat] = true
				data, _ := os.ReadFile(f)
				if len(data) == 0 {
					t.Errorf("%s log is empty", cat)
				}
			}
		}
	}
	for _, cat := range []string{"build", "deploy", "exec"} {
		if !found[cat] {
			t.Errorf("no log file for category %s (got %v)", cat, logFiles)
		}
	}
}

func TestNoFilesWithoutDebugMode(t *testing.T) {
	dir := initWorkspace(t, "")

	Build("should go nowhere")
	Link("also nowhere")
	CloseAll()

	if _, err := os.Stat(filepath.Join(dir, ".modforge", "logs")); !os.IsNotExist(err) {
		t.Errorf("logs dir created despite debug mode off")
	}
}

func TestCategoryDisable(t *testing.T) {
	initWorkspace(t, `
logging:
  debug_mode: true
  categories:
    watch: false
`)

	if IsCategoryEnabled(CategoryWatch) {
		t.Error("watch category should be disabled")
	}
	if !IsCategoryEnabled(CategoryBuild) {
		t.Error("unlisted categories default to enabled")
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := initWorkspace(t, `
logging:
  debug_mode: true
  level: warn
`)

	l := Get(CategoryBuild)
	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line")
	CloseAll()

	logFiles, _ := filepath.Glob(filepath.Join(dir, ".modforge", "logs", "*_build.log"))
	if len(logFiles) != 1 {
		t.Fatalf("expected one build log, got %v", logFiles)
	}
	data, _ := os.ReadFile(logFiles[0])
	content := string(data)
	if strings.Contains(content, "debug line") || strings.Contains(content, "info line") {
		t.Errorf("below-level lines were written:\n%s", content)
	}
	if !strings.Contains(content, "warn line") {
		t.Errorf("warn line missing:\n%s", content)
	}
}

func TestAuditEventsAreJSONL(t *testing.T) {
	dir := initWorkspace(t, `
logging:
  debug_mode: true
`)

	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit: %v", err)
	}
	Audit().ToolRun("run-1", "npm", 0, 1200*time.Millisecond)
	Audit().Stage(AuditBuild, "widget-a", "dist/widget_a-1.0.tar.gz", true, "")
	CloseAudit()

	auditFiles, _ := filepath.Glob(filepath.Join(dir, ".modforge", "logs", "*_audit.log"))
	if len(auditFiles) != 1 {
		t.Fatalf("expected one audit log, got %v", auditFiles)
	}
	data, _ := os.ReadFile(auditFiles[0])
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit events, got %d:\n%s", len(lines), data)
	}

	var first AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("audit line is not valid JSON: %v", err)
	}
	if first.EventType != AuditToolRun || first.Target != "npm" || !first.Success {
		t.Errorf("unexpected first event: %+v", first)
	}
	if first.DurationMs != 1200 {
		t.Errorf("duration not recorded: %+v", first)
	}
}

func TestTimerLogsDuration(t *testing.T) {
	dir := initWorkspace(t, `
logging:
  debug_mode: true
  level: debug
`)

	timer := StartTimer(CategoryDeploy, "upload artifact")
	time.Sleep(5 * time.Millisecond)
	if d := timer.StopWithInfo(); d <= 0 {
		t.Errorf("timer returned non-positive duration %s", d)
	}
	CloseAll()

	logFiles, _ := filepath.Glob(filepath.Join(dir, ".modforge", "logs", "*_deploy.log"))
	if len(logFiles) != 1 {
		t.Fatalf("expected deploy log, got %v", logFiles)
	}
	data, _ := os.ReadFile(logFiles[0])
	if !strings.Contains(string(data), "upload artifact") {
		t.Errorf("timer entry missing:\n%s", data)
	}
}
