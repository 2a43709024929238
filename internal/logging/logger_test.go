package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"assessflow/internal/config"
	"assessflow/internal/logging"
	"assessflow/internal/services"
)

func TestNewFromConfigConsole(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
	logger.Info("console message")

	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "assessflow.log")); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

func TestConsoleLoggerOmitsSourceForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without source")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no source information in info logs, got %q", content)
	}
	if strings.Contains(string(content), "\x1b[") {
		t.Fatalf("expected no color codes in file output, got %q", content)
	}
}

func TestConsoleLoggerIncludesSourceForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")

	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with source")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected source information in debug logs, got %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "context.json")
	base, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := context.Background()
	ctx = services.WithWorkflowID(ctx, "wf_123")
	ctx = services.WithStage(ctx, "analysis")
	ctx = services.WithRequestID(ctx, "req-xyz")

	logging.WithContext(ctx, base).Info("contextual log")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for key, want := range map[string]string{
		logging.FieldWorkflowID:    "wf_123",
		logging.FieldStage:         "analysis",
		logging.FieldCorrelationID: "req-xyz",
		"level":                    "info",
		"msg":                      "contextual log",
	} {
		if got, _ := record[key].(string); got != want {
			t.Fatalf("field %s = %q, want %q", key, got, want)
		}
	}
	if _, ok := record["ts"]; !ok {
		t.Fatal("expected ts key")
	}
}

func TestWarnWithContextFillsMissingFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.json")
	base, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(base, "queue tick failed", "queue_tick_failed",
		logging.String(logging.FieldImpact, "scheduling delayed"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if got := record[logging.FieldEventType]; got != "queue_tick_failed" {
		t.Fatalf("event_type = %v", got)
	}
	if got := record[logging.FieldImpact]; got != "scheduling delayed" {
		t.Fatalf("call-site impact should win, got %v", got)
	}
	if hint, _ := record[logging.FieldErrorHint].(string); hint == "" {
		t.Fatal("expected a default error_hint")
	}
}

func TestCleanupOldLogsRemovesExpiredFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/logs"
	old := filepath.Join(dir, "assessflow-old.log")
	fresh := filepath.Join(dir, "assessflow-new.log")
	keep := filepath.Join(dir, "assessflow-current.log")
	for _, path := range []string{old, fresh, keep} {
		if err := afero.WriteFile(fs, path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -30)
	if err := fs.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := fs.Chtimes(keep, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed := logging.CleanupOldLogs(fs, logging.NewNop(), 7,
		logging.RetentionTarget{Dir: dir, Pattern: "assessflow-*.log", Exclude: []string{keep}})
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if exists, _ := afero.Exists(fs, old); exists {
		t.Fatal("expected expired log removed")
	}
	for _, path := range []string{fresh, keep} {
		if exists, _ := afero.Exists(fs, path); !exists {
			t.Fatalf("expected %s kept", path)
		}
	}
}
