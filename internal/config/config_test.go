package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"assessflow/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "assessflow")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.SocketPath != filepath.Join(wantData, "assessflow.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.Paths.SocketPath)
	}
	if cfg.Workflow.MaxConcurrent != 10 {
		t.Fatalf("expected ceiling 10, got %d", cfg.Workflow.MaxConcurrent)
	}
	if cfg.TickInterval() != 5*time.Minute {
		t.Fatalf("expected 5m tick, got %s", cfg.TickInterval())
	}
	if cfg.ErrorBackoff() != time.Minute {
		t.Fatalf("expected 60s backoff, got %s", cfg.ErrorBackoff())
	}
	if cfg.Recovery.MaxAttempts != 3 {
		t.Fatalf("expected 3 recovery attempts, got %d", cfg.Recovery.MaxAttempts)
	}
	if cfg.Queue.ImmediateThreshold != 3 {
		t.Fatalf("expected immediate threshold 3, got %d", cfg.Queue.ImmediateThreshold)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("unexpected store driver: %q", cfg.Store.Driver)
	}
}

func TestStallThresholds(t *testing.T) {
	cfg := config.Default()
	thresholds := cfg.StallThresholds()
	if thresholds["assessment"] != 48*time.Hour {
		t.Fatalf("assessment threshold = %s", thresholds["assessment"])
	}
	for _, stage := range []string{"analysis", "documentation"} {
		if thresholds[stage] != 24*time.Hour {
			t.Fatalf("%s threshold = %s", stage, thresholds[stage])
		}
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := struct {
		Paths    map[string]any `toml:"paths"`
		Workflow map[string]any `toml:"workflow"`
		Queue    map[string]any `toml:"queue"`
		Store    map[string]any `toml:"store"`
		Logging  map[string]any `toml:"logging"`
	}{
		Paths:    map[string]any{"data_dir": "~/custom"},
		Workflow: map[string]any{"max_concurrent": 4},
		Queue:    map[string]any{"tick_interval": 30},
		Store:    map[string]any{"driver": " Memory "},
		Logging:  map[string]any{"format": "JSON", "level": "Debug"},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "custom") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.LogDir != filepath.Join(tempHome, ".local", "share", "assessflow", "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Workflow.MaxConcurrent != 4 {
		t.Fatalf("unexpected ceiling: %d", cfg.Workflow.MaxConcurrent)
	}
	if cfg.TickInterval() != 30*time.Second {
		t.Fatalf("unexpected tick: %s", cfg.TickInterval())
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("expected normalized driver, got %q", cfg.Store.Driver)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging, got %+v", cfg.Logging)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[workflow]\nmax_concurent = 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"ceiling":  func(c *config.Config) { c.Workflow.MaxConcurrent = 0 },
		"tick":     func(c *config.Config) { c.Queue.TickInterval = 0 },
		"backoff":  func(c *config.Config) { c.Queue.ErrorBackoff = -1 },
		"stall":    func(c *config.Config) { c.Queue.StallReviewHours = 0 },
		"budget":   func(c *config.Config) { c.Recovery.MaxAttempts = -1 },
		"capacity": func(c *config.Config) { c.Agents.QueueCapacity = 0 },
		"tasks":    func(c *config.Config) { c.Agents.MaxConcurrentTasks = 101 },
		"driver":   func(c *config.Config) { c.Store.Driver = "postgres" },
		"format":   func(c *config.Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(content), "max_concurrent = 10") {
		t.Fatalf("sample missing workflow ceiling: %s", content)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
}
