package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
}

// Workflow contains the workflow manager's concurrency ceiling.
type Workflow struct {
	MaxConcurrent int `toml:"max_concurrent"`
}

// Queue contains scheduling tick and stall detection settings. Durations are
// expressed in seconds or hours as their names indicate.
type Queue struct {
	TickInterval         int `toml:"tick_interval"`
	ErrorBackoff         int `toml:"error_backoff"`
	ImmediateThreshold   int `toml:"immediate_threshold"`
	StallProcessingHours int `toml:"stall_processing_hours"`
	StallReviewHours     int `toml:"stall_review_hours"`
}

// Recovery contains the error handler's retry budget.
type Recovery struct {
	MaxAttempts int `toml:"max_attempts"`
}

// Agents contains dispatch pool sizing and agent session limits.
type Agents struct {
	QueueCapacity      int `toml:"queue_capacity"`
	Workers            int `toml:"workers"`
	MaxConcurrentTasks int `toml:"max_concurrent_tasks"`
	RetryAttempts      int `toml:"retry_attempts"`
}

// Events contains message router settings.
type Events struct {
	BufferSize int  `toml:"buffer_size"`
	Archive    bool `toml:"archive"`
}

// Store selects the persistence backend.
type Store struct {
	Driver string `toml:"driver"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for assessflow.
//
// Configuration sections by subsystem:
//   - Paths: data, log and socket locations
//   - Workflow: concurrency ceiling for started workflows
//   - Queue: scheduling tick, error backoff and stall thresholds
//   - Recovery: automated recovery budget per workflow
//   - Agents: per-type dispatch queues and session limits
//   - Events: router buffer and on-disk archive
//   - Store: persistence backend
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Workflow Workflow `toml:"workflow"`
	Queue    Queue    `toml:"queue"`
	Recovery Recovery `toml:"recovery"`
	Agents   Agents   `toml:"agents"`
	Events   Events   `toml:"events"`
	Store    Store    `toml:"store"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("assessflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file used by the persistence store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "assessflow.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "assessflowd.lock")
}

// PIDPath returns the file recording the running daemon's process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "assessflowd.pid")
}

// EventArchiveDir returns the directory holding event journals.
func (c *Config) EventArchiveDir() string {
	return filepath.Join(c.Paths.LogDir, "events")
}

// TickInterval returns the queue scheduling interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Queue.TickInterval) * time.Second
}

// ErrorBackoff returns the delay applied after a failed scheduling tick.
func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.Queue.ErrorBackoff) * time.Second
}

// StallThresholds maps stage ids to the elapsed time after which a running
// stage is reported as possibly stalled.
func (c *Config) StallThresholds() map[string]time.Duration {
	processing := time.Duration(c.Queue.StallProcessingHours) * time.Hour
	review := time.Duration(c.Queue.StallReviewHours) * time.Hour
	return map[string]time.Duration{
		"assessment":    processing,
		"analysis":      review,
		"documentation": review,
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
