package testsupport

import (
	"path/filepath"
	"testing"

	"assessflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "assessflow.sock")
	cfgVal.Events.Archive = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithMemoryStore selects the in-memory store driver.
func WithMemoryStore() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Driver = "memory"
	}
}

// WithEventArchive enables the JSONL event archive under the data dir.
func WithEventArchive() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Events.Archive = true
	}
}

// WithMaxConcurrent overrides the workflow ceiling.
func WithMaxConcurrent(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxConcurrent = n
	}
}

// WithFastQueue shortens the scheduling tick so tests do not wait on it.
func WithFastQueue() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.TickInterval = 1
		b.cfg.Queue.ErrorBackoff = 1
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
