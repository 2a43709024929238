package config

const (
	defaultConfigPath           = "~/.config/assessflow/config.toml"
	defaultDataDir              = "~/.local/share/assessflow"
	defaultLogDir               = "~/.local/share/assessflow/logs"
	defaultSocketName           = "assessflow.sock"
	defaultMaxConcurrent        = 10
	defaultTickInterval         = 300
	defaultErrorBackoff         = 60
	defaultImmediateThreshold   = 3
	defaultStallProcessingHours = 48
	defaultStallReviewHours     = 24
	defaultRecoveryAttempts     = 3
	defaultAgentQueueCapacity   = 16
	defaultAgentWorkers         = 2
	defaultAgentMaxTasks        = 4
	defaultAgentRetryAttempts   = 3
	defaultEventBufferSize      = 1024
	defaultStoreDriver          = "sqlite"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Workflow: Workflow{
			MaxConcurrent: defaultMaxConcurrent,
		},
		Queue: Queue{
			TickInterval:         defaultTickInterval,
			ErrorBackoff:         defaultErrorBackoff,
			ImmediateThreshold:   defaultImmediateThreshold,
			StallProcessingHours: defaultStallProcessingHours,
			StallReviewHours:     defaultStallReviewHours,
		},
		Recovery: Recovery{
			MaxAttempts: defaultRecoveryAttempts,
		},
		Agents: Agents{
			QueueCapacity:      defaultAgentQueueCapacity,
			Workers:            defaultAgentWorkers,
			MaxConcurrentTasks: defaultAgentMaxTasks,
			RetryAttempts:      defaultAgentRetryAttempts,
		},
		Events: Events{
			BufferSize: defaultEventBufferSize,
			Archive:    true,
		},
		Store: Store{
			Driver: defaultStoreDriver,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
