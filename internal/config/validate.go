package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateRecovery(); err != nil {
		return err
	}
	if err := c.validateAgents(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxConcurrent <= 0 {
		return errors.New("workflow.max_concurrent must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.TickInterval <= 0 {
		return errors.New("queue.tick_interval must be positive")
	}
	if c.Queue.ErrorBackoff <= 0 {
		return errors.New("queue.error_backoff must be positive")
	}
	if c.Queue.ImmediateThreshold < 0 {
		return errors.New("queue.immediate_threshold must be zero or positive")
	}
	if c.Queue.StallProcessingHours <= 0 || c.Queue.StallReviewHours <= 0 {
		return errors.New("queue stall thresholds must be positive")
	}
	return nil
}

func (c *Config) validateRecovery() error {
	if c.Recovery.MaxAttempts < 0 {
		return errors.New("recovery.max_attempts must be zero or positive")
	}
	return nil
}

func (c *Config) validateAgents() error {
	if c.Agents.QueueCapacity <= 0 {
		return errors.New("agents.queue_capacity must be positive")
	}
	if c.Agents.Workers <= 0 {
		return errors.New("agents.workers must be positive")
	}
	if c.Agents.MaxConcurrentTasks < 1 || c.Agents.MaxConcurrentTasks > 100 {
		return errors.New("agents.max_concurrent_tasks must be between 1 and 100")
	}
	if c.Agents.RetryAttempts < 0 || c.Agents.RetryAttempts > 10 {
		return errors.New("agents.retry_attempts must be between 0 and 10")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.BufferSize <= 0 {
		return errors.New("events.buffer_size must be positive")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "sqlite", "memory":
		return nil
	default:
		return fmt.Errorf("store.driver: unsupported value %q (want sqlite or memory)", c.Store.Driver)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}
