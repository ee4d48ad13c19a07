package config

import "time"

// ExecutorConfig contains worker pool configuration.
type ExecutorConfig struct {
	// MaxConcurrentJobs is the number of workers, and therefore the number
	// of analysis jobs running at once.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// QueueSize is the submit buffer; submissions beyond running+buffered
	// capacity are rejected rather than queued unboundedly.
	QueueSize int `yaml:"queue_size"`

	// ShutdownTimeout is the max time to wait for running jobs to finish
	// during graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DefaultExecutorConfig returns the built-in executor defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrentJobs: 5,
		QueueSize:         32,
		ShutdownTimeout:   Dur(30 * time.Second),
	}
}
