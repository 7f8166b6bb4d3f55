package config

import "time"

// QueueConfig contains queue and worker pool configuration.
// These values control how workflows are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently claims and drives workflows.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentWorkflows is the global limit of concurrent workflows
	// being processed across ALL replicas/pods. Enforced by a database
	// COUNT(*) check against the claimed-workflow set.
	MaxConcurrentWorkflows int `yaml:"max_concurrent_workflows"`

	// PollInterval is the base interval for checking pending sessions.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// WorkflowTimeout is the maximum time a workflow can be processed.
	WorkflowTimeout time.Duration `yaml:"workflow_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active workflows
	// to complete during shutdown. Should match WorkflowTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for orphaned workflows.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a workflow can go without a heartbeat
	// (last_interaction_at update) before it is considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentWorkflows:  5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		WorkflowTimeout:         15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
	}
}
