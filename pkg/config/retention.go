package config

import "time"

// RetentionConfig controls data retention and cleanup behavior. The
// core only imposes ordering and immutability on the journal (spec
// §4.7); retention itself is an external policy this config exposes a
// knob for.
type RetentionConfig struct {
	// WorkflowRetentionDays is how many days to keep terminal workflows
	// before soft-deleting them (setting deleted_at).
	WorkflowRetentionDays int `yaml:"workflow_retention_days"`

	// EventTTL is the maximum age of orphaned ExecutionEvent rows before
	// deletion. Per-workflow cascade delete handles the normal case;
	// this is a safety net.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		WorkflowRetentionDays: 365,
		EventTTL:              1 * time.Hour,
		CleanupInterval:       12 * time.Hour,
	}
}
