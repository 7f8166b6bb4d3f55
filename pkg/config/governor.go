package config

import "time"

// GovernorConfig is the parameter set behind the Resource & Quota
// Governor (spec §4.9): where to reach the shared counter store, the
// wall-clock/concurrency ceilings every costly operation is wrapped
// with, and the sandbox resource caps C7 asks it to enforce.
type GovernorConfig struct {
	// RedisAddr is the "host:port" the governor's counters live at.
	// Quota state must be visible across worker pods, the same way
	// workflow claims are visible across pods through Postgres row
	// locks — a process-local counter would let every pod burn its own
	// independent quota.
	RedisAddr     string `yaml:"redis_addr" validate:"required"`
	RedisPassword string `yaml:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db"`

	// DefaultTimeout bounds any externally-costly call (model
	// invocation, tool dispatch, sandbox run) that doesn't specify its
	// own deadline.
	DefaultTimeout time.Duration `yaml:"default_timeout" validate:"required"`

	// MaxConcurrentTasks is the process-wide ceiling on in-flight
	// governed operations, independent of any per-resource quota.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" validate:"required,min=1"`

	// SandboxMemoryMB and SandboxTimeout mirror PlanConfig.Sandbox but
	// scoped to the governor's own admission check, so a sandbox step
	// is denied before it ever starts rather than killed mid-run for
	// exceeding a limit nobody checked up front.
	SandboxMemoryMB int           `yaml:"sandbox_memory_mb" validate:"required,min=1"`
	SandboxTimeout  time.Duration `yaml:"sandbox_timeout" validate:"required"`
}

// DefaultGovernorConfig returns the built-in governor defaults.
func DefaultGovernorConfig() *GovernorConfig {
	return &GovernorConfig{
		RedisAddr:          "localhost:6379",
		RedisDB:            0,
		DefaultTimeout:     60 * time.Second,
		MaxConcurrentTasks: 50,
		SandboxMemoryMB:    256,
		SandboxTimeout:     30 * time.Second,
	}
}
