package config

import "time"

// PlanConfig bounds the plan lifecycle and step dispatch (spec §5/§6:
// plan.timeout_s, plan.max_steps, plan.total_timeout_s; max_parallel_steps
// is new, backing the optional DAG-independent parallel dispatch).
type PlanConfig struct {
	TimeoutS         int `yaml:"timeout_s" validate:"required,min=1"`
	MaxSteps         int `yaml:"max_steps" validate:"required,min=1"`
	TotalTimeoutS    int `yaml:"total_timeout_s" validate:"required,min=1"`

	// MaxParallelSteps sizes the semaphore bounding concurrent
	// DAG-independent step dispatch. 1 means serial (spec §5 default).
	MaxParallelSteps int `yaml:"max_parallel_steps" validate:"required,min=1"`
}

// Timeout returns TimeoutS as a time.Duration.
func (c *PlanConfig) Timeout() time.Duration { return time.Duration(c.TimeoutS) * time.Second }

// TotalTimeout returns TotalTimeoutS as a time.Duration; it supersedes
// per-step timeouts (spec §5).
func (c *PlanConfig) TotalTimeout() time.Duration {
	return time.Duration(c.TotalTimeoutS) * time.Second
}

// DefaultPlanConfig returns the built-in plan defaults.
func DefaultPlanConfig() *PlanConfig {
	return &PlanConfig{
		TimeoutS:         600,
		MaxSteps:         25,
		TotalTimeoutS:    1800,
		MaxParallelSteps: 1,
	}
}

// StepConfig bounds a single step's wall-clock (spec §6: step.timeout_s).
type StepConfig struct {
	TimeoutS int `yaml:"timeout_s" validate:"required,min=1"`
}

// Timeout returns TimeoutS as a time.Duration.
func (c *StepConfig) Timeout() time.Duration { return time.Duration(c.TimeoutS) * time.Second }

// DefaultStepConfig returns the built-in step defaults.
func DefaultStepConfig() *StepConfig {
	return &StepConfig{TimeoutS: 120}
}

// SandboxConfig bounds sandboxed code execution (spec §6:
// code.sandbox.timeout_s, code.sandbox.memory_mb).
type SandboxConfig struct {
	TimeoutS int `yaml:"timeout_s" validate:"required,min=1"`
	MemoryMB int `yaml:"memory_mb" validate:"required,min=1"`
}

// Timeout returns TimeoutS as a time.Duration.
func (c *SandboxConfig) Timeout() time.Duration { return time.Duration(c.TimeoutS) * time.Second }

// DefaultSandboxConfig returns the built-in sandbox defaults.
func DefaultSandboxConfig() *SandboxConfig {
	return &SandboxConfig{TimeoutS: 30, MemoryMB: 256}
}

// ReplanConfig controls auto-replanning on classified step failures
// (spec §4.2: replan.max_attempts, replan.on_severity_threshold).
type ReplanConfig struct {
	MaxAttempts int `yaml:"max_attempts" validate:"required,min=1"`

	// OnSeverityThreshold is the minimum severity a classified failure
	// must reach to trigger a replan ("medium", "high", or "critical");
	// critical always replans regardless. Defaults to "high" per spec
	// §9's Open Question resolution (see DESIGN.md).
	OnSeverityThreshold string `yaml:"on_severity_threshold" validate:"required,oneof=medium high critical"`
}

// DefaultReplanConfig returns the built-in replan defaults.
func DefaultReplanConfig() *ReplanConfig {
	return &ReplanConfig{MaxAttempts: 3, OnSeverityThreshold: "high"}
}
