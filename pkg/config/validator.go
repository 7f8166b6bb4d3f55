package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// Validator validates configuration comprehensively with clear error
// messages. Struct-tag constraints (validate:"required,min=1", ...) are
// checked with go-playground/validator; cross-section checks that a
// struct tag can't express (provider existence, jitter-vs-interval
// ordering) are hand-written below, in the teacher's hybrid style.
type Validator struct {
	cfg *Config
	v   *validator.Validate
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, v: validator.New()}
}

// ValidateAll performs comprehensive validation (fail-fast — stops at
// first error).
func (val *Validator) ValidateAll() error {
	sections := []struct {
		name string
		cfg  any
	}{
		{"llm", val.cfg.LLM},
		{"plan", val.cfg.Plan},
		{"step", val.cfg.Step},
		{"sandbox", val.cfg.Sandbox},
		{"approval", val.cfg.Approval},
		{"replan", val.cfg.Replan},
		{"server", val.cfg.Server},
		{"reflection", val.cfg.Reflection},
		{"governor", val.cfg.Governor},
	}
	for _, s := range sections {
		if err := val.v.Struct(s.cfg); err != nil {
			return fmt.Errorf("%s validation failed: %w", s.name, err)
		}
	}

	if err := val.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := val.validateApproval(); err != nil {
		return fmt.Errorf("approval validation failed: %w", err)
	}
	if err := val.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}
	if err := val.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	return nil
}

func (val *Validator) validateQueue() error {
	q := val.cfg.Queue
	if q == nil {
		return fmt.Errorf("queue configuration is nil")
	}

	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return fmt.Errorf("worker_count must be between 1 and 50, got %d", q.WorkerCount)
	}
	if q.MaxConcurrentWorkflows < 1 {
		return fmt.Errorf("max_concurrent_workflows must be at least 1, got %d", q.MaxConcurrentWorkflows)
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", q.PollInterval)
	}
	if q.PollIntervalJitter < 0 {
		return fmt.Errorf("poll_interval_jitter must be non-negative, got %v", q.PollIntervalJitter)
	}
	if q.PollIntervalJitter >= q.PollInterval {
		return fmt.Errorf("poll_interval_jitter must be less than poll_interval, got jitter=%v interval=%v", q.PollIntervalJitter, q.PollInterval)
	}
	if q.WorkflowTimeout <= 0 {
		return fmt.Errorf("workflow_timeout must be positive, got %v", q.WorkflowTimeout)
	}
	if q.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be positive, got %v", q.GracefulShutdownTimeout)
	}
	if q.OrphanDetectionInterval <= 0 {
		return fmt.Errorf("orphan_detection_interval must be positive, got %v", q.OrphanDetectionInterval)
	}
	if q.OrphanThreshold <= 0 {
		return fmt.Errorf("orphan_threshold must be positive, got %v", q.OrphanThreshold)
	}

	return nil
}

// validateApproval checks the cross-field invariants a struct tag can't
// express: the autonomy-level interpolation endpoints must stay ordered,
// and any explicit per-level threshold override must parse to a known
// autonomy level (0–4, spec §4.5).
func (val *Validator) validateApproval() error {
	a := val.cfg.Approval
	if a == nil {
		return fmt.Errorf("approval configuration is nil")
	}
	if !a.TimeoutPolicy.IsValid() {
		return NewValidationError("approval", "", "timeout_policy", fmt.Errorf("invalid timeout policy: %s", a.TimeoutPolicy))
	}
	if a.VeryHighThreshold <= 0 || a.VeryHighThreshold > 1 {
		return NewValidationError("approval", "", "very_high_threshold", fmt.Errorf("must be in (0, 1], got %v", a.VeryHighThreshold))
	}
	for level := range a.Thresholds {
		if level < 0 || level > 4 {
			return NewValidationError("approval", "", "thresholds", fmt.Errorf("autonomy level %d out of range [0,4]", level))
		}
	}
	return nil
}

func (val *Validator) validateLLMProviders() error {
	for name, provider := range val.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}
		if provider.APIKeyEnv != "" {
			if value := os.Getenv(provider.APIKeyEnv); value == "" {
				return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
			}
		}
		if provider.BaseURL != "" {
			if _, err := NormalizeServerURL(provider.BaseURL); err != nil {
				return NewValidationError("llm_provider", name, "base_url", err)
			}
		}
	}
	return nil
}

func (val *Validator) validateDefaults() error {
	defaults := val.cfg.Defaults
	if defaults == nil {
		return nil
	}

	if defaults.DefaultModelRef != "" && !val.cfg.LLMProviderRegistry.Has(defaults.DefaultModelRef) {
		return NewValidationError("defaults", "", "default_model_ref",
			fmt.Errorf("LLM provider '%s' not found", defaults.DefaultModelRef))
	}

	if defaults.RequestPayloadMasking != nil && defaults.RequestPayloadMasking.Enabled {
		builtin := GetBuiltinConfig()
		groupName := defaults.RequestPayloadMasking.PatternGroup
		if groupName == "" {
			return NewValidationError("defaults", "", "request_payload_masking.pattern_group",
				fmt.Errorf("pattern_group is required when request payload masking is enabled"))
		}
		if _, exists := builtin.PatternGroups[groupName]; !exists {
			return NewValidationError("defaults", "", "request_payload_masking.pattern_group",
				fmt.Errorf("pattern group '%s' not found in built-in groups", groupName))
		}
	}

	return nil
}
