package config

// Config is the umbrella configuration object covering every tunable
// named in the configuration surface: LLM enforcement, plan/step/sandbox
// bounds, adaptive approval weights, replan policy, resource quotas, the
// HTTP/WS listener, the queue/worker pool, and retention.
//
// This is the primary object returned by Initialize() and threaded
// through the orchestration core's components.
type Config struct {
	configDir string

	Defaults *Defaults

	LLM        *LLMConfig
	Plan       *PlanConfig
	Step       *StepConfig
	Sandbox    *SandboxConfig
	Approval   *ApprovalConfig
	Replan     *ReplanConfig
	Quota      *QuotaConfig
	Server     *ServerConfig
	Queue      *QueueConfig
	Retention  *RetentionConfig
	Reflection *ReflectionConfig
	Governor   *GovernorConfig

	LLMProviderRegistry *LLMProviderRegistry
}

// Initialize is defined in loader.go

// ConfigStats contains statistics about loaded configuration, useful for
// a single startup log line.
type ConfigStats struct {
	LLMProviders int
	QuotaEntries int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		LLMProviders: c.LLMProviderRegistry.Len(),
		QuotaEntries: len(c.Quota.Resources),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}
