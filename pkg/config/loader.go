package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AardYAMLConfig represents the complete aard.yaml file structure: one
// section per configuration concern, every section optional (omitted
// sections fall back entirely to the built-in defaults).
type AardYAMLConfig struct {
	Defaults   *Defaults         `yaml:"defaults"`
	LLM        *LLMConfig        `yaml:"llm"`
	Plan       *PlanConfig       `yaml:"plan"`
	Step       *StepConfig       `yaml:"step"`
	Sandbox    *SandboxConfig    `yaml:"sandbox"`
	Approval   *ApprovalConfig   `yaml:"approval"`
	Replan     *ReplanConfig     `yaml:"replan"`
	Quota      *QuotaConfig      `yaml:"quota"`
	Server     *ServerConfig     `yaml:"server"`
	Queue      *QueueConfig      `yaml:"queue"`
	Retention  *RetentionConfig  `yaml:"retention"`
	Reflection *ReflectionConfig `yaml:"reflection"`
	Governor   *GovernorConfig   `yaml:"governor"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file
// structure: the server_ref → backend mapping the Model Invocation
// Gateway resolves against.
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load aard.yaml and llm-providers.yaml from configDir
//  2. Expand environment variables
//  3. Merge every section onto its built-in defaults
//  4. Build the LLM provider registry
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"llm_providers", stats.LLMProviders,
		"quota_entries", stats.QuotaEntries)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	aard, err := loader.loadAardYAML()
	if err != nil {
		return nil, NewLoadError("aard.yaml", err)
	}

	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	builtin := GetBuiltinConfig()
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	defaults := aard.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.DefaultModelRef == "" {
		defaults.DefaultModelRef = builtin.DefaultModelRef
	}
	if defaults.RequestPayloadMasking == nil {
		defaults.RequestPayloadMasking = &MaskingDefaults{Enabled: true, PatternGroup: "security"}
	}

	llm, err := mergeInto(DefaultLLMConfig(), aard.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm config: %w", err)
	}
	plan, err := mergeInto(DefaultPlanConfig(), aard.Plan)
	if err != nil {
		return nil, fmt.Errorf("plan config: %w", err)
	}
	step, err := mergeInto(DefaultStepConfig(), aard.Step)
	if err != nil {
		return nil, fmt.Errorf("step config: %w", err)
	}
	sandbox, err := mergeInto(DefaultSandboxConfig(), aard.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("sandbox config: %w", err)
	}
	approval, err := mergeInto(DefaultApprovalConfig(), aard.Approval)
	if err != nil {
		return nil, fmt.Errorf("approval config: %w", err)
	}
	replan, err := mergeInto(DefaultReplanConfig(), aard.Replan)
	if err != nil {
		return nil, fmt.Errorf("replan config: %w", err)
	}
	quota, err := mergeInto(DefaultQuotaConfig(), aard.Quota)
	if err != nil {
		return nil, fmt.Errorf("quota config: %w", err)
	}
	server, err := mergeInto(DefaultServerConfig(), aard.Server)
	if err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	queue, err := mergeInto(DefaultQueueConfig(), aard.Queue)
	if err != nil {
		return nil, fmt.Errorf("queue config: %w", err)
	}
	retention, err := mergeInto(DefaultRetentionConfig(), aard.Retention)
	if err != nil {
		return nil, fmt.Errorf("retention config: %w", err)
	}
	reflection, err := mergeInto(DefaultReflectionConfig(), aard.Reflection)
	if err != nil {
		return nil, fmt.Errorf("reflection config: %w", err)
	}
	governor, err := mergeInto(DefaultGovernorConfig(), aard.Governor)
	if err != nil {
		return nil, fmt.Errorf("governor config: %w", err)
	}

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		LLM:                 llm,
		Plan:                plan,
		Step:                step,
		Sandbox:             sandbox,
		Approval:            approval,
		Replan:              replan,
		Quota:               quota,
		Server:              server,
		Queue:               queue,
		Retention:           retention,
		Reflection:          reflection,
		Governor:            governor,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadAardYAML() (*AardYAMLConfig, error) {
	var cfg AardYAMLConfig
	if err := l.loadYAML("aard.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var cfg LLMProvidersYAMLConfig
	cfg.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &cfg); err != nil {
		return nil, err
	}

	return cfg.LLMProviders, nil
}
