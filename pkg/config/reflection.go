package config

import "time"

// ReflectionConfig is the parameter set behind the Reflection &
// Meta-Learning Sink (spec §4.6): whether to spend a model call on a
// structured analysis versus a purely rule-based outcome categorization,
// and how long a proposed InterpretationBias stays active before it
// decays and the interpretation stage stops consulting it.
type ReflectionConfig struct {
	// Enabled gates the sink outright; a deployment with no reflection
	// budget can disable it and the executor's ReflectionSink collaborator
	// stays nil (spec §4.2: "invokes Reflection with the failure" is
	// conditioned on a non-nil sink, not mandatory wiring).
	Enabled bool `yaml:"enabled"`

	// UseModel calls C4 with the reflection-stage prompt to produce the
	// structured analysis (spec §4.6: "may call C4"); when false, outcome
	// categorization falls back to the rule-based classifier alone.
	UseModel bool `yaml:"use_model"`

	// BiasDecay is how long a proposed InterpretationBias remains active
	// before decayed_at is set and the interpretation stage stops
	// consulting it.
	BiasDecay time.Duration `yaml:"bias_decay"`

	// DefaultConfidence seeds Confidence on a bias proposal when the
	// model-assisted path is disabled or declines to produce one.
	DefaultConfidence float64 `yaml:"default_confidence" validate:"min=0,max=1"`

	// ModelRef/ServerRef select the backend for the reflection-stage
	// model call; empty lets C4 resolve against its default.
	ModelRef  string `yaml:"model_ref"`
	ServerRef string `yaml:"server_ref"`
}

// DefaultReflectionConfig returns the built-in reflection defaults.
func DefaultReflectionConfig() *ReflectionConfig {
	return &ReflectionConfig{
		Enabled:           true,
		UseModel:          true,
		BiasDecay:         30 * 24 * time.Hour,
		DefaultConfidence: 0.5,
	}
}
