package config

// Defaults contains system-wide default values applied when a request
// doesn't specify its own options.
type Defaults struct {
	// DefaultModelRef is the LLM provider entry used when a request's
	// options don't name one.
	DefaultModelRef string `yaml:"default_model_ref,omitempty"`

	// RequestPayloadMasking redacts secret/PII patterns from request
	// payloads before they're persisted into ExecutionEvents.
	RequestPayloadMasking *MaskingDefaults `yaml:"request_payload_masking,omitempty"`
}

// MaskingDefaults configures pkg/masking's redaction of event payloads
// before they are written to the journal.
type MaskingDefaults struct {
	Enabled      bool   `yaml:"enabled"`
	PatternGroup string `yaml:"pattern_group"`
}
