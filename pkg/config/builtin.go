package config

// MaskingPatternConfig is one built-in regex-based redaction pattern.
type MaskingPatternConfig struct {
	Pattern     string
	Replacement string
	Description string
}

// BuiltinConfig holds the configuration that ships with the binary:
// the default LLM provider catalog and the masking pattern library used
// by pkg/masking to redact secrets from request/tool payloads before
// they are persisted into the event journal.
type BuiltinConfig struct {
	DefaultModelRef string
	LLMProviders    map[string]LLMProviderConfig

	// PatternGroups names a set of MaskingPatterns/CodeMaskers entries,
	// referenced from defaults.request_payload_masking.pattern_group.
	PatternGroups map[string][]string

	MaskingPatterns map[string]MaskingPatternConfig

	// CodeMaskers are masking routines implemented in Go rather than as
	// regexes (e.g. JSON-aware secret stripping); named the same way so
	// a pattern group can mix both kinds.
	CodeMaskers []string
}

// GetBuiltinConfig returns the built-in defaults baked into the binary.
func GetBuiltinConfig() *BuiltinConfig {
	return &BuiltinConfig{
		DefaultModelRef: "anthropic-default",
		LLMProviders: map[string]LLMProviderConfig{
			"anthropic-default": {
				Type:      LLMProviderTypeAnthropic,
				Model:     "claude-3-5-sonnet-20241022",
				APIKeyEnv: "ANTHROPIC_API_KEY",
			},
		},
		PatternGroups: map[string][]string{
			"security": {"aws_access_key", "bearer_token", "api_key_generic", "private_key", "kubernetes_secret"},
		},
		MaskingPatterns: map[string]MaskingPatternConfig{
			"aws_access_key": {
				Pattern:     `AKIA[0-9A-Z]{16}`,
				Replacement: "***AWS_ACCESS_KEY***",
				Description: "AWS access key ID",
			},
			"bearer_token": {
				Pattern:     `(?i)bearer\s+[A-Za-z0-9\-_.]+`,
				Replacement: "Bearer ***REDACTED***",
				Description: "HTTP Bearer token",
			},
			"api_key_generic": {
				Pattern:     `(?i)(api[_-]?key|token|secret)["']?\s*[:=]\s*["']?[A-Za-z0-9\-_]{16,}`,
				Replacement: "$1=***REDACTED***",
				Description: "Generic key=value secret assignment",
			},
			"private_key": {
				Pattern:     `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]+?-----END [A-Z ]*PRIVATE KEY-----`,
				Replacement: "***PRIVATE_KEY_REDACTED***",
				Description: "PEM private key block",
			},
		},
		CodeMaskers: []string{"kubernetes_secret"},
	}
}
