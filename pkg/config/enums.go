package config

// LLMProviderType defines the supported model-backend SDKs.
type LLMProviderType string

const (
	// LLMProviderTypeAnthropic talks to the Anthropic Messages API via
	// anthropic-sdk-go — the default and only built-in backend.
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
)

// IsValid checks if the LLM provider type is valid.
func (t LLMProviderType) IsValid() bool {
	return t == LLMProviderTypeAnthropic
}
