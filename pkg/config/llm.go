package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// LLMConfig holds the enforced, non-overridable-by-a-step parameters
// for every model call (spec §4.3, config keys llm.timeout_s,
// llm.max_tokens, llm.temperature, llm.top_p, llm.ctx_size).
type LLMConfig struct {
	TimeoutS    int     `yaml:"timeout_s" validate:"required,min=1"`
	MaxTokens   int     `yaml:"max_tokens" validate:"required,min=1"`
	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`
	TopP        float64 `yaml:"top_p" validate:"min=0,max=1"`
	CtxSize     int     `yaml:"ctx_size" validate:"required,min=1"`

	// RetryMaxAttempts bounds the exponential backoff before the gateway
	// raises ModelUnavailable.
	RetryMaxAttempts int `yaml:"retry_max_attempts" validate:"required,min=1"`
}

// Timeout returns TimeoutS as a time.Duration.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutS) * time.Second
}

// DefaultLLMConfig returns the built-in LLM enforcement defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		TimeoutS:         30,
		MaxTokens:        500,
		Temperature:      0.7,
		TopP:             1.0,
		CtxSize:          8192,
		RetryMaxAttempts: 3,
	}
}

// NormalizeServerURL reduces a base URL to scheme + host + standard API
// prefix so two configuration entries that point at the same server
// compare equal regardless of trailing slashes or query strings (spec
// §4.3 "comparisons are on normalized form").
func NormalizeServerURL(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	path := strings.TrimSuffix(u.Path, "/")
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path, nil
}

// LLMProviderConfig is one entry in the server_ref → backend mapping the
// Model Invocation Gateway resolves against. A "server" here is a
// deployed endpoint of a provider (e.g. two API keys against the same
// Anthropic model count as two servers) — this is what lets the gateway
// honor "server_ref given, model fails on that server ⇒ error, never
// silently fall back to another server" (spec §4.3).
type LLMProviderConfig struct {
	// Type is the backend SDK this server is reached through (required).
	Type LLMProviderType `yaml:"type" validate:"required"`

	// Model is the model name this server serves (required).
	Model string `yaml:"model" validate:"required"`

	// APIKeyEnv is the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// BaseURL overrides the provider's default endpoint; normalized
	// (scheme + host + standard API prefix) before comparison.
	BaseURL string `yaml:"base_url,omitempty"`
}

// LLMProviderRegistry stores LLM provider configurations in memory with thread-safe access
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry creates a new LLM provider registry
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*LLMProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &LLMProviderRegistry{
		providers: copied,
	}
}

// Get retrieves an LLM provider configuration by name (thread-safe)
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns all LLM provider configurations (thread-safe, returns copy)
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Return a copy to prevent external modification
	result := make(map[string]*LLMProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has checks if an LLM provider exists in the registry (thread-safe)
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Len returns the number of LLM providers in the registry (thread-safe)
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
