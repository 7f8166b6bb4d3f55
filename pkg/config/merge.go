package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergeLLMProviders merges built-in and user-defined LLM provider
// configurations. User-defined providers override built-in providers
// with the same name.
func mergeLLMProviders(builtinProviders, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig, len(builtinProviders)+len(userProviders))
	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}
	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}
	return result
}

// mergeInto merges src onto a freshly-built defaults value of the same
// type, with src's non-zero fields overriding the defaults, then
// returns the merged value. Used for every singleton config section
// (LLM, plan, step, sandbox, approval, replan, quota, server, queue)
// so a user YAML file only needs to name the keys it wants to change.
func mergeInto[T any](defaults *T, override *T) (*T, error) {
	if override == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, override, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge config section: %w", err)
	}
	return defaults, nil
}
