// Package modelgateway implements the Model Invocation Gateway (spec
// §4.3): the single choke point every model call passes through. It
// resolves the system prompt, enforces timeout/token/sampling
// parameters, retries transient transport failures, and emits the
// model.request/model.response event pair.
package modelgateway

import "github.com/aard-ai/aard/pkg/models"

// exemptionKeys are the only SystemPromptOverride values that let a
// call through without a prompt resolving from C2 or disk.
var exemptionKeys = map[string]bool{"legacy": true, "test_mock": true}

// GenerationParams overrides the config-enforced defaults for one call;
// zero fields fall back to config.LLMConfig's defaults.
type GenerationParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// InvokeRequest is the gateway's sole entrypoint input.
type InvokeRequest struct {
	WorkflowID    string
	SessionID     string
	Stage         models.Stage
	ComponentRole string

	// ModelRef/ServerRef select the backend. Both set: that exact
	// server must serve the call, no fallback. Only ModelRef set: any
	// active server hosting that model is acceptable.
	ModelRef  string
	ServerRef string

	// SystemPromptOverride, if set, is used verbatim instead of
	// resolving through C2, unless it is one of exemptionKeys in which
	// case it signals "no resolved prompt required" rather than
	// literal prompt text.
	SystemPromptOverride string

	AgentID  string
	TaskType string

	UserPayload string
	Params      GenerationParams
}

// InvokeResponse is the gateway's sole entrypoint output.
type InvokeResponse struct {
	Content      string
	StopReason   string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	LatencyMs    float64
	PromptID     string
	PromptVer    int
}

func isExemptionKey(s string) bool {
	return exemptionKeys[s]
}
