package modelgateway

import (
	"context"

	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/models"
)

// FakeCompletion is the canned result a test backend returns for one
// call; Err short-circuits straight to a backend error.
type FakeCompletion struct {
	Content      string
	StopReason   string
	InputTokens  int
	OutputTokens int
	Err          error
}

// fakeBackendFunc adapts a plain function to the unexported completer
// interface so NewForTesting doesn't need to expose backendResult.
type fakeBackendFunc func(ctx context.Context, systemPrompt, userPayload string, params GenerationParams) FakeCompletion

func (f fakeBackendFunc) complete(ctx context.Context, systemPrompt, userPayload string, params GenerationParams) (*backendResult, error) {
	c := f(ctx, systemPrompt, userPayload, params)
	if c.Err != nil {
		return nil, c.Err
	}
	return &backendResult{Content: c.Content, StopReason: c.StopReason, InputTokens: c.InputTokens, OutputTokens: c.OutputTokens}, nil
}

// NewForTesting returns a Gateway identical to New except every backend
// call is answered by respond instead of dialing a real provider.
// Exported for scenario-level tests outside this package (e.g.
// pkg/queue's orchestrator tests) that need a deterministic stand-in
// for C4 without a live API key, the same role the teacher's
// agent.LLMClient interface played for its own callers' tests.
func NewForTesting(cfg *config.Config, prompts models.PromptResolver, journal models.EventJournal, respond func(ctx context.Context, systemPrompt, userPayload string, params GenerationParams) FakeCompletion) *Gateway {
	g := New(cfg, prompts, journal)
	g.newBackend = backendFactory(func(apiKey, model, baseURL string) completer { return fakeBackendFunc(respond) })
	return g
}
