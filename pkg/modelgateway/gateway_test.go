package modelgateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePromptResolver struct {
	prompt *models.Prompt
	err    error
}

func (f *fakePromptResolver) GetActive(ctx context.Context, key models.ResolutionKey) (*models.Prompt, error) {
	return f.prompt, f.err
}

type fakeJournal struct {
	events []*models.ExecutionEvent
}

func (f *fakeJournal) Append(ctx context.Context, evt *models.ExecutionEvent) error {
	f.events = append(f.events, evt)
	return nil
}

type fakeCompleter struct {
	failCount int32
	calls     atomic.Int32
	result    *backendResult
	err       error
}

func (f *fakeCompleter) complete(ctx context.Context, systemPrompt, userPayload string, params GenerationParams) (*backendResult, error) {
	n := f.calls.Add(1)
	if n <= f.failCount {
		return nil, errors.New("transient backend error")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Defaults: &config.Defaults{DefaultModelRef: "anthropic-default"},
		LLM:      config.DefaultLLMConfig(),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"anthropic-default": {Type: config.LLMProviderTypeAnthropic, Model: "claude-3-5-sonnet-20241022", APIKeyEnv: "ANTHROPIC_API_KEY"},
			"anthropic-fast":    {Type: config.LLMProviderTypeAnthropic, Model: "claude-3-5-haiku-20241022", APIKeyEnv: "ANTHROPIC_API_KEY"},
		}),
	}
}

func testRuntimeContext() *models.RuntimeContext {
	return &models.RuntimeContext{WorkflowID: "wf-1", SessionID: "sess-1"}
}

func TestGateway_Invoke_ResolvesPromptAndCallsBackend(t *testing.T) {
	g := New(testConfig(), &fakePromptResolver{prompt: &models.Prompt{PromptID: "p1", Version: 2, Body: "you are helpful"}}, &fakeJournal{})
	fake := &fakeCompleter{result: &backendResult{Content: "hello", StopReason: "end_turn", InputTokens: 10, OutputTokens: 5}}
	g.newBackend = func(apiKey, model, baseURL string) completer { return fake }

	resp, err := g.Invoke(context.Background(), testRuntimeContext(), InvokeRequest{
		Stage: models.StageExecution, ComponentRole: "executor", UserPayload: "do the thing",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 15, resp.TotalTokens)
	assert.Equal(t, "p1", resp.PromptID)
	assert.Equal(t, 1, fake.calls.Load())
}

func TestGateway_Invoke_PromptNotFoundPropagates(t *testing.T) {
	wantErr := errors.New("no prompt")
	g := New(testConfig(), &fakePromptResolver{err: wantErr}, &fakeJournal{})

	_, err := g.Invoke(context.Background(), testRuntimeContext(), InvokeRequest{
		Stage: models.StageExecution, ComponentRole: "executor", UserPayload: "x",
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestGateway_Invoke_ExemptionKeySkipsPromptResolution(t *testing.T) {
	journal := &fakeJournal{}
	g := New(testConfig(), &fakePromptResolver{err: errors.New("should not be called")}, journal)
	fake := &fakeCompleter{result: &backendResult{Content: "ok", StopReason: "end_turn"}}
	g.newBackend = func(apiKey, model, baseURL string) completer { return fake }

	_, err := g.Invoke(context.Background(), testRuntimeContext(), InvokeRequest{
		Stage: models.StageExecution, ComponentRole: "executor", UserPayload: "x",
		SystemPromptOverride: "legacy",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, journal.events)
}

func TestGateway_Invoke_ServerRefModelMismatchErrors(t *testing.T) {
	g := New(testConfig(), &fakePromptResolver{prompt: &models.Prompt{PromptID: "p1", Body: "x"}}, &fakeJournal{})

	_, err := g.Invoke(context.Background(), testRuntimeContext(), InvokeRequest{
		Stage: models.StageExecution, ComponentRole: "executor", UserPayload: "x",
		ServerRef: "anthropic-fast", ModelRef: "claude-3-5-sonnet-20241022",
	})
	assert.Error(t, err)
}

func TestGateway_Invoke_RetriesTransientFailures(t *testing.T) {
	g := New(testConfig(), &fakePromptResolver{prompt: &models.Prompt{PromptID: "p1", Body: "x"}}, &fakeJournal{})
	g.cfg.LLM.RetryMaxAttempts = 3
	fake := &fakeCompleter{failCount: 2, result: &backendResult{Content: "recovered", StopReason: "end_turn"}}
	g.newBackend = func(apiKey, model, baseURL string) completer { return fake }

	resp, err := g.Invoke(context.Background(), testRuntimeContext(), InvokeRequest{
		Stage: models.StageExecution, ComponentRole: "executor", UserPayload: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(3), fake.calls.Load())
}

func TestGateway_Invoke_ExhaustedRetriesRaiseModelUnavailable(t *testing.T) {
	g := New(testConfig(), &fakePromptResolver{prompt: &models.Prompt{PromptID: "p1", Body: "x"}}, &fakeJournal{})
	g.cfg.LLM.RetryMaxAttempts = 2
	fake := &fakeCompleter{failCount: 10}
	g.newBackend = func(apiKey, model, baseURL string) completer { return fake }

	_, err := g.Invoke(context.Background(), testRuntimeContext(), InvokeRequest{
		Stage: models.StageExecution, ComponentRole: "executor", UserPayload: "x",
	})
	assert.Error(t, err)
	assert.Equal(t, int32(2), fake.calls.Load())
}

// fakeMessagesClient confirms anthropicBackend's request shaping against
// the real SDK params type without making a network call.
type fakeMessagesClient struct {
	captured sdk.MessageNewParams
}

func (f *fakeMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.captured = body
	return &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "hi"}},
		StopReason: sdk.StopReasonEndTurn,
	}, nil
}

func TestAnthropicBackend_Complete(t *testing.T) {
	fake := &fakeMessagesClient{}
	backend := &anthropicBackend{client: fake, model: "claude-3-5-sonnet-20241022"}

	result, err := backend.complete(context.Background(), "be nice", "hello", GenerationParams{MaxTokens: 100, Temperature: 0.5, TopP: 0.9})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Content)
	assert.Equal(t, "claude-3-5-sonnet-20241022", string(fake.captured.Model))
	assert.Len(t, fake.captured.System, 1)
	assert.Equal(t, "be nice", fake.captured.System[0].Text)
}
