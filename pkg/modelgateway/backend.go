package modelgateway

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// backendResult is the backend-agnostic shape translateMessage fills in
// from a provider SDK response.
type backendResult struct {
	Content      string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// messagesClient captures the subset of the Anthropic SDK used by the
// gateway, so tests can substitute a fake without a live API key.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// anthropicBackend is the default model backend: one configured SDK
// client per server_ref, matching the one-client-per-backend shape of
// the gRPC LLM client it replaces.
type anthropicBackend struct {
	client messagesClient
	model  string
}

func newAnthropicBackend(apiKey, model, baseURL string) *anthropicBackend {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := sdk.NewClient(opts...)
	return &anthropicBackend{client: &client.Messages, model: model}
}

func (b *anthropicBackend) complete(ctx context.Context, systemPrompt, userPayload string, params GenerationParams) (*backendResult, error) {
	body := sdk.MessageNewParams{
		Model:     sdk.Model(b.model),
		MaxTokens: int64(params.MaxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(userPayload))},
	}
	if systemPrompt != "" {
		body.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	if params.Temperature > 0 {
		body.Temperature = sdk.Float(params.Temperature)
	}
	if params.TopP > 0 {
		body.TopP = sdk.Float(params.TopP)
	}

	msg, err := b.client.New(ctx, body)
	if err != nil {
		return nil, err
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &backendResult{
		Content:      content,
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}
