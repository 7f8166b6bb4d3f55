package modelgateway

import (
	"context"
	"fmt"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/masking"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/cenkalti/backoff/v4"
)

// backendFactory builds a backend for one resolved (model, server)
// pair; swapped out in tests.
type backendFactory func(apiKey, model, baseURL string) completer

type completer interface {
	complete(ctx context.Context, systemPrompt, userPayload string, params GenerationParams) (*backendResult, error)
}

func (f backendFactory) build(apiKey, model, baseURL string) completer { return f(apiKey, model, baseURL) }

// Gateway is the concrete Model Invocation Gateway. It owns one backend
// client per server_ref, lazily built and cached, mirroring how the
// teacher's agent.LLMClient owns a single long-lived connection per
// configured backend rather than dialing per call.
type Gateway struct {
	cfg     *config.Config
	prompts models.PromptResolver
	journal models.EventJournal
	masker  *masking.Service

	newBackend backendFactory
	backends   map[string]completer
}

// SetMasker wires in the defaults.request_payload_masking redaction
// pass applied to journaled response summaries. Optional: a Gateway
// with no masker journals response content unredacted.
func (g *Gateway) SetMasker(m *masking.Service) {
	g.masker = m
}

// New returns a Gateway backed by cfg's LLM enforcement defaults and
// provider registry, resolving prompts through prompts and recording
// the model.request/model.response pair through journal.
func New(cfg *config.Config, prompts models.PromptResolver, journal models.EventJournal) *Gateway {
	return &Gateway{
		cfg:        cfg,
		prompts:    prompts,
		journal:    journal,
		newBackend: func(apiKey, model, baseURL string) completer { return newAnthropicBackend(apiKey, model, baseURL) },
		backends:   make(map[string]completer),
	}
}

// Invoke resolves the system prompt and target backend for req, calls
// the model with the configured timeout/retry policy, and emits the
// model.request/model.response event pair to the journal.
func (g *Gateway) Invoke(ctx context.Context, rc *models.RuntimeContext, req InvokeRequest) (*InvokeResponse, error) {
	prompt, promptID, promptVersion, err := g.resolvePrompt(ctx, req)
	if err != nil {
		return nil, err
	}

	server, err := g.resolveServer(req)
	if err != nil {
		return nil, err
	}

	params := g.effectiveParams(req.Params)
	paramDigest := fmt.Sprintf("max_tokens=%d,temperature=%.2f,top_p=%.2f", params.MaxTokens, params.Temperature, params.TopP)

	if rc.Governor != nil {
		if err := rc.Governor.Admit(ctx, "llm_requests", 1); err != nil {
			return nil, err
		}
		defer rc.Governor.Release(ctx, "llm_requests", 1)
	}

	if err := g.emitRequest(ctx, rc, req, promptID, promptVersion, paramDigest); err != nil {
		return nil, err
	}

	backendClient, err := g.backendFor(server)
	if err != nil {
		return nil, err
	}

	timeout := g.cfg.LLM.Timeout()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := timeNow()
	result, callErr := g.callWithRetry(callCtx, backendClient, prompt, req.UserPayload, params)
	latencyMs := float64(timeNow().Sub(start).Milliseconds())

	if callErr != nil {
		status := models.EventStatusError
		kind := apierrors.KindModelUnavailable
		if callCtx.Err() != nil {
			kind = apierrors.KindModelTimeout
		}
		_ = g.emitResponse(ctx, rc, req, status, latencyMs, 0, 0, "", callErr.Error())
		return nil, apierrors.Wrap(kind, "model invocation failed", callErr)
	}

	summary := truncate(result.Content, 500)
	if g.masker != nil {
		summary = g.masker.Mask(summary)
	}
	_ = g.emitResponse(ctx, rc, req, models.EventStatusOK, latencyMs, result.InputTokens, result.OutputTokens, summary, "")

	if rc.Governor != nil {
		// Token cost is only known after the call returns, so this charges
		// the counter after the fact rather than gating admission on it —
		// the next call is what gets denied once the budget is spent.
		tokens := float64(result.InputTokens + result.OutputTokens)
		if err := rc.Governor.Admit(ctx, "llm_tokens", tokens); err != nil {
			return nil, err
		}
		rc.Governor.Release(ctx, "llm_tokens", tokens)
	}

	return &InvokeResponse{
		Content:      result.Content,
		StopReason:   result.StopReason,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		TotalTokens:  result.InputTokens + result.OutputTokens,
		LatencyMs:    latencyMs,
		PromptID:     promptID,
		PromptVer:    promptVersion,
	}, nil
}

// resolvePrompt applies the resolution order (explicit override → C2
// lookup by experiment/agent/global → disk fallback) and the exemption
// keys that let a call through with no resolved prompt at all.
func (g *Gateway) resolvePrompt(ctx context.Context, req InvokeRequest) (body, promptID string, version int, err error) {
	if req.SystemPromptOverride != "" {
		if isExemptionKey(req.SystemPromptOverride) {
			return "", req.SystemPromptOverride, 0, nil
		}
		return req.SystemPromptOverride, "override", 0, nil
	}

	prompt, err := g.prompts.GetActive(ctx, models.ResolutionKey{
		Stage: req.Stage, ComponentRole: req.ComponentRole,
		AgentID: req.AgentID, ModelID: req.ModelRef, TaskType: req.TaskType,
	})
	if err != nil {
		return "", "", 0, err
	}
	return prompt.Body, prompt.PromptID, prompt.Version, nil
}

// resolveServer picks the server to call. Both ModelRef and ServerRef
// set: that exact server is required, no fallback on failure. Only
// ModelRef set: any provider entry serving that model is acceptable.
func (g *Gateway) resolveServer(req InvokeRequest) (*config.LLMProviderConfig, error) {
	if req.ServerRef != "" {
		server, err := g.cfg.GetLLMProvider(req.ServerRef)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindModelUnavailable, "server_ref not found: "+req.ServerRef, err)
		}
		if req.ModelRef != "" && server.Model != req.ModelRef {
			return nil, apierrors.New(apierrors.KindModelUnavailable,
				fmt.Sprintf("server %q does not serve model %q", req.ServerRef, req.ModelRef))
		}
		return server, nil
	}

	if req.ModelRef != "" {
		for _, server := range g.cfg.LLMProviderRegistry.GetAll() {
			if server.Model == req.ModelRef {
				return server, nil
			}
		}
		return nil, apierrors.New(apierrors.KindModelUnavailable, "no active server hosts model "+req.ModelRef)
	}

	defaultRef := ""
	if g.cfg.Defaults != nil {
		defaultRef = g.cfg.Defaults.DefaultModelRef
	}
	server, err := g.cfg.GetLLMProvider(defaultRef)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindModelUnavailable, "no model_ref/server_ref given and no default configured", err)
	}
	return server, nil
}

func (g *Gateway) effectiveParams(p GenerationParams) GenerationParams {
	out := p
	if out.MaxTokens <= 0 {
		out.MaxTokens = g.cfg.LLM.MaxTokens
	}
	if out.Temperature <= 0 {
		out.Temperature = g.cfg.LLM.Temperature
	}
	if out.TopP <= 0 {
		out.TopP = g.cfg.LLM.TopP
	}
	return out
}

func (g *Gateway) backendFor(server *config.LLMProviderConfig) (completer, error) {
	key := server.Model + "|" + server.BaseURL
	if b, ok := g.backends[key]; ok {
		return b, nil
	}
	apiKey := apiKeyFromEnv(server.APIKeyEnv)
	b := g.newBackend.build(apiKey, server.Model, server.BaseURL)
	g.backends[key] = b
	return b, nil
}

// callWithRetry wraps one model call in cenkalti/backoff's exponential
// strategy, capped at LLMConfig.RetryMaxAttempts, matching the "retries
// with exponential backoff up to N" contract spec §4.3 names.
func (g *Gateway) callWithRetry(ctx context.Context, b completer, systemPrompt, userPayload string, params GenerationParams) (*backendResult, error) {
	var result *backendResult

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(g.cfg.LLM.RetryMaxAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		r, err := b.complete(ctx, systemPrompt, userPayload, params)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var timeNow = time.Now
