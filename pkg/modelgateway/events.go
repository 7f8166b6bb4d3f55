package modelgateway

import (
	"context"
	"os"

	"github.com/aard-ai/aard/pkg/models"
)

const componentNameGateway = "modelgateway"

func (g *Gateway) emitRequest(ctx context.Context, rc *models.RuntimeContext, req InvokeRequest, promptID string, promptVersion int, paramDigest string) error {
	evt := &models.ExecutionEvent{
		WorkflowID:     rc.WorkflowID,
		SessionID:      rc.SessionID,
		Stage:          req.Stage,
		ComponentRole:  req.ComponentRole,
		ComponentName:  componentNameGateway,
		DecisionSource: models.DecisionSourceAuto,
		Status:         models.EventStatusOK,
		InputSummary:   "model.request " + paramDigest,
		OutputSummary:  "",
	}
	if promptID != "" && promptID != "override" {
		evt.PromptID = &promptID
		v := promptVersion
		evt.PromptVersion = &v
	}
	return g.journal.Append(ctx, evt)
}

func (g *Gateway) emitResponse(ctx context.Context, rc *models.RuntimeContext, req InvokeRequest, status models.EventStatus, latencyMs float64, inputTokens, outputTokens int, outputSummary, reason string) error {
	evt := &models.ExecutionEvent{
		WorkflowID:     rc.WorkflowID,
		SessionID:      rc.SessionID,
		Stage:          req.Stage,
		ComponentRole:  req.ComponentRole,
		ComponentName:  componentNameGateway,
		DecisionSource: models.DecisionSourceAuto,
		Status:         status,
		InputSummary:   "",
		OutputSummary:  outputSummary,
		Metadata: map[string]any{
			"latency_ms":    latencyMs,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
	}
	if reason != "" {
		evt.ReasonCode = &reason
	}
	return g.journal.Append(ctx, evt)
}

func apiKeyFromEnv(envVar string) string {
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}
