package reflection

import (
	"context"
	"fmt"
	"time"

	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/journal"
	"github.com/aard-ai/aard/pkg/modelgateway"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/aard-ai/aard/pkg/promptregistry"
)

const componentNameReflection = "reflection"

// Sink is the concrete Reflection & Meta-Learning Sink. It owns no
// execution authority — its only persistent outputs are
// InterpretationBias proposals and prompt usage metrics (spec §4.6) —
// mirroring the teacher's SynthesisController in
// pkg/agent/controller/synthesis.go, a tool-less single LLM call that
// folds a prior stage's trail into one structured result, generalized
// here from "synthesize an investigation" to "categorize an outcome and
// propose interpretation biases".
type Sink struct {
	biases  *BiasStore
	journal *journal.Journal
	prompts *promptregistry.Registry
	gateway *modelgateway.Gateway
	cfg     *config.ReflectionConfig
}

// New returns a Sink. gateway may be nil, in which case outcome
// categorization falls back to the rule-based path regardless of
// cfg.UseModel.
func New(biases *BiasStore, j *journal.Journal, prompts *promptregistry.Registry, gateway *modelgateway.Gateway, cfg *config.ReflectionConfig) *Sink {
	return &Sink{biases: biases, journal: j, prompts: prompts, gateway: gateway, cfg: cfg}
}

// OnStepFailure satisfies plan.ReflectionSink: it is invoked inline, the
// moment a step failure crosses the replan threshold (spec §4.2:
// "invokes Reflection with the failure"). This is a narrower pass than
// Reflect — the workflow is still in flight, not yet terminal — so it
// only records the failure to the journal and, for failures that look
// like an interpretation mismatch rather than a transient fault,
// proposes a low-confidence bias a human or a later full Reflect pass
// can corroborate.
func (s *Sink) OnStepFailure(ctx context.Context, rc *models.RuntimeContext, p *models.Plan, step *models.Step, c models.Classification) error {
	if !s.cfg.Enabled {
		return nil
	}

	summary := fmt.Sprintf("step %s failed: category=%s severity=%s", step.StepID, c.Category, c.Severity)
	_ = s.journal.Append(ctx, &models.ExecutionEvent{
		WorkflowID:     p.WorkflowID,
		SessionID:      rc.SessionID,
		Stage:          models.StageReflection,
		ComponentRole:  componentNameReflection,
		ComponentName:  componentNameReflection,
		DecisionSource: models.DecisionSourceRule,
		Status:         models.EventStatusWarn,
		InputSummary:   "step_id=" + step.StepID,
		OutputSummary:  summary,
	})

	if c.Category != models.CategoryValidation {
		return nil
	}

	_, err := s.biases.Propose(ctx, &models.InterpretationBias{
		WorkflowID:              p.WorkflowID,
		Condition:               fmt.Sprintf("plan goal resembles %q", truncate(p.Goal, 120)),
		PreferredInterpretation: "re-check function_call parameter mapping against the tool's schema before replanning this shape of step",
		Confidence:              s.cfg.DefaultConfidence * 0.5,
		Source:                  models.BiasSourceReflection,
	})
	return err
}

// Reflect runs the full post-terminal-workflow analysis (spec §4.6):
// categorize the outcome from the event trail, the final artifact, and
// any human feedback already attached, optionally asking C4 for a
// structured analysis, then persisting whatever InterpretationBias
// proposals and prompt metric updates the analysis produced. It never
// mutates wf or any plan/step record — those belong to C6/C7.
func (s *Sink) Reflect(ctx context.Context, rc *models.RuntimeContext, wf *models.Workflow, finalArtifact string, humanFeedback string) (*models.ReflectionResult, error) {
	if !s.cfg.Enabled {
		return &models.ReflectionResult{WorkflowID: wf.WorkflowID, Outcome: models.OutcomeSuccess}, nil
	}

	events, err := s.journal.ByWorkflow(ctx, models.EventFilter{WorkflowID: wf.WorkflowID})
	if err != nil {
		return nil, err
	}

	outcome, summary := categorize(wf, events, humanFeedback)
	if s.cfg.UseModel && s.gateway != nil {
		if analysis, ok := s.callModel(ctx, rc, wf, events, finalArtifact, humanFeedback); ok {
			summary = analysis
		}
	}

	result := &models.ReflectionResult{WorkflowID: wf.WorkflowID, Outcome: outcome, Summary: summary}

	if bias := proposeOutcomeBias(wf, outcome, s.cfg.DefaultConfidence); bias != nil {
		stored, err := s.biases.Propose(ctx, bias)
		if err != nil {
			return nil, err
		}
		result.Biases = append(result.Biases, *stored)
	}

	s.updatePromptMetrics(ctx, events, outcome == models.OutcomeSuccess)

	_ = s.journal.Append(ctx, &models.ExecutionEvent{
		WorkflowID:     wf.WorkflowID,
		SessionID:      wf.SessionID,
		Stage:          models.StageReflection,
		ComponentRole:  componentNameReflection,
		ComponentName:  componentNameReflection,
		DecisionSource: models.DecisionSourceAuto,
		Status:         models.EventStatusOK,
		InputSummary:   fmt.Sprintf("events=%d", len(events)),
		OutputSummary:  "outcome=" + string(outcome),
	})

	return result, nil
}

// categorize applies spec §4.6's rule-based fallback: the workflow's
// own terminal state and reason_code decide between the five outcomes,
// refined by whether the event trail shows any warn/error events along
// the way (a COMPLETED workflow that limped through retries is
// partial_success, not a clean success).
func categorize(wf *models.Workflow, events []*models.ExecutionEvent, humanFeedback string) (models.ReflectionOutcome, string) {
	switch wf.CurrentState {
	case models.WorkflowCancelled:
		return models.OutcomeExecutionFailure, "workflow was cancelled before completion"

	case models.WorkflowFailed:
		reason := ""
		if wf.ReasonCode != nil {
			reason = *wf.ReasonCode
		}
		if reason == "human_rejected" {
			return models.OutcomeGoalDrift, "human rejected the plan at the approval gate"
		}
		return models.OutcomeExecutionFailure, "workflow failed: reason_code=" + reason

	case models.WorkflowCompleted:
		if humanFeedback != "" {
			return models.OutcomeSemanticMismatch, "completed, but human feedback attached suggests a mismatch: " + truncate(humanFeedback, 200)
		}
		degraded := false
		for _, e := range events {
			if e.Status == models.EventStatusError {
				degraded = true
				break
			}
		}
		if degraded {
			return models.OutcomePartialSuccess, "completed after recovering from at least one error event"
		}
		return models.OutcomeSuccess, "completed with no error events in the trail"

	default:
		return models.OutcomeExecutionFailure, "workflow reflected upon before reaching a terminal state"
	}
}

// callModel asks C4 for a structured analysis with the reflection-stage
// prompt (spec §4.6: "may call C4"). A resolution or invocation failure
// falls back to the rule-based summary rather than failing the sink —
// reflection's output is advisory, never load-bearing.
func (s *Sink) callModel(ctx context.Context, rc *models.RuntimeContext, wf *models.Workflow, events []*models.ExecutionEvent, finalArtifact, humanFeedback string) (string, bool) {
	payload := fmt.Sprintf(
		"Original request: %s\nFinal state: %s\nEvents: %d\nFinal artifact: %s\nHuman feedback: %s",
		wf.OriginalRequest, wf.CurrentState, len(events), truncate(finalArtifact, 1000), truncate(humanFeedback, 500),
	)

	resp, err := s.gateway.Invoke(ctx, rc, modelgateway.InvokeRequest{
		WorkflowID:    wf.WorkflowID,
		SessionID:     wf.SessionID,
		Stage:         models.StageReflection,
		ComponentRole: componentNameReflection,
		ModelRef:      s.cfg.ModelRef,
		ServerRef:     s.cfg.ServerRef,
		UserPayload:   payload,
	})
	if err != nil {
		return "", false
	}
	return resp.Content, true
}

// proposeOutcomeBias turns a semantic_mismatch or goal_drift outcome
// into a concrete, advisory InterpretationBias; other outcomes carry no
// actionable interpretation signal.
func proposeOutcomeBias(wf *models.Workflow, outcome models.ReflectionOutcome, defaultConfidence float64) *models.InterpretationBias {
	switch outcome {
	case models.OutcomeSemanticMismatch:
		return &models.InterpretationBias{
			WorkflowID:              wf.WorkflowID,
			Condition:               fmt.Sprintf("request resembles %q", truncate(wf.OriginalRequest, 120)),
			PreferredInterpretation: "lower-confidence interpretation of this request shape produced a result the requester flagged as a mismatch; weigh alternate interpretations more heavily",
			Confidence:              defaultConfidence,
			Source:                  models.BiasSourceReflection,
		}
	case models.OutcomeGoalDrift:
		return &models.InterpretationBias{
			WorkflowID:              wf.WorkflowID,
			Condition:               fmt.Sprintf("request resembles %q", truncate(wf.OriginalRequest, 120)),
			PreferredInterpretation: "the plan this request produced required human rejection; prefer a lower autonomy default or narrower scope for this request shape",
			Confidence:              defaultConfidence,
			Source:                  models.BiasSourceReflection,
		}
	default:
		return nil
	}
}

// updatePromptMetrics records success against every distinct prompt the
// event trail shows was actually used, so the prompt registry's
// success-rate tracking reflects this workflow's final outcome even
// though the individual model.response events were recorded mid-flight
// without knowing how the workflow would ultimately end.
func (s *Sink) updatePromptMetrics(ctx context.Context, events []*models.ExecutionEvent, success bool) {
	seen := make(map[string]bool)
	for _, e := range events {
		if e.PromptID == nil || seen[*e.PromptID] {
			continue
		}
		seen[*e.PromptID] = true
		_ = s.prompts.RecordUsage(ctx, *e.PromptID, success, 0)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// DecayBiases sweeps every InterpretationBias older than cfg.BiasDecay
// and marks it decayed (spec §4.6: "temporal decay"). Intended to run
// on a periodic sweep alongside approval.Gate.ExpireTimeouts.
func (s *Sink) DecayBiases(ctx context.Context) (int, error) {
	return s.biases.DecayOlderThan(ctx, time.Now().Add(-s.cfg.BiasDecay))
}
