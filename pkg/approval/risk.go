package approval

import (
	"context"

	"github.com/aard-ai/aard/pkg/capability"
	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/models"
)

// highRiskTag and externalActionTag are capability tags (CapabilityRecord
// .Capabilities) a registrant attaches to mark a tool or agent as
// inherently risky or as performing a side effect outside this system —
// e.g. "send_email", "file_delete", "payment_api" would carry
// externalActionTag. Neither tag is special-cased anywhere but here.
const (
	highRiskTag       = "high_risk"
	externalActionTag = "external_action"
)

// computeRisk folds steps into the weighted RiskAssessment spec §4.5
// describes: plan size, presence of high-risk steps, dependency depth,
// and external-action indicators, each scaled by a configured weight
// and summed into a 0..1 score. Resolution failures for a step's target
// capability are treated as "no signal from that step" rather than an
// error — a step dispatching straight to the model gateway (no
// agent_id/tool_id) contributes only its step-count weight.
func computeRisk(ctx context.Context, caps *capability.Registry, weights config.RiskWeights, steps []*models.Step) models.RiskAssessment {
	ra := models.RiskAssessment{StepCount: len(steps)}

	depthByStep := make(map[string]int, len(steps))
	for _, s := range steps {
		depthByStep[s.StepID] = dependencyDepth(s, steps, depthByStep, 0)
		if depthByStep[s.StepID] > ra.DependencyDepth {
			ra.DependencyDepth = depthByStep[s.StepID]
		}

		rec := resolveCapability(ctx, caps, s)
		if rec == nil {
			continue
		}
		if hasTag(rec.Capabilities, highRiskTag) {
			ra.HighRiskStepCount++
		}
		if hasTag(rec.Capabilities, externalActionTag) {
			ra.ExternalActions = append(ra.ExternalActions, rec.Name)
		}
	}

	score := weights.StepCount*float64(ra.StepCount) +
		weights.HighRiskStep*float64(ra.HighRiskStepCount) +
		weights.DependencyDepth*float64(ra.DependencyDepth) +
		weights.ExternalAction*float64(len(ra.ExternalActions))
	if score > 1 {
		score = 1
	}
	ra.Score = score
	return ra
}

// dependencyDepth is the longest dependency chain ending at s, computed
// recursively over the already-loaded step set (plans are small DAGs —
// spec §6 bounds plan.max_steps — so no memo table beyond depthByStep is
// needed to keep this from blowing up).
func dependencyDepth(s *models.Step, all []*models.Step, memo map[string]int, guard int) int {
	if guard > len(all) {
		return 0 // cyclic dependency guard; store.Create doesn't validate acyclicity today
	}
	if len(s.Dependencies) == 0 {
		return 0
	}
	byID := make(map[string]*models.Step, len(all))
	for _, step := range all {
		byID[step.StepID] = step
	}

	max := 0
	for _, depID := range s.Dependencies {
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		d := 1 + dependencyDepth(dep, all, memo, guard+1)
		if d > max {
			max = d
		}
	}
	return max
}

func resolveCapability(ctx context.Context, caps *capability.Registry, s *models.Step) *models.CapabilityRecord {
	var id *string
	switch {
	case s.AgentID != nil:
		id = s.AgentID
	case s.ToolID != nil:
		id = s.ToolID
	default:
		return nil
	}
	rec, err := caps.Get(ctx, *id)
	if err != nil {
		return nil
	}
	return rec
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// trustForSteps returns the target agent's trust score spec §4.5 weighs
// against TrustThreshold: the score of the single distinct agent the
// steps target, the minimum across several distinct agents (the more
// conservative reading when a plan fans out across agents), or 1.0 (no
// restriction) when no step targets an agent at all.
func trustForSteps(ctx context.Context, caps *capability.Registry, steps []*models.Step) float64 {
	seen := make(map[string]bool)
	trust := 1.0
	found := false

	for _, s := range steps {
		if s.AgentID == nil {
			continue
		}
		if seen[*s.AgentID] {
			continue
		}
		seen[*s.AgentID] = true

		rec, err := caps.Get(ctx, *s.AgentID)
		if err != nil {
			continue
		}
		found = true
		if rec.TrustScore < trust {
			trust = rec.TrustScore
		}
	}

	if !found {
		return 1.0
	}
	return trust
}
