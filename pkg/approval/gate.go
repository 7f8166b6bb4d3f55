package approval

import (
	"context"
	"strconv"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/capability"
	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/aard-ai/aard/pkg/pipeline"
)

const componentNameApproval = "approval"

// Gate is the concrete Adaptive Approval Gate (spec §4.5). It owns no
// execution logic itself — it scores a plan's steps against the
// requesting workflow's autonomy level and either clears the plan
// silently or parks it behind a human decision, mirroring the way the
// teacher's ScoringController in pkg/agent/controller/scoring.go scores
// a turn's output and returns a structured verdict for its caller to
// act on, generalized here from "score a response" to "score a plan's
// risk and an agent's trust".
type Gate struct {
	store   *Store
	caps    *capability.Registry
	machine *pipeline.Machine
	journal models.EventJournal
	cfg     *config.ApprovalConfig
}

// New returns a Gate backed by store, caps, machine, and journal,
// governed by cfg.
func New(store *Store, caps *capability.Registry, machine *pipeline.Machine, journal models.EventJournal, cfg *config.ApprovalConfig) *Gate {
	return &Gate{store: store, caps: caps, machine: machine, journal: journal, cfg: cfg}
}

// EvaluateStep satisfies pkg/plan's ApprovalGate contract: it is
// consulted once per dispatch attempt of a step the plan flagged
// approval_required. The approval decision itself is plan-scoped, not
// per-step — see DESIGN.md's discussion of why the approval_requests
// table carries no step_id — so the first step in a plan to reach this
// gate triggers the plan-wide risk/trust assessment, and every
// subsequent step in the same plan reuses whatever that assessment
// produced (auto-clear, pending, approved, or rejected) without
// re-scoring.
func (g *Gate) EvaluateStep(ctx context.Context, rc *models.RuntimeContext, p *models.Plan, step *models.Step) (*models.ApprovalRequest, error) {
	existing, err := g.store.LatestForPlan(ctx, p.PlanID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	risk := computeRisk(ctx, g.caps, g.cfg.RiskWeights, p.Steps)
	trust := trustForSteps(ctx, g.caps, p.Steps)
	if !requireApproval(g.cfg, p.AutonomyLevel, risk.Score, trust) {
		g.recordDecision(ctx, rc, p, risk, models.DecisionSourceAuto, "auto-approved: below risk/trust threshold")
		return nil, nil
	}

	req, err := g.store.Create(ctx, &models.ApprovalRequest{
		PlanID:          p.PlanID,
		WorkflowID:      p.WorkflowID,
		RiskAssessment:  risk,
		Recommendation:  recommendation(risk, trust),
		Status:          models.ApprovalPending,
		DecisionTimeout: time.Now().Add(g.cfg.DecisionTimeout()),
	})
	if err != nil {
		return nil, err
	}
	g.recordDecision(ctx, rc, p, risk, models.DecisionSourceRule, "approval required: "+req.Recommendation)
	return req, nil
}

// EvaluatePlan is the plan-level entry point spec §4.5 primarily
// describes: called once planning completes, before the workflow would
// otherwise move straight to APPROVED, it drives the workflow to either
// APPROVED (auto) or APPROVAL_PENDING (human decision required) itself,
// since both are valid edges out of PLANNING.
func (g *Gate) EvaluatePlan(ctx context.Context, rc *models.RuntimeContext, p *models.Plan) (*models.ApprovalRequest, error) {
	risk := computeRisk(ctx, g.caps, g.cfg.RiskWeights, p.Steps)
	trust := trustForSteps(ctx, g.caps, p.Steps)

	if !requireApproval(g.cfg, p.AutonomyLevel, risk.Score, trust) {
		g.recordDecision(ctx, rc, p, risk, models.DecisionSourceAuto, "auto-approved: below risk/trust threshold")
		if _, err := g.machine.Advance(ctx, p.WorkflowID, pipeline.AdvanceRequest{To: models.WorkflowApproved, Source: models.DecisionSourceAuto}); err != nil {
			return nil, err
		}
		return nil, nil
	}

	req, err := g.store.Create(ctx, &models.ApprovalRequest{
		PlanID:          p.PlanID,
		WorkflowID:      p.WorkflowID,
		RiskAssessment:  risk,
		Recommendation:  recommendation(risk, trust),
		Status:          models.ApprovalPending,
		DecisionTimeout: time.Now().Add(g.cfg.DecisionTimeout()),
	})
	if err != nil {
		return nil, err
	}
	if _, err := g.machine.Advance(ctx, p.WorkflowID, pipeline.AdvanceRequest{To: models.WorkflowApprovalPending, Source: models.DecisionSourceRule}); err != nil {
		return nil, err
	}
	g.recordDecision(ctx, rc, p, risk, models.DecisionSourceRule, "approval required: "+req.Recommendation)
	return req, nil
}

// Decide records a human decision and advances the workflow: approved
// moves PLANNING's APPROVAL_PENDING workflow to APPROVED; rejected fails
// it with reason_code=human_rejected (spec §4.5).
func (g *Gate) Decide(ctx context.Context, requestID string, decision models.DecideApprovalRequest) (*models.ApprovalRequest, error) {
	var status models.ApprovalStatus
	switch decision.Decision {
	case "approved":
		status = models.ApprovalApproved
	case "rejected":
		status = models.ApprovalRejected
	default:
		return nil, apierrors.New(apierrors.KindInvalidRequest, "decision must be approved or rejected, got "+decision.Decision)
	}

	actor := decision.Actor
	req, err := g.store.Decide(ctx, requestID, status, &actor)
	if err != nil {
		return nil, err
	}

	if status == models.ApprovalApproved {
		_, err = g.machine.Advance(ctx, req.WorkflowID, pipeline.AdvanceRequest{To: models.WorkflowApproved, Source: models.DecisionSourceHuman})
	} else {
		_, err = g.machine.Advance(ctx, req.WorkflowID, pipeline.AdvanceRequest{To: models.WorkflowFailed, ReasonCode: "human_rejected", Source: models.DecisionSourceHuman})
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ExpireTimeouts applies cfg.TimeoutPolicy to every pending request past
// its decision_timeout (spec §4.5: "On timeout: configurable policy,
// default FAILED"). escalate has no paging/notification channel wired
// into this core to escalate to, so it is treated the same as fail —
// an honest simplification recorded in DESIGN.md rather than a
// fabricated notification path.
func (g *Gate) ExpireTimeouts(ctx context.Context) (int, error) {
	expired, err := g.store.ListExpiredPending(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, req := range expired {
		switch g.cfg.TimeoutPolicy {
		case config.TimeoutPolicyAutoApprove:
			if _, err := g.Decide(ctx, req.RequestID, models.DecideApprovalRequest{Decision: "approved", Actor: "timeout_policy"}); err != nil {
				return count, err
			}
		default: // fail, escalate
			if _, err := g.Decide(ctx, req.RequestID, models.DecideApprovalRequest{Decision: "rejected", Actor: "timeout_policy"}); err != nil {
				return count, err
			}
		}
		count++
	}
	return count, nil
}

func requireApproval(cfg *config.ApprovalConfig, autonomy int, risk, trust float64) bool {
	thr := cfg.ThresholdsFor(autonomy)
	return risk >= thr.RiskThreshold || trust < thr.TrustThreshold
}

func recommendation(risk models.RiskAssessment, trust float64) string {
	if len(risk.ExternalActions) > 0 {
		return "plan performs external actions; review before proceeding"
	}
	if risk.HighRiskStepCount > 0 {
		return "plan contains high-risk steps; review before proceeding"
	}
	if trust < 0.5 {
		return "target agent has low trust score; review before proceeding"
	}
	return "elevated risk score; review before proceeding"
}

func (g *Gate) recordDecision(ctx context.Context, rc *models.RuntimeContext, p *models.Plan, risk models.RiskAssessment, source models.DecisionSource, summary string) {
	evt := &models.ExecutionEvent{
		WorkflowID:     p.WorkflowID,
		SessionID:      rc.SessionID,
		Stage:          models.StagePlanning,
		ComponentRole:  "approval",
		ComponentName:  componentNameApproval,
		DecisionSource: source,
		Status:         models.EventStatusOK,
		InputSummary:   "risk_score=" + formatScore(risk.Score),
		OutputSummary:  summary,
		Metadata:       map[string]any{"risk_assessment": risk},
	}
	_ = g.journal.Append(ctx, evt)
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 3, 64)
}
