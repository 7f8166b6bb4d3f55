package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/approval"
	"github.com/aard-ai/aard/pkg/capability"
	"github.com/aard-ai/aard/pkg/modelgateway"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/aard-ai/aard/pkg/pipeline"
	"github.com/aard-ai/aard/pkg/plan"
	"github.com/aard-ai/aard/pkg/reflection"
)

const componentNameQueue = "queue"

// Orchestrator is the de facto session executor: the WorkflowExecutor a
// Worker drives one claim through. It owns no backend itself — it only
// sequences calls into the already-built C2/C3/C4/C6/C7/C8/C9
// collaborators, mirroring the way the teacher's RealSessionExecutor in
// pkg/queue/executor.go coordinates agent/controller/tool collaborators
// it doesn't implement itself. Unlike the teacher's single linear chat
// turn, Orchestrator drives the full seven canonical stages
// (interpretation, validator_a, routing, planning, validator_b,
// execution, reflection): the three stages with no dedicated component
// (validator_a, routing, validator_b) are emitted here as standalone
// ExecutionEvents rather than through Machine.Advance, since
// pkg/pipeline/transitions.go's nextStageFor only drives the four
// states that also change current_state.
type Orchestrator struct {
	machine    *pipeline.Machine
	plans      *plan.Store
	planExec   *plan.Executor
	approvals  *approval.Gate
	gateway    *modelgateway.Gateway
	caps       *capability.Registry
	reflection *reflection.Sink
	journal    models.EventJournal
	prompts    models.PromptResolver
	governor   models.ResourceGovernor
}

// NewOrchestrator returns an Orchestrator wiring together the
// already-constructed per-component collaborators.
func NewOrchestrator(
	machine *pipeline.Machine,
	plans *plan.Store,
	planExec *plan.Executor,
	approvals *approval.Gate,
	gateway *modelgateway.Gateway,
	caps *capability.Registry,
	reflectionSink *reflection.Sink,
	journal models.EventJournal,
	prompts models.PromptResolver,
	governor models.ResourceGovernor,
) *Orchestrator {
	return &Orchestrator{
		machine: machine, plans: plans, planExec: planExec, approvals: approvals,
		gateway: gateway, caps: caps, reflection: reflectionSink,
		journal: journal, prompts: prompts, governor: governor,
	}
}

// Execute satisfies WorkflowExecutor: it resumes workflowID from
// whatever claimable state it was claimed in and drives it forward
// until it either reaches a terminal state, parks at APPROVAL_PENDING,
// or hits an error worth surfacing to the worker's log.
func (o *Orchestrator) Execute(ctx context.Context, workflowID string) error {
	wf, err := o.machine.Get(ctx, workflowID)
	if err != nil {
		return err
	}

	rc := &models.RuntimeContext{
		WorkflowID: wf.WorkflowID,
		SessionID:  wf.SessionID,
		Journal:    o.journal,
		Prompts:    o.prompts,
		Governor:   o.governor,
	}

	switch wf.CurrentState {
	case models.WorkflowParsing:
		return o.runFromInterpretation(ctx, rc, wf)
	case models.WorkflowApproved:
		p, err := o.plans.LatestForWorkflow(ctx, wf.WorkflowID)
		if err != nil {
			return err
		}
		if p == nil {
			return apierrors.New(apierrors.KindInternal, "workflow "+wf.WorkflowID+" is approved with no plan on record")
		}
		return o.runExecution(ctx, rc, wf, p)
	case models.WorkflowRetrying:
		return o.runReplan(ctx, rc, wf)
	default:
		return apierrors.New(apierrors.KindInvalidTransition, "workflow "+wf.WorkflowID+" claimed in non-claimable state "+string(wf.CurrentState))
	}
}

func ref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// runFromInterpretation drives a freshly-parsed workflow through
// interpretation, validator_a, and routing, then either into planning or,
// if routing decided the request is a simple_question, straight to
// runDirectAnswer.
func (o *Orchestrator) runFromInterpretation(ctx context.Context, rc *models.RuntimeContext, wf *models.Workflow) error {
	modelRef, serverRef := ref(wf.ModelRef), ref(wf.ServerRef)

	interp, err := o.gateway.Invoke(ctx, rc, modelgateway.InvokeRequest{
		WorkflowID: wf.WorkflowID, SessionID: wf.SessionID,
		Stage: models.StageInterpretation, ComponentRole: models.ComponentRoleInterpretation,
		ModelRef: modelRef, ServerRef: serverRef,
		UserPayload: wf.OriginalRequest,
	})
	if err != nil {
		return o.fail(ctx, wf.WorkflowID, "interpretation_failed", err)
	}

	if err := o.emitValidation(ctx, rc, wf.WorkflowID, models.StageValidatorA, "interpretation output", interp.Content); err != nil {
		return err
	}

	directAnswer, err := o.emitRouting(ctx, rc, wf)
	if err != nil {
		return err
	}
	if directAnswer {
		return o.runDirectAnswer(ctx, rc, wf)
	}

	if _, err := o.machine.Advance(ctx, wf.WorkflowID, pipeline.AdvanceRequest{
		To: models.WorkflowPlanning, Source: models.DecisionSourceAuto,
	}); err != nil {
		return err
	}

	return o.plan(ctx, rc, wf, nil)
}

// runDirectAnswer handles the routing(simple_question) path: planning
// and approval are skipped entirely, the workflow moves straight from
// PARSING to EXECUTING for a single model call against the original
// request, then to COMPLETED. Mirrors runExecution's tail (advance,
// reflect) without a plan ever existing on record.
func (o *Orchestrator) runDirectAnswer(ctx context.Context, rc *models.RuntimeContext, wf *models.Workflow) error {
	if _, err := o.machine.Advance(ctx, wf.WorkflowID, pipeline.AdvanceRequest{
		To: models.WorkflowExecuting, ReasonCode: "simple_question", Source: models.DecisionSourceRule,
	}); err != nil {
		return err
	}

	modelRef, serverRef := ref(wf.ModelRef), ref(wf.ServerRef)
	resp, err := o.gateway.Invoke(ctx, rc, modelgateway.InvokeRequest{
		WorkflowID: wf.WorkflowID, SessionID: wf.SessionID,
		Stage: models.StageExecution, ComponentRole: models.ComponentRoleExecutionValidator,
		ModelRef: modelRef, ServerRef: serverRef,
		UserPayload: wf.OriginalRequest,
	})
	if err != nil {
		return o.fail(ctx, wf.WorkflowID, "execution_failed", err)
	}

	if _, err := o.machine.Advance(ctx, wf.WorkflowID, pipeline.AdvanceRequest{
		To: models.WorkflowCompleted, Source: models.DecisionSourceAuto,
	}); err != nil {
		return err
	}

	completed, err := o.machine.Get(ctx, wf.WorkflowID)
	if err != nil {
		return err
	}

	_, err = o.reflection.Reflect(ctx, rc, completed, resp.Content, "")
	return err
}

// runReplan resumes a RETRYING workflow, reconstructing the replan
// context from the most recent plan on record since a RETRYING claim
// may be picked up by a different process than the one that decided to
// replan.
func (o *Orchestrator) runReplan(ctx context.Context, rc *models.RuntimeContext, wf *models.Workflow) error {
	prior, err := o.plans.LatestForWorkflow(ctx, wf.WorkflowID)
	if err != nil {
		return err
	}
	if prior == nil {
		return apierrors.New(apierrors.KindInternal, "workflow "+wf.WorkflowID+" is retrying with no prior plan on record")
	}

	if _, err := o.machine.Advance(ctx, wf.WorkflowID, pipeline.AdvanceRequest{
		To: models.WorkflowPlanning, Source: models.DecisionSourceAuto,
	}); err != nil {
		return err
	}

	replan := &plan.ReplanRequest{
		ParentPlanID: prior.PlanID,
		AttemptCount: prior.AttemptCount + 1,
		Classification: models.Classification{
			Category: models.CategoryUnknown,
			Severity: models.SeverityMedium,
		},
	}
	return o.plan(ctx, rc, wf, replan)
}

// plan runs the planning stage (an LLM call producing a Plan), then
// validator_b, then the approval gate. replan is non-nil when this plan
// is a retry attempt.
func (o *Orchestrator) plan(ctx context.Context, rc *models.RuntimeContext, wf *models.Workflow, replan *plan.ReplanRequest) error {
	modelRef, serverRef := ref(wf.ModelRef), ref(wf.ServerRef)

	planResp, err := o.gateway.Invoke(ctx, rc, modelgateway.InvokeRequest{
		WorkflowID: wf.WorkflowID, SessionID: wf.SessionID,
		Stage: models.StagePlanning, ComponentRole: models.ComponentRolePlanning,
		ModelRef: modelRef, ServerRef: serverRef,
		UserPayload: wf.OriginalRequest,
	})
	if err != nil {
		return o.fail(ctx, wf.WorkflowID, "planning_failed", err)
	}

	p, err := parsePlan(planResp.Content, wf)
	if err != nil {
		return o.fail(ctx, wf.WorkflowID, "plan_unparseable", err)
	}
	if replan != nil {
		p.ParentPlanID = &replan.ParentPlanID
		p.AttemptCount = replan.AttemptCount
	}

	created, err := o.plans.Create(ctx, p)
	if err != nil {
		return err
	}

	if err := o.emitValidation(ctx, rc, wf.WorkflowID, models.StageValidatorB, "plan structure", fmt.Sprintf("%d step(s), goal=%q", len(created.Steps), created.Goal)); err != nil {
		return err
	}

	if err := o.plans.SetStatus(ctx, created.PlanID, models.PlanPendingApproval); err != nil {
		return err
	}
	created.Status = models.PlanPendingApproval

	req, err := o.approvals.EvaluatePlan(ctx, rc, created)
	if err != nil {
		return err
	}
	if req != nil {
		// Workflow is now APPROVAL_PENDING; a human decides via the API.
		return nil
	}

	// Workflow is now APPROVED (EvaluatePlan advanced it itself).
	return o.runExecution(ctx, rc, wf, created)
}

// runExecution drives an APPROVED plan to completion, one dispatch
// round at a time, replanning on a classified failure that clears the
// budget and failing the workflow otherwise.
func (o *Orchestrator) runExecution(ctx context.Context, rc *models.RuntimeContext, wf *models.Workflow, p *models.Plan) error {
	if _, err := o.machine.Advance(ctx, wf.WorkflowID, pipeline.AdvanceRequest{
		To: models.WorkflowExecuting, Source: models.DecisionSourceAuto,
	}); err != nil {
		return err
	}

	for {
		err := o.planExec.DispatchRound(ctx, rc, p)
		if err != nil {
			if errors.Is(err, plan.ErrAwaitingApproval) {
				_, pauseErr := o.machine.Pause(ctx, wf.WorkflowID, "step_awaiting_approval")
				return pauseErr
			}

			fresh, getErr := o.plans.Get(ctx, p.PlanID)
			if getErr != nil {
				return getErr
			}
			p = fresh

			failed := firstFailedStep(p)
			if failed == nil {
				return o.fail(ctx, wf.WorkflowID, "execution_failed", err)
			}

			replanReq, hfErr := o.planExec.HandleFailure(ctx, rc, p, failed, err)
			if hfErr != nil {
				return o.fail(ctx, wf.WorkflowID, "human_required", hfErr)
			}

			if _, advErr := o.machine.Advance(ctx, wf.WorkflowID, pipeline.AdvanceRequest{
				To: models.WorkflowRetrying, ReasonCode: "replanning", Source: models.DecisionSourceAuto,
			}); advErr != nil {
				return advErr
			}

			return o.plan(ctx, rc, wf, replanReq)
		}

		fresh, getErr := o.plans.Get(ctx, p.PlanID)
		if getErr != nil {
			return getErr
		}
		p = fresh

		if allStepsTerminal(p) {
			break
		}
	}

	if err := o.plans.SetStatus(ctx, p.PlanID, models.PlanCompleted); err != nil {
		return err
	}

	if _, err := o.machine.Advance(ctx, wf.WorkflowID, pipeline.AdvanceRequest{
		To: models.WorkflowCompleted, Source: models.DecisionSourceAuto,
	}); err != nil {
		return err
	}

	completed, err := o.machine.Get(ctx, wf.WorkflowID)
	if err != nil {
		return err
	}

	_, err = o.reflection.Reflect(ctx, rc, completed, finalArtifactFor(p), "")
	return err
}

// fail advances workflowID to FAILED with reasonCode and returns cause
// so the worker logs it; the workflow is left terminal either way.
func (o *Orchestrator) fail(ctx context.Context, workflowID, reasonCode string, cause error) error {
	if _, err := o.machine.Advance(ctx, workflowID, pipeline.AdvanceRequest{
		To: models.WorkflowFailed, ReasonCode: reasonCode, Source: models.DecisionSourceAuto,
	}); err != nil {
		return errors.Join(err, cause)
	}
	return cause
}

// emitValidation appends a rule-sourced ExecutionEvent for the
// validator_a/validator_b stages, which have no dedicated component —
// both are structural checks on the preceding stage's output rather
// than a model call.
func (o *Orchestrator) emitValidation(ctx context.Context, rc *models.RuntimeContext, workflowID string, stage models.Stage, what, summary string) error {
	status := models.EventStatusOK
	if summary == "" {
		status = models.EventStatusWarn
	}
	return o.journal.Append(ctx, &models.ExecutionEvent{
		WorkflowID:     workflowID,
		SessionID:      rc.SessionID,
		Stage:          stage,
		ComponentRole:  models.ComponentRoleExecutionValidator,
		ComponentName:  componentNameQueue,
		DecisionSource: models.DecisionSourceRule,
		Status:         status,
		InputSummary:   what,
		OutputSummary:  truncateSummary(summary, 500),
	})
}

// emitRouting records the routing stage: an advisory capability
// preselection from C3's active roster, plus the rule-based
// simple_question check that decides whether planning runs at all.
// Final per-step targeting for planned workflows still happens through
// plan.Executor's agent_id/tool_id resolution — the capability count
// here is only a record of what was available to route to.
func (o *Orchestrator) emitRouting(ctx context.Context, rc *models.RuntimeContext, wf *models.Workflow) (directAnswer bool, err error) {
	active, listErr := o.caps.List(ctx, models.CapabilityFilter{Status: models.CapabilityActive})
	status := models.EventStatusOK
	summary := fmt.Sprintf("%d active capabilities available", len(active))
	if listErr != nil || len(active) == 0 {
		status = models.EventStatusWarn
		summary = "no active capabilities found at routing time"
	}

	directAnswer = isDirectAnswerCandidate(wf.OriginalRequest)
	var reasonCode string
	if directAnswer {
		reasonCode = "simple_question"
		summary = "simple_question: " + summary
	}

	err = o.journal.Append(ctx, &models.ExecutionEvent{
		WorkflowID:     wf.WorkflowID,
		SessionID:      wf.SessionID,
		Stage:          models.StageRouting,
		ComponentRole:  models.ComponentRoleRouting,
		ComponentName:  componentNameQueue,
		DecisionSource: models.DecisionSourceRule,
		Status:         status,
		InputSummary:   "task_type=" + ref(wf.TaskType),
		OutputSummary:  summary,
		ReasonCode:     nonEmptyPtr(reasonCode),
	})
	return directAnswer, err
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// directAnswerVerbs are imperative task verbs that signal multi-step
// work a plan is needed for, rather than a single factual lookup.
var directAnswerVerbs = []string{
	"write", "build", "create", "generate", "implement", "refactor",
	"deploy", "fix", "debug", "design", "analyze", "summarize", "plan",
}

const directAnswerMaxWords = 12

// isDirectAnswerCandidate is routing's rule-based simple_question check
// (spec §8 scenario 1): a short factual question naming no imperative
// task verb skips planning and goes straight to a single execution-stage
// model call.
func isDirectAnswerCandidate(request string) bool {
	trimmed := strings.TrimSpace(request)
	if trimmed == "" || !strings.HasSuffix(trimmed, "?") {
		return false
	}
	if len(strings.Fields(trimmed)) > directAnswerMaxWords {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, verb := range directAnswerVerbs {
		if strings.Contains(lower, verb) {
			return false
		}
	}
	return true
}

func truncateSummary(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstFailedStep(p *models.Plan) *models.Step {
	for _, s := range p.Steps {
		if s.Status == models.StepFailed {
			return s
		}
	}
	return nil
}

func allStepsTerminal(p *models.Plan) bool {
	for _, s := range p.Steps {
		if !s.Status.Terminal() {
			return false
		}
	}
	return true
}

func finalArtifactFor(p *models.Plan) string {
	summary := make([]map[string]any, 0, len(p.Steps))
	for _, s := range p.Steps {
		entry := map[string]any{"step_id": s.StepID, "status": s.Status}
		if s.Result != nil {
			entry["output"] = s.Result.Output
		}
		summary = append(summary, entry)
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return ""
	}
	return string(raw)
}

// plannedStep is the wire shape a planning-stage model response is
// expected to produce for one step; parsePlan is deliberately lenient
// (missing fields default rather than reject) since the planning
// prompt, not this parser, is what ultimately disciplines the model's
// output shape.
type plannedStep struct {
	Description      string                `json:"description"`
	Type             models.StepType       `json:"type"`
	Dependencies     []string              `json:"dependencies"`
	AgentID          *string               `json:"agent_id"`
	ToolID           *string               `json:"tool_id"`
	Inputs           map[string]any        `json:"inputs"`
	ApprovalRequired bool                  `json:"approval_required"`
	FunctionCall     *models.FunctionCall  `json:"function_call"`
}

type plannedResponse struct {
	Goal     string        `json:"goal"`
	Strategy string        `json:"strategy"`
	Steps    []plannedStep `json:"steps"`
}

// parsePlan decodes a planning-stage model response into a models.Plan
// ready for plan.Store.Create. Returns an error the caller classifies
// as plan_unparseable if content isn't valid JSON or names zero steps.
func parsePlan(content string, wf *models.Workflow) (*models.Plan, error) {
	var resp plannedResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, apierrors.Wrap(apierrors.KindValidationFailed, "planning response is not valid JSON", err)
	}
	if len(resp.Steps) == 0 {
		return nil, apierrors.New(apierrors.KindValidationFailed, "planning response named zero steps")
	}

	steps := make([]*models.Step, 0, len(resp.Steps))
	for _, ps := range resp.Steps {
		stepType := ps.Type
		if stepType == "" {
			stepType = models.StepAction
		}
		steps = append(steps, &models.Step{
			Description:      ps.Description,
			Type:             stepType,
			Dependencies:     ps.Dependencies,
			AgentID:          ps.AgentID,
			ToolID:           ps.ToolID,
			Inputs:           ps.Inputs,
			ApprovalRequired: ps.ApprovalRequired,
			FunctionCall:     ps.FunctionCall,
			Status:           models.StepPending,
		})
	}

	return &models.Plan{
		TaskID:        wf.WorkflowID,
		WorkflowID:    wf.WorkflowID,
		Goal:          resp.Goal,
		Strategy:      resp.Strategy,
		Steps:         steps,
		Status:        models.PlanDraft,
		AutonomyLevel: wf.AutonomyLevel,
	}, nil
}
