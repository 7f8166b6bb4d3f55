package plan

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/capability"
	"github.com/aard-ai/aard/pkg/checkpoint"
	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/modelgateway"
	"github.com/aard-ai/aard/pkg/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// AgentExecutor runs a step whose target resolved to an agent
// capability. The agent runtime itself is an external collaborator —
// this core only defines the dispatch contract, the same stance
// [[pkg/checkpoint]] takes toward vector similarity search.
type AgentExecutor interface {
	ExecuteAgent(ctx context.Context, rc *models.RuntimeContext, cap *models.CapabilityRecord, step *models.Step) (*models.StepResult, error)
}

// ToolExecutor runs a step whose target resolved to a tool capability.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, rc *models.RuntimeContext, cap *models.CapabilityRecord, step *models.Step) (*models.StepResult, error)
}

// ApprovalGate is the narrow view of the Adaptive Approval Gate (C8)
// the step executor consults for per-step approval (spec §4.2 step 2).
// The concrete implementation lives in pkg/approval.
type ApprovalGate interface {
	EvaluateStep(ctx context.Context, rc *models.RuntimeContext, p *models.Plan, step *models.Step) (*models.ApprovalRequest, error)
}

// ReflectionSink is the narrow view of the Reflection & Meta-Learning
// Sink (C9) the executor invokes on a replan-triggering failure (spec
// §4.2: "invokes Reflection with the failure"). The concrete
// implementation lives in pkg/reflection.
type ReflectionSink interface {
	OnStepFailure(ctx context.Context, rc *models.RuntimeContext, p *models.Plan, step *models.Step, c models.Classification) error
}

// ErrAwaitingApproval is returned by Dispatch when a step's approval
// request is still pending; the caller (pkg/queue) reschedules the
// workflow rather than treating this as a step failure.
var ErrAwaitingApproval = apierrors.New(apierrors.KindApprovalTimeout, "step is awaiting approval decision")

// ErrPlanNotReady is returned when Dispatch is called on a plan that
// isn't approved (spec §4.2: "the executor rejects any non-approved
// plan with PLAN_NOT_READY").
var ErrPlanNotReady = apierrors.New(apierrors.KindInvalidRequest, "plan is not approved")

// ReplanRequest carries the information a caller needs to ask C6/C9 for
// a new plan after a replan-triggering failure.
type ReplanRequest struct {
	ParentPlanID string
	AttemptCount int
	Classification models.Classification
}

// Executor drives DAG-ordered step dispatch for one approved plan at a
// time (spec §4.2). It borrows capability resolution from C3, model
// calls from C4, checkpoints from C5, and step-level approval from C8,
// mirroring the teacher's RealSessionExecutor in pkg/queue/executor.go,
// which likewise owns no backend itself and only coordinates already-
// built collaborators.
type Executor struct {
	store        *Store
	checkpoints  *checkpoint.Store
	capabilities *capability.Registry
	gateway      *modelgateway.Gateway
	approval     ApprovalGate
	agents       AgentExecutor
	tools        ToolExecutor
	reflection   ReflectionSink
	schemas      *schemaCache
	cfg          *config.PlanConfig
	stepCfg      *config.StepConfig
	replanCfg    *config.ReplanConfig
}

// NewExecutor returns an Executor. agents/tools/reflection may be nil;
// a plan that dispatches a step needing one of them without it fails
// that step with DependencyNotReady rather than panicking.
func NewExecutor(
	store *Store,
	checkpoints *checkpoint.Store,
	capabilities *capability.Registry,
	gateway *modelgateway.Gateway,
	approval ApprovalGate,
	agents AgentExecutor,
	tools ToolExecutor,
	reflection ReflectionSink,
	cfg *config.PlanConfig,
	stepCfg *config.StepConfig,
	replanCfg *config.ReplanConfig,
) *Executor {
	return &Executor{
		store: store, checkpoints: checkpoints, capabilities: capabilities, gateway: gateway,
		approval: approval, agents: agents, tools: tools, reflection: reflection,
		schemas: newSchemaCache(), cfg: cfg, stepCfg: stepCfg, replanCfg: replanCfg,
	}
}

// DispatchNext advances p by one ready step (spec §4.2 step dispatch:
// "the executor picks the next step whose dependencies are all
// succeeded, in insertion order among ready steps"). It returns
// (nil, nil) once no step is ready to run (either all terminal, or the
// remaining steps are blocked on a dependency that will never
// succeed), which the caller takes as "plan finished this round."
func (e *Executor) DispatchNext(ctx context.Context, rc *models.RuntimeContext, p *models.Plan) (*models.Step, error) {
	if p.Status != models.PlanApproved && p.Status != models.PlanExecuting {
		return nil, ErrPlanNotReady
	}

	step := nextReadyStep(p)
	if step == nil {
		return nil, nil
	}

	if p.Status == models.PlanApproved {
		if err := e.store.SetStatus(ctx, p.PlanID, models.PlanExecuting); err != nil {
			return nil, err
		}
		p.Status = models.PlanExecuting
	}

	if err := e.runStep(ctx, rc, p, step); err != nil {
		return step, err
	}
	return step, nil
}

// nextReadyStep returns the first pending step (in insertion/position
// order) whose dependencies are all succeeded, or nil if none qualify.
func nextReadyStep(p *models.Plan) *models.Step {
	succeeded := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if s.Status == models.StepSucceeded {
			succeeded[s.StepID] = true
		}
	}

	for _, s := range p.Steps {
		if s.Status != models.StepPending {
			continue
		}
		ready := true
		for _, dep := range s.Dependencies {
			if !succeeded[dep] {
				ready = false
				break
			}
		}
		if ready {
			return s
		}
	}
	return nil
}

// runStep executes spec §4.2's five-step sequence for one step.
func (e *Executor) runStep(ctx context.Context, rc *models.RuntimeContext, p *models.Plan, step *models.Step) error {
	// 1. Checkpoint the plan before dispatch.
	snapshot, err := planSnapshot(p)
	if err != nil {
		return err
	}
	if _, err := e.checkpoints.Create(ctx, "plan", p.PlanID, snapshot, "before step "+step.StepID); err != nil {
		return err
	}

	// 2. Evaluate approval_required.
	if step.ApprovalRequired && e.approval != nil {
		req, err := e.approval.EvaluateStep(ctx, rc, p, step)
		if err != nil {
			return err
		}
		if req != nil && req.Status == models.ApprovalPending {
			return ErrAwaitingApproval
		}
		if req != nil && req.Status == models.ApprovalRejected {
			return e.failStep(ctx, step, apierrors.New(apierrors.KindApprovalRejected, "step approval rejected"))
		}
	}

	// 3. Validate function_call, then resolve + dispatch target.
	if err := e.schemas.validateFunctionCall(step.FunctionCall); err != nil {
		return e.failStep(ctx, step, err)
	}

	now := time.Now()
	step.StartedAt = &now
	step.Status = models.StepRunning
	step.Attempts++
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return err
	}

	// 4. Run under governor wrapping (timeout, token cap, memory cap).
	stepCtx, cancel := context.WithTimeout(ctx, e.stepCfg.Timeout())
	defer cancel()

	if rc.Governor != nil {
		if err := rc.Governor.Admit(stepCtx, "step", 1); err != nil {
			return e.failStep(ctx, step, err)
		}
		defer rc.Governor.Release(ctx, "step", 1)
	}

	result, dispatchErr := e.dispatch(stepCtx, rc, p, step)
	if dispatchErr != nil {
		return e.failStep(ctx, step, dispatchErr)
	}

	// 5. Record outcome.
	end := time.Now()
	step.EndedAt = &end
	step.Status = models.StepSucceeded
	step.Result = result
	if rc.StageMetadata == nil {
		rc.StageMetadata = map[string]any{}
	}
	rc.StageMetadata[step.StepID] = result.Output

	return e.store.UpdateStep(ctx, step)
}

// directDispatchCaller identifies the orchestrator itself as the
// calling principal when a step targets a capability directly (no
// intervening agent chose to invoke it). A tool's allowed_agents list,
// if non-empty, therefore always excludes this caller — an allowlisted
// tool can only be reached through the agent(s) it names.
const directDispatchCaller = ""

// gateCapability enforces spec §4.8's dispatch-time access rules ahead
// of actually invoking id: the capability must resolve, be active, not
// be unhealthy, and (for tool targets) pass the allow/forbid lists.
func (e *Executor) gateCapability(ctx context.Context, id string, isTool bool) (*models.CapabilityRecord, error) {
	rec, err := e.capabilities.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.CapabilityActive {
		return nil, apierrors.New(apierrors.KindDependencyNotReady, "capability "+id+" is not active")
	}
	if rec.Health == models.HealthUnhealthy {
		return nil, apierrors.New(apierrors.KindDependencyNotReady, "capability "+id+" is unhealthy")
	}
	if isTool {
		ok, err := e.capabilities.CanUse(ctx, directDispatchCaller, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apierrors.New(apierrors.KindToolDenied, "capability "+id+" is not usable by this caller")
		}
	}
	return rec, nil
}

func (e *Executor) dispatch(ctx context.Context, rc *models.RuntimeContext, p *models.Plan, step *models.Step) (*models.StepResult, error) {
	switch {
	case step.AgentID != nil:
		cap, err := e.gateCapability(ctx, *step.AgentID, false)
		if err != nil {
			return nil, err
		}
		if e.agents == nil {
			return nil, apierrors.New(apierrors.KindDependencyNotReady, "no agent executor configured")
		}
		return e.agents.ExecuteAgent(ctx, rc, cap, step)

	case step.ToolID != nil:
		cap, err := e.gateCapability(ctx, *step.ToolID, true)
		if err != nil {
			return nil, err
		}
		if e.tools == nil {
			return nil, apierrors.New(apierrors.KindDependencyNotReady, "no tool executor configured")
		}
		return e.tools.ExecuteTool(ctx, rc, cap, step)

	default:
		resp, err := e.gateway.Invoke(ctx, rc, modelgateway.InvokeRequest{
			WorkflowID:    rc.WorkflowID,
			SessionID:     rc.SessionID,
			Stage:         models.StageExecution,
			ComponentRole: models.ComponentRoleExecutionValidator,
			UserPayload:   step.Description,
		})
		if err != nil {
			return nil, err
		}
		return &models.StepResult{
			Status: models.StepSucceeded,
			Output: map[string]any{"content": resp.Content, "stop_reason": resp.StopReason},
		}, nil
	}
}

// failStep classifies err, persists the failed step, and decides
// whether the failure should trigger a replan (spec §4.2 error
// classification + auto-replan).
func (e *Executor) failStep(ctx context.Context, step *models.Step, cause error) error {
	msg := cause.Error()
	end := time.Now()
	step.EndedAt = &end
	step.Status = models.StepFailed
	step.Result = &models.StepResult{Status: models.StepFailed, Error: &msg}

	if err := e.store.UpdateStep(ctx, step); err != nil {
		return err
	}
	return cause
}

// HandleFailure classifies cause and, if it crosses the replan
// threshold, rolls the plan back to its last checkpoint and returns a
// ReplanRequest for the caller to hand to C6/C9; otherwise it reports
// the plan FAILED with reason_code=human_required (spec §4.2: "On
// exhaustion or if classification demands human intervention").
func (e *Executor) HandleFailure(ctx context.Context, rc *models.RuntimeContext, p *models.Plan, step *models.Step, cause error) (*ReplanRequest, error) {
	c := classify(cause)

	if e.reflection != nil {
		if err := e.reflection.OnStepFailure(ctx, rc, p, step, c); err != nil {
			return nil, err
		}
	}

	budgetExhausted := p.AttemptCount+1 > e.replanCfg.MaxAttempts
	if !budgetExhausted && shouldReplan(c, e.replanCfg.OnSeverityThreshold) {
		if _, err := e.checkpoints.Rollback(ctx, "plan", p.PlanID); err != nil {
			return nil, err
		}
		return &ReplanRequest{ParentPlanID: p.PlanID, AttemptCount: p.AttemptCount + 1, Classification: c}, nil
	}

	reason := "human_required"
	if err := e.store.SetStatus(ctx, p.PlanID, models.PlanFailed); err != nil {
		return nil, err
	}
	return nil, apierrors.New(apierrors.KindInternal, "plan failed: "+reason+": "+cause.Error())
}

// planSnapshot serializes the fields and step statuses a Checkpoint
// hashes (spec §4.2 step 1: "state_hash over fields and step
// statuses").
func planSnapshot(p *models.Plan) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "marshal plan snapshot", err)
	}
	return raw, nil
}

// readySteps returns every currently-dispatchable step, in position
// order, for DAG-independent parallel dispatch.
func readySteps(p *models.Plan) []*models.Step {
	succeeded := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if s.Status == models.StepSucceeded {
			succeeded[s.StepID] = true
		}
	}

	var ready []*models.Step
	for _, s := range p.Steps {
		if s.Status != models.StepPending {
			continue
		}
		ok := true
		for _, dep := range s.Dependencies {
			if !succeeded[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
		}
	}
	return ready
}

// DispatchRound runs every currently-ready step once, bounded by
// cfg.MaxParallelSteps (default 1, i.e. serial — spec §4.2: "Concurrent
// execution of independent steps is optional"). Each concurrent step
// gets a copy-on-write RuntimeContext derived via WithStageMetadata so
// one step's accumulated output never races another's (spec §4.2: "the
// context propagated to each step is a copy-on-write derivation of the
// accumulated outputs"). It returns the first step error encountered;
// sibling steps already in flight are allowed to finish.
func (e *Executor) DispatchRound(ctx context.Context, rc *models.RuntimeContext, p *models.Plan) error {
	if p.Status != models.PlanApproved && p.Status != models.PlanExecuting {
		return ErrPlanNotReady
	}
	if p.Status == models.PlanApproved {
		if err := e.store.SetStatus(ctx, p.PlanID, models.PlanExecuting); err != nil {
			return err
		}
		p.Status = models.PlanExecuting
	}

	ready := readySteps(p)
	if len(ready) == 0 {
		return nil
	}
	if rc.StageMetadata == nil {
		rc.StageMetadata = map[string]any{}
	}

	limit := e.cfg.MaxParallelSteps
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))

	var merged sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	for _, step := range ready {
		step := step
		g.Go(func() error {
			if err := sem.Acquire(gCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			stepMetadata := make(map[string]any, len(rc.StageMetadata))
			for k, v := range rc.StageMetadata {
				stepMetadata[k] = v
			}
			stepRC := rc.WithStageMetadata(stepMetadata)

			if err := e.runStep(gCtx, stepRC, p, step); err != nil {
				return err
			}

			merged.Lock()
			for k, v := range stepRC.StageMetadata {
				rc.StageMetadata[k] = v
			}
			merged.Unlock()
			return nil
		})
	}
	return g.Wait()
}
