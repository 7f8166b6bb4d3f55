// Package pipeline implements the Pipeline State Machine (spec §4.1):
// the per-workflow state machine C6 owns exclusively for a workflow's
// lifetime, driving it through the canonical seven-stage pipeline and
// recording every transition to the Execution Event Journal.
package pipeline

import (
	"context"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/google/uuid"
)

const componentNamePipeline = "pipeline"

// Machine is the concrete C6 implementation, backed by the workflows
// table. One Machine instance is shared process-wide; every method
// takes the workflow id it operates on rather than holding per-workflow
// state in memory, so a multi-replica deployment can advance the same
// workflow from any pod (see pkg/queue's orphan detection for how a
// crashed pod's in-flight workflow is recovered).
type Machine struct {
	db      *database.Client
	journal models.EventJournal
}

// New returns a Machine backed by db, appending transition events to
// journal.
func New(db *database.Client, journal models.EventJournal) *Machine {
	return &Machine{db: db, journal: journal}
}

// StartRequest is the input to Start.
type StartRequest struct {
	SessionID       string
	UserID          *string
	OriginalRequest string
	AutonomyLevel   int
	ModelRef        *string
	ServerRef       *string
	TaskType        *string
}

// Start creates a new Workflow in INITIALIZED and immediately advances
// it to PARSING, the entry point of the canonical stage order (spec
// §4.1: "start(request) → workflow_id").
func (m *Machine) Start(ctx context.Context, req StartRequest) (*models.Workflow, error) {
	autonomy := req.AutonomyLevel
	if autonomy == 0 {
		autonomy = 2
	}

	wf := &models.Workflow{
		WorkflowID:      uuid.NewString(),
		SessionID:       req.SessionID,
		UserID:          req.UserID,
		CurrentStage:    models.StageInterpretation,
		CurrentState:    models.WorkflowInitialized,
		OriginalRequest: req.OriginalRequest,
		AutonomyLevel:   autonomy,
		ModelRef:        req.ModelRef,
		ServerRef:       req.ServerRef,
		TaskType:        req.TaskType,
	}

	err := m.db.QueryRow(ctx,
		`INSERT INTO workflows
			(workflow_id, session_id, user_id, current_stage, current_state, original_request,
			 autonomy_level, model_ref, server_ref, task_type, created_at, last_interaction_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now(), now())
		RETURNING created_at, last_interaction_at`,
		wf.WorkflowID, wf.SessionID, wf.UserID, wf.CurrentStage, wf.CurrentState, wf.OriginalRequest,
		wf.AutonomyLevel, wf.ModelRef, wf.ServerRef, wf.TaskType,
	).Scan(&wf.CreatedAt, &wf.LastInteractionAt)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "insert workflow", err)
	}

	if err := m.appendTransition(ctx, wf, models.WorkflowInitialized, "", models.DecisionSourceAuto); err != nil {
		return nil, err
	}

	if _, err := m.Advance(ctx, wf.WorkflowID, AdvanceRequest{
		To:     models.WorkflowParsing,
		Source: models.DecisionSourceAuto,
	}); err != nil {
		return nil, err
	}

	return m.Get(ctx, wf.WorkflowID)
}

// AdvanceRequest is the input to Advance.
type AdvanceRequest struct {
	To         models.WorkflowState
	ReasonCode string
	Metadata   map[string]any
	Source     models.DecisionSource
	// Forced marks a governor-driven transition; spec §4.1 requires a
	// reason_code on every forced transition.
	Forced bool
}

// Advance validates req.To against the allowed-edges table and, if
// valid, persists the new state and appends an ExecutionEvent stamped
// with the target's canonical stage. Disallowed edges are rejected with
// InvalidTransition and leave the workflow's state untouched (spec
// §4.1: "advance rejects disallowed edges ... yields no state change").
func (m *Machine) Advance(ctx context.Context, workflowID string, req AdvanceRequest) (*models.Workflow, error) {
	if req.Forced && req.ReasonCode == "" {
		return nil, apierrors.New(apierrors.KindInvalidRequest, "forced transitions require a reason_code")
	}

	wf, err := m.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf.CurrentState.Terminal() {
		return nil, apierrors.New(apierrors.KindInvalidTransition, "workflow "+workflowID+" is already terminal")
	}
	if !canTransition(wf.CurrentState, req.To) {
		return nil, apierrors.New(apierrors.KindInvalidTransition,
			"no edge "+string(wf.CurrentState)+"->"+string(req.To))
	}

	stage := nextStageFor(req.To, wf.CurrentStage)

	var reasonCode *string
	if req.ReasonCode != "" {
		reasonCode = &req.ReasonCode
	}

	var terminatedAt *time.Time
	if req.To.Terminal() {
		now := time.Now()
		terminatedAt = &now
	}

	_, err = m.db.Exec(ctx,
		`UPDATE workflows SET current_state = $1, current_stage = $2, reason_code = $3,
			last_interaction_at = now(), terminated_at = COALESCE(terminated_at, $4)
		WHERE workflow_id = $5`,
		req.To, stage, reasonCode, terminatedAt, workflowID,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "update workflow state", err)
	}

	wf.CurrentState = req.To
	wf.CurrentStage = stage
	wf.ReasonCode = reasonCode

	if err := m.appendTransitionMeta(ctx, wf, wf.CurrentState, req.ReasonCode, req.Source, req.Metadata); err != nil {
		return nil, err
	}

	return m.Get(ctx, workflowID)
}

// Pause moves an EXECUTING workflow to PAUSED.
func (m *Machine) Pause(ctx context.Context, workflowID, reasonCode string) (*models.Workflow, error) {
	return m.Advance(ctx, workflowID, AdvanceRequest{To: models.WorkflowPaused, ReasonCode: reasonCode, Source: models.DecisionSourceAuto})
}

// Resume moves a PAUSED workflow back to EXECUTING.
func (m *Machine) Resume(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return m.Advance(ctx, workflowID, AdvanceRequest{To: models.WorkflowExecuting, Source: models.DecisionSourceAuto})
}

// Cancel moves a non-terminal workflow to CANCELLED from any state that
// has a CANCELLED edge (APPROVAL_PENDING or PAUSED per spec §4.1).
func (m *Machine) Cancel(ctx context.Context, workflowID, reasonCode string) (*models.Workflow, error) {
	return m.Advance(ctx, workflowID, AdvanceRequest{To: models.WorkflowCancelled, ReasonCode: reasonCode, Source: models.DecisionSourceHuman})
}

// ForceTransition is the Resource Governor's entry point for a forced,
// reason-coded transition (spec §4.1: "Non-terminal transitions may be
// forced only by the Resource Governor").
func (m *Machine) ForceTransition(ctx context.Context, workflowID string, to models.WorkflowState, reasonCode string) (*models.Workflow, error) {
	return m.Advance(ctx, workflowID, AdvanceRequest{To: to, ReasonCode: reasonCode, Source: models.DecisionSourceRule, Forced: true})
}

// Get returns the current row for workflowID.
func (m *Machine) Get(ctx context.Context, workflowID string) (*models.Workflow, error) {
	wf := &models.Workflow{}
	err := m.db.QueryRow(ctx,
		`SELECT workflow_id, session_id, user_id, current_stage, current_state, original_request,
			autonomy_level, model_ref, server_ref, task_type, reason_code, summary,
			created_at, terminated_at, pod_id, last_interaction_at
		FROM workflows WHERE workflow_id = $1`,
		workflowID,
	).Scan(&wf.WorkflowID, &wf.SessionID, &wf.UserID, &wf.CurrentStage, &wf.CurrentState, &wf.OriginalRequest,
		&wf.AutonomyLevel, &wf.ModelRef, &wf.ServerRef, &wf.TaskType, &wf.ReasonCode, &wf.Summary,
		&wf.CreatedAt, &wf.TerminatedAt, &wf.PodID, &wf.LastInteractionAt,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInvalidRequest, "workflow not found: "+workflowID, err)
	}
	return wf, nil
}

// History returns the ExecutionEvents recorded for workflowID, in
// sequence order (spec §4.1: "history()").
func (m *Machine) History(ctx context.Context, workflowID string) ([]*models.ExecutionEvent, error) {
	type lister interface {
		ByWorkflow(ctx context.Context, filter models.EventFilter) ([]*models.ExecutionEvent, error)
	}
	l, ok := m.journal.(lister)
	if !ok {
		return nil, apierrors.New(apierrors.KindInternal, "journal does not support history queries")
	}
	return l.ByWorkflow(ctx, models.EventFilter{WorkflowID: workflowID})
}

func (m *Machine) appendTransition(ctx context.Context, wf *models.Workflow, state models.WorkflowState, reasonCode string, source models.DecisionSource) error {
	return m.appendTransitionMeta(ctx, wf, state, reasonCode, source, nil)
}

func (m *Machine) appendTransitionMeta(ctx context.Context, wf *models.Workflow, state models.WorkflowState, reasonCode string, source models.DecisionSource, metadata map[string]any) error {
	var reasonPtr *string
	if reasonCode != "" {
		reasonPtr = &reasonCode
	}

	evt := &models.ExecutionEvent{
		WorkflowID:     wf.WorkflowID,
		SessionID:      wf.SessionID,
		Stage:          wf.CurrentStage,
		ComponentRole:  "pipeline",
		ComponentName:  componentNamePipeline,
		DecisionSource: source,
		Status:         models.EventStatusOK,
		InputSummary:   "transition to " + string(state),
		OutputSummary:  string(state),
		ReasonCode:     reasonPtr,
		Metadata:       metadata,
	}
	return m.journal.Append(ctx, evt)
}
