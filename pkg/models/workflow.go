// Package models contains the shared domain types persisted and passed
// between every component of the Request Orchestration Core.
package models

import "time"

// WorkflowState is a node in the pipeline state machine (spec §4.1).
type WorkflowState string

const (
	WorkflowInitialized     WorkflowState = "INITIALIZED"
	WorkflowParsing         WorkflowState = "PARSING"
	WorkflowPlanning        WorkflowState = "PLANNING"
	WorkflowApprovalPending WorkflowState = "APPROVAL_PENDING"
	WorkflowApproved        WorkflowState = "APPROVED"
	WorkflowExecuting       WorkflowState = "EXECUTING"
	WorkflowPaused          WorkflowState = "PAUSED"
	WorkflowCompleted       WorkflowState = "COMPLETED"
	WorkflowFailed          WorkflowState = "FAILED"
	WorkflowCancelled       WorkflowState = "CANCELLED"
	WorkflowRetrying        WorkflowState = "RETRYING"
)

// Terminal reports whether s is one of the workflow's terminal states.
func (s WorkflowState) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	default:
		return false
	}
}

// Stage is one of the seven canonical pipeline stages.
type Stage string

const (
	StageInterpretation Stage = "interpretation"
	StageValidatorA     Stage = "validator_a"
	StageRouting        Stage = "routing"
	StagePlanning       Stage = "planning"
	StageValidatorB     Stage = "validator_b"
	StageExecution      Stage = "execution"
	StageReflection     Stage = "reflection"
)

// CanonicalStages is the fixed success-path ordering used to validate
// ExecutionEvent.Stage and to drive Machine.Advance.
var CanonicalStages = []Stage{
	StageInterpretation,
	StageValidatorA,
	StageRouting,
	StagePlanning,
	StageValidatorB,
	StageExecution,
	StageReflection,
}

// ValidStage reports whether s belongs to the canonical stage set.
func ValidStage(s Stage) bool {
	for _, c := range CanonicalStages {
		if c == s {
			return true
		}
	}
	return false
}

// Workflow is one per user request, exclusively owned by the Pipeline
// State Machine (C6) for its lifetime.
type Workflow struct {
	WorkflowID      string        `json:"workflow_id"`
	SessionID       string        `json:"session_id"`
	UserID          *string       `json:"user_id,omitempty"`
	CurrentStage    Stage         `json:"current_stage"`
	CurrentState    WorkflowState `json:"current_state"`
	OriginalRequest string        `json:"original_request"`
	AutonomyLevel   int           `json:"autonomy_level"`
	ModelRef        *string       `json:"model_ref,omitempty"`
	ServerRef       *string       `json:"server_ref,omitempty"`
	TaskType        *string       `json:"task_type,omitempty"`
	ReasonCode      *string       `json:"reason_code,omitempty"`
	Summary         *string       `json:"summary,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	TerminatedAt    *time.Time    `json:"terminated_at,omitempty"`

	// PodID and LastInteractionAt back multi-replica orphan detection;
	// see pkg/queue.
	PodID             *string    `json:"pod_id,omitempty"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// CreateWorkflowRequest is the body of POST /request.
type CreateWorkflowRequest struct {
	Text      string          `json:"text"`
	SessionID string          `json:"session_id,omitempty"`
	Options   *WorkflowOptions `json:"options,omitempty"`
}

// WorkflowOptions carries the optional per-request overrides.
type WorkflowOptions struct {
	AutonomyLevel *int    `json:"autonomy_level,omitempty"`
	ModelRef      *string `json:"model_ref,omitempty"`
	ServerRef     *string `json:"server_ref,omitempty"`
	TaskType      *string `json:"task_type,omitempty"`
}

// CreateWorkflowResponse is the response of POST /request.
type CreateWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// WorkflowStatusResponse is the response of GET /workflow/{id}.
type WorkflowStatusResponse struct {
	WorkflowID   string        `json:"workflow_id"`
	SessionID    string        `json:"session_id"`
	CurrentStage Stage         `json:"current_stage"`
	CurrentState WorkflowState `json:"current_state"`
	StartedAt    time.Time     `json:"started_at"`
	TerminatedAt *time.Time    `json:"terminated_at,omitempty"`
	Summary      *string       `json:"summary,omitempty"`
}
