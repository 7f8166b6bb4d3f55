package models

import "time"

// ApprovalStatus is a node in the approval gate's state machine.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalTimeout  ApprovalStatus = "timeout"
)

// RiskAssessment is the weighted breakdown behind a require_approval
// decision; every weight below is a config value, never a literal.
type RiskAssessment struct {
	Score              float64  `json:"score"`
	StepCount          int      `json:"step_count"`
	HighRiskStepCount  int      `json:"high_risk_step_count"`
	DependencyDepth    int      `json:"dependency_depth"`
	ExternalActions    []string `json:"external_actions,omitempty"`
}

// ApprovalRequest gates the transition from planning to execution when
// the decision rule requires a human.
type ApprovalRequest struct {
	RequestID       string          `json:"request_id"`
	PlanID          string          `json:"plan_id"`
	WorkflowID      string          `json:"workflow_id"`
	RiskAssessment  RiskAssessment  `json:"risk_assessment"`
	Recommendation  string          `json:"recommendation"`
	Status          ApprovalStatus  `json:"status"`
	DecisionTimeout time.Time       `json:"decision_timeout"`
	ApprovedBy      *string         `json:"approved_by,omitempty"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
}

// DecideApprovalRequest is the body of POST /approval/{id}/decide.
type DecideApprovalRequest struct {
	Decision string `json:"decision"` // "approved" | "rejected"
	Actor    string `json:"actor"`
	Note     string `json:"note,omitempty"`
}

// DecideApprovalResponse is the response of POST /approval/{id}/decide.
type DecideApprovalResponse struct {
	RequestID string         `json:"request_id"`
	Status    ApprovalStatus `json:"status"`
}
