package models

import "time"

// EventStatus is the outcome recorded on an ExecutionEvent.
type EventStatus string

const (
	EventStatusOK    EventStatus = "ok"
	EventStatusWarn  EventStatus = "warn"
	EventStatusError EventStatus = "error"
)

// DecisionSource fixes the four sources a decision can originate from
// (spec §9 Open Question — source call sites disagreed, this spec fixes
// the enumeration).
type DecisionSource string

const (
	DecisionSourcePrompt DecisionSource = "prompt"
	DecisionSourceRule   DecisionSource = "rule"
	DecisionSourceHuman  DecisionSource = "human"
	DecisionSourceAuto   DecisionSource = "auto"
)

// ExecutionEvent is an immutable, append-only observability record.
// Once written it is never mutated.
type ExecutionEvent struct {
	EventID        string         `json:"event_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Sequence       int64          `json:"-"`
	WorkflowID     string         `json:"workflow_id"`
	SessionID      string         `json:"session_id"`
	Stage          Stage          `json:"stage"`
	ComponentRole  string         `json:"component_role"`
	ComponentName  string         `json:"component_name"`
	DecisionSource DecisionSource `json:"decision_source"`
	PromptID       *string        `json:"prompt_id,omitempty"`
	PromptVersion  *int           `json:"prompt_version,omitempty"`
	Status         EventStatus    `json:"status"`
	ParentEventID  *string        `json:"parent_event_id,omitempty"`
	InputSummary   string         `json:"input_summary"`
	OutputSummary  string         `json:"output_summary"`
	ReasonCode     *string        `json:"reason_code,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// EventFilter narrows a journal query or subscription.
type EventFilter struct {
	WorkflowID string
	SessionID  string
	Stage      Stage
	AfterID    string
	Limit      int
}

// EventsResponse is the response of GET /workflow/{id}/events.
type EventsResponse struct {
	Events []*ExecutionEvent `json:"events"`
}

// well-known component roles used across components; not exhaustive.
const (
	ComponentRolePlanning           = "planning"
	ComponentRoleExecutionValidator = "execution_validator"
	ComponentRoleRouting            = "routing"
	ComponentRoleInterpretation     = "interpretation"
)
