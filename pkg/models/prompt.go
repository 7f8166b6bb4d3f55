package models

import "time"

// PromptStatus is the lifecycle state of a Prompt version.
type PromptStatus string

const (
	PromptDraft      PromptStatus = "draft"
	PromptTesting    PromptStatus = "testing"
	PromptActive     PromptStatus = "active"
	PromptDeprecated PromptStatus = "deprecated"
)

// PromptMetrics is aggregated usage data updated by record_usage.
type PromptMetrics struct {
	UsageCount    int64   `json:"usage_count"`
	SuccessRate   float64 `json:"success_rate"` // EMA over a window
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}

// Prompt is versioned text resolved by the registry and invoked through
// the Model Invocation Gateway.
type Prompt struct {
	PromptID      string        `json:"prompt_id"`
	Name          string        `json:"name"`
	Version       int           `json:"version"` // monotonic per name
	Stage         Stage         `json:"stage"`
	ComponentRole string        `json:"component_role"`
	Status        PromptStatus  `json:"status"`
	Body          string        `json:"body"`
	Metrics       PromptMetrics `json:"metrics"`
	CreatedAt     time.Time     `json:"created_at"`
}

// AssignmentScope is the resolution scope of a PromptAssignment, ordered
// highest-priority first in the resolution order.
type AssignmentScope string

const (
	ScopeExperiment  AssignmentScope = "experiment"
	ScopeAgent       AssignmentScope = "agent"
	ScopeGlobal      AssignmentScope = "global"
	ScopeDiskFallback AssignmentScope = "disk-fallback"
)

// ResolutionOrder lists assignment scopes from highest to lowest
// priority; disk fallback is never stored as an assignment row, it is
// the behavior when no assignment resolves.
var ResolutionOrder = []AssignmentScope{ScopeExperiment, ScopeAgent, ScopeGlobal}

// PromptAssignment binds a Prompt to a resolution key. At most one
// assignment wins per key; ties break by Priority, higher first.
type PromptAssignment struct {
	AssignmentID  string          `json:"assignment_id"`
	Scope         AssignmentScope `json:"scope"`
	Stage         Stage           `json:"stage"`
	ComponentRole string          `json:"component_role"`
	ModelID       *string         `json:"model_id,omitempty"`
	ServerID      *string         `json:"server_id,omitempty"`
	TaskType      *string         `json:"task_type,omitempty"`
	PromptID      string          `json:"prompt_id"`
	Priority      int             `json:"priority"`
}

// ResolutionKey identifies the (stage, component_role, ...) tuple a
// prompt resolves against.
type ResolutionKey struct {
	Stage         Stage
	ComponentRole string
	AgentID       string
	ModelID       string
	TaskType      string
}

// CreatePromptRequest is the input to Registry.CreatePrompt.
type CreatePromptRequest struct {
	Name          string `json:"name"`
	Stage         Stage  `json:"stage"`
	ComponentRole string `json:"component_role"`
	Body          string `json:"body"`
}
