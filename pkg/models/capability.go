package models

// CapabilityKind distinguishes the three dispatchable capability types
// in the registry's union.
type CapabilityKind string

const (
	CapabilityAgent CapabilityKind = "agent"
	CapabilityTool  CapabilityKind = "tool"
	CapabilityModel CapabilityKind = "model"
)

// CapabilityStatus gates whether a capability is eligible for dispatch.
type CapabilityStatus string

const (
	CapabilityActive     CapabilityStatus = "active"
	CapabilityPaused     CapabilityStatus = "paused"
	CapabilityDeprecated CapabilityStatus = "deprecated"
	CapabilityFailed     CapabilityStatus = "failed"
)

// CapabilityHealth is the periodic-health-check verdict, independent of
// Status — a capability can be active but unhealthy.
type CapabilityHealth string

const (
	HealthHealthy   CapabilityHealth = "healthy"
	HealthDegraded  CapabilityHealth = "degraded"
	HealthUnhealthy CapabilityHealth = "unhealthy"
	HealthUnknown   CapabilityHealth = "unknown"
)

// CapabilityMetrics is the running execution tally behind TrustScore.
type CapabilityMetrics struct {
	TotalExecutions      int64   `json:"total_executions"`
	SuccessCount         int64   `json:"success_count"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	AvgLatencyMs         float64 `json:"avg_latency_ms"`
}

// CapabilityRecord is a union of agent / tool / model entries in the
// Capability Registry.
type CapabilityRecord struct {
	ID              string            `json:"id"`
	Kind            CapabilityKind    `json:"kind"`
	Name            string            `json:"name"`
	Status          CapabilityStatus  `json:"status"`
	Capabilities    []string          `json:"capabilities,omitempty"` // tag set
	AllowedAgents   []string          `json:"allowed_agents,omitempty"`
	ForbiddenAgents []string          `json:"forbidden_agents,omitempty"`
	Health          CapabilityHealth  `json:"health"`
	TrustScore      float64           `json:"trust_score"` // 0..1
	Metrics         CapabilityMetrics `json:"metrics"`
}

// CapabilityFilter narrows a list(filter) query.
type CapabilityFilter struct {
	Kind   CapabilityKind
	Status CapabilityStatus
	Tag    string
}
