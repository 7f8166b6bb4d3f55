package config

import "time"

// TimeoutPolicy is the configurable behavior when an ApprovalRequest's
// decision_timeout elapses with no decision (spec §9 Open Question,
// fixed here to default "fail" — see DESIGN.md).
type TimeoutPolicy string

const (
	TimeoutPolicyFail        TimeoutPolicy = "fail"
	TimeoutPolicyAutoApprove TimeoutPolicy = "auto_approve"
	TimeoutPolicyEscalate    TimeoutPolicy = "escalate"
)

// IsValid reports whether p is a recognized timeout policy.
func (p TimeoutPolicy) IsValid() bool {
	switch p {
	case TimeoutPolicyFail, TimeoutPolicyAutoApprove, TimeoutPolicyEscalate:
		return true
	default:
		return false
	}
}

// RiskWeights weight the inputs to the Adaptive Approval Gate's risk
// score (spec §4.5: "all weights and thresholds are persisted as
// configurable parameters, not hard-coded").
type RiskWeights struct {
	StepCount       float64 `yaml:"step_count" validate:"min=0"`
	HighRiskStep    float64 `yaml:"high_risk_step" validate:"min=0"`
	DependencyDepth float64 `yaml:"dependency_depth" validate:"min=0"`
	ExternalAction  float64 `yaml:"external_action" validate:"min=0"`
}

// AutonomyThresholds is one autonomy level's decision boundary:
// require_approval when risk >= RiskThreshold or trust < TrustThreshold.
type AutonomyThresholds struct {
	RiskThreshold  float64 `yaml:"risk_threshold"`
	TrustThreshold float64 `yaml:"trust_threshold"`
}

// ApprovalConfig is the full parameter set behind require_approval
// (spec §4.5, §6: approval.autonomy_default, approval.risk_weights.*,
// approval.timeout_policy).
type ApprovalConfig struct {
	AutonomyDefault    int                         `yaml:"autonomy_default" validate:"min=0,max=4"`
	RiskWeights        RiskWeights                 `yaml:"risk_weights"`
	VeryHighThreshold  float64                     `yaml:"very_high_threshold"`
	Thresholds         map[int]AutonomyThresholds  `yaml:"-"` // derived, see thresholdsFor
	TimeoutPolicy      TimeoutPolicy               `yaml:"timeout_policy" validate:"required"`
	DecisionTimeoutS   int                         `yaml:"decision_timeout_s" validate:"required,min=1"`
}

// DecisionTimeout returns DecisionTimeoutS as a time.Duration.
func (c *ApprovalConfig) DecisionTimeout() time.Duration {
	return time.Duration(c.DecisionTimeoutS) * time.Second
}

// ThresholdsFor returns the risk/trust boundary for an autonomy level,
// linearly interpolating between the spec-defined endpoints: autonomy 0
// always requires human approval (threshold 0, i.e. any risk triggers
// it and no trust ever suffices); autonomy 4 auto-approves unless risk
// exceeds VeryHighThreshold. Levels 1–3 are a policy choice (spec §9
// Open Question — see DESIGN.md), interpolated linearly between those
// two endpoints.
func (c *ApprovalConfig) ThresholdsFor(autonomy int) AutonomyThresholds {
	if t, ok := c.Thresholds[autonomy]; ok {
		return t
	}
	if autonomy <= 0 {
		return AutonomyThresholds{RiskThreshold: 0, TrustThreshold: 1}
	}
	if autonomy >= 4 {
		return AutonomyThresholds{RiskThreshold: c.VeryHighThreshold, TrustThreshold: 0}
	}
	frac := float64(autonomy) / 4.0
	return AutonomyThresholds{
		RiskThreshold:  frac * c.VeryHighThreshold,
		TrustThreshold: 1 - frac,
	}
}

// DefaultApprovalConfig returns the built-in approval defaults.
func DefaultApprovalConfig() *ApprovalConfig {
	return &ApprovalConfig{
		AutonomyDefault: 2,
		RiskWeights: RiskWeights{
			StepCount:       0.05,
			HighRiskStep:    0.4,
			DependencyDepth: 0.1,
			ExternalAction:  0.3,
		},
		VeryHighThreshold: 0.85,
		TimeoutPolicy:     TimeoutPolicyFail,
		DecisionTimeoutS:  3600,
	}
}
