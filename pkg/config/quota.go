package config

// QuotaResource is one of the resource types the Governor tracks
// counters for (spec §4.9).
type QuotaResource string

const (
	ResourceLLMRequests   QuotaResource = "llm_requests"
	ResourceLLMTokens     QuotaResource = "llm_tokens"
	ResourceToolCalls     QuotaResource = "tool_calls"
	ResourceExecutionTime QuotaResource = "execution_time_s"
	ResourceMemoryMB      QuotaResource = "memory_mb"
	ResourceConcurrent    QuotaResource = "concurrent_tasks"
)

// QuotaPeriod is one of the four counter windows a resource is tracked
// over.
type QuotaPeriod string

const (
	PeriodMinute QuotaPeriod = "per_minute"
	PeriodHour   QuotaPeriod = "per_hour"
	PeriodDay    QuotaPeriod = "per_day"
	PeriodTotal  QuotaPeriod = "total"
)

// ResourceQuota is the limit for one resource across its four periods;
// zero means unlimited for that period.
type ResourceQuota struct {
	PerMinute int64 `yaml:"per_minute,omitempty"`
	PerHour   int64 `yaml:"per_hour,omitempty"`
	PerDay    int64 `yaml:"per_day,omitempty"`
	Total     int64 `yaml:"total,omitempty"`
}

// Limit returns the configured limit for a period, and whether that
// period is bounded at all.
func (q ResourceQuota) Limit(period QuotaPeriod) (int64, bool) {
	switch period {
	case PeriodMinute:
		return q.PerMinute, q.PerMinute > 0
	case PeriodHour:
		return q.PerHour, q.PerHour > 0
	case PeriodDay:
		return q.PerDay, q.PerDay > 0
	case PeriodTotal:
		return q.Total, q.Total > 0
	default:
		return 0, false
	}
}

// QuotaConfig is the full `quota.<resource>.<period>` key space from
// spec §6, keyed by resource name.
type QuotaConfig struct {
	Resources map[QuotaResource]ResourceQuota `yaml:"resources"`
}

// Get returns the quota for a resource, or a zero-value (unlimited)
// ResourceQuota if none is configured.
func (c *QuotaConfig) Get(resource QuotaResource) ResourceQuota {
	if c == nil || c.Resources == nil {
		return ResourceQuota{}
	}
	return c.Resources[resource]
}

// DefaultQuotaConfig returns the built-in quota defaults: generous
// per-minute/hour bounds on LLM usage, unlimited elsewhere.
func DefaultQuotaConfig() *QuotaConfig {
	return &QuotaConfig{
		Resources: map[QuotaResource]ResourceQuota{
			ResourceLLMRequests: {PerMinute: 60, PerHour: 1000},
			ResourceLLMTokens:   {PerMinute: 200_000, PerHour: 2_000_000},
			ResourceConcurrent:  {Total: 10},
		},
	}
}
