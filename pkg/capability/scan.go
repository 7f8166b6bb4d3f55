package capability

import (
	"encoding/json"
	"strconv"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/jackc/pgx/v5"
)

const selectColumns = `SELECT id, kind, name, status, capabilities, allowed_agents, forbidden_agents,
	health, trust_score, total_executions, success_count, consecutive_failures, avg_latency_ms
	FROM capabilities`

func scanCapability(rows pgx.Rows) (*models.CapabilityRecord, error) {
	rec := &models.CapabilityRecord{}
	var caps, allowed, forbidden []byte

	if err := rows.Scan(
		&rec.ID, &rec.Kind, &rec.Name, &rec.Status, &caps, &allowed, &forbidden,
		&rec.Health, &rec.TrustScore, &rec.Metrics.TotalExecutions, &rec.Metrics.SuccessCount,
		&rec.Metrics.ConsecutiveFailures, &rec.Metrics.AvgLatencyMs,
	); err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "scan capability row", err)
	}

	if len(caps) > 0 {
		if err := json.Unmarshal(caps, &rec.Capabilities); err != nil {
			return nil, apierrors.Wrap(apierrors.KindInternal, "unmarshal capabilities", err)
		}
	}
	if len(allowed) > 0 {
		if err := json.Unmarshal(allowed, &rec.AllowedAgents); err != nil {
			return nil, apierrors.Wrap(apierrors.KindInternal, "unmarshal allowed_agents", err)
		}
	}
	if len(forbidden) > 0 {
		if err := json.Unmarshal(forbidden, &rec.ForbiddenAgents); err != nil {
			return nil, apierrors.Wrap(apierrors.KindInternal, "unmarshal forbidden_agents", err)
		}
	}
	return rec, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func fmtArg(prefix string, n int) string {
	return prefix + strconv.Itoa(n)
}
