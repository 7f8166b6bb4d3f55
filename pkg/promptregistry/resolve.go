package promptregistry

import (
	"context"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/models"
)

// GetActive resolves key to exactly one prompt body, walking
// models.ResolutionOrder (experiment → agent → global) before falling
// back to the disk-embedded default for the stage. Returns
// apierrors.KindPromptNotFound if nothing resolves at all — which only
// happens for a stage with neither an assignment nor a shipped default,
// i.e. a configuration bug, not an expected runtime outcome.
func (r *Registry) GetActive(ctx context.Context, key models.ResolutionKey) (*models.Prompt, error) {
	for _, scope := range models.ResolutionOrder {
		prompt, err := r.resolveScope(ctx, scope, key)
		if err != nil {
			return nil, err
		}
		if prompt != nil {
			return prompt, nil
		}
	}

	if body, ok := diskFallback(key.Stage); ok {
		return &models.Prompt{
			PromptID:      "disk:" + string(key.Stage) + ":" + key.ComponentRole,
			Name:          "disk-fallback-" + string(key.Stage),
			Version:       0,
			Stage:         key.Stage,
			ComponentRole: key.ComponentRole,
			Status:        models.PromptActive,
			Body:          body,
		}, nil
	}

	return nil, apierrors.New(apierrors.KindPromptNotFound,
		"no assignment and no disk fallback for stage "+string(key.Stage))
}

// resolveScope looks up the highest-priority active prompt assigned to
// scope for key, or (nil, nil) if none matches — not finding a match at
// one scope is expected control flow, not an error.
//
// "agent" scope has no dedicated column on PromptAssignment; by
// convention an agent-scoped assignment row carries the agent id in
// model_id, since routing a prompt to a specific agent and routing it
// to a specific model both reduce to "match this one identifier".
func (r *Registry) resolveScope(ctx context.Context, scope models.AssignmentScope, key models.ResolutionKey) (*models.Prompt, error) {
	matchID := key.ModelID
	if scope == models.ScopeAgent {
		matchID = key.AgentID
	}

	rows, err := r.db.Query(ctx,
		`SELECT p.prompt_id, p.name, p.version, p.stage, p.component_role, p.status, p.body,
			p.usage_count, p.success_rate, p.avg_latency_ms, p.created_at
		FROM prompt_assignments pa
		JOIN prompts p ON p.prompt_id = pa.prompt_id
		WHERE pa.scope = $1 AND pa.stage = $2 AND pa.component_role = $3 AND p.status = $4
			AND (pa.model_id IS NULL OR pa.model_id = $5)
			AND (pa.task_type IS NULL OR pa.task_type = $6)
		ORDER BY pa.priority DESC
		LIMIT 1`,
		scope, key.Stage, key.ComponentRole, models.PromptActive, nullIfEmpty(matchID), nullIfEmpty(key.TaskType),
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "resolve prompt assignment", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	p := &models.Prompt{}
	if err := rows.Scan(
		&p.PromptID, &p.Name, &p.Version, &p.Stage, &p.ComponentRole, &p.Status, &p.Body,
		&p.Metrics.UsageCount, &p.Metrics.SuccessRate, &p.Metrics.AvgLatencyMs, &p.CreatedAt,
	); err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "scan resolved prompt", err)
	}
	return p, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
