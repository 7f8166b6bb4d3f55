// Package promptregistry implements the Prompt Registry & Runtime
// Selector (spec §4.4): versioned prompt bodies, the assignment table
// that routes a (stage, component_role, ...) key to one of them, and
// the four-tier resolution order (experiment → agent → global → disk)
// the Model Invocation Gateway calls before every model invocation.
package promptregistry

import (
	"context"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/google/uuid"
)

// successEMAWeight is the exponential-moving-average weight applied to
// each new outcome in RecordUsage; 0.2 means roughly the last 5 calls
// dominate the reported success_rate.
const successEMAWeight = 0.2

// Registry is the concrete implementation of models.PromptResolver plus
// the full prompt/assignment management surface.
type Registry struct {
	db *database.Client
}

// New returns a Registry backed by db.
func New(db *database.Client) *Registry {
	return &Registry{db: db}
}

// CreatePrompt creates version 1 of a new prompt family in draft status.
func (r *Registry) CreatePrompt(ctx context.Context, req models.CreatePromptRequest) (*models.Prompt, error) {
	p := &models.Prompt{
		PromptID:      uuid.NewString(),
		Name:          req.Name,
		Version:       1,
		Stage:         req.Stage,
		ComponentRole: req.ComponentRole,
		Status:        models.PromptDraft,
		Body:          req.Body,
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO prompts (prompt_id, name, version, stage, component_role, status, body, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now()) RETURNING created_at`,
		p.PromptID, p.Name, p.Version, p.Stage, p.ComponentRole, p.Status, p.Body,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "insert prompt", err)
	}
	return p, nil
}

// CreateVersion adds a new monotonic version under an existing prompt
// name, in draft status, carrying the name's current stage/component
// role forward.
func (r *Registry) CreateVersion(ctx context.Context, name, body string) (*models.Prompt, error) {
	var stage models.Stage
	var role string
	var version int
	err := r.db.QueryRow(ctx,
		`SELECT stage, component_role, COALESCE(MAX(version), 0) FROM prompts WHERE name = $1 GROUP BY stage, component_role`,
		name,
	).Scan(&stage, &role, &version)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindPromptNotFound, "no existing prompt named "+name, err)
	}

	p := &models.Prompt{
		PromptID: uuid.NewString(), Name: name, Version: version + 1,
		Stage: stage, ComponentRole: role, Status: models.PromptDraft, Body: body,
	}
	err = r.db.QueryRow(ctx,
		`INSERT INTO prompts (prompt_id, name, version, stage, component_role, status, body, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now()) RETURNING created_at`,
		p.PromptID, p.Name, p.Version, p.Stage, p.ComponentRole, p.Status, p.Body,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "insert prompt version", err)
	}
	return p, nil
}

// Activate promotes promptID to status=active, demoting any other
// active version of the same name to deprecated first so "active is
// unique per name" holds at every point in time, not just at commit.
func (r *Registry) Activate(ctx context.Context, promptID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "begin activate", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var name string
	if err := tx.QueryRow(ctx, `SELECT name FROM prompts WHERE prompt_id = $1`, promptID).Scan(&name); err != nil {
		return apierrors.Wrap(apierrors.KindPromptNotFound, "prompt not found: "+promptID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE prompts SET status = $1 WHERE name = $2 AND status = $3 AND prompt_id != $4`,
		models.PromptDeprecated, name, models.PromptActive, promptID,
	); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "demote previous active prompt", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE prompts SET status = $1 WHERE prompt_id = $2`, models.PromptActive, promptID); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "activate prompt", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "commit activate", err)
	}
	return nil
}

// Deprecate retires promptID regardless of its current status.
func (r *Registry) Deprecate(ctx context.Context, promptID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE prompts SET status = $1 WHERE prompt_id = $2`, models.PromptDeprecated, promptID)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "deprecate prompt", err)
	}
	if tag.RowsAffected() == 0 {
		return apierrors.New(apierrors.KindPromptNotFound, "prompt not found: "+promptID)
	}
	return nil
}

// RecordUsage folds one call's outcome into the prompt's rolling
// success_rate/avg_latency_ms and increments usage_count.
func (r *Registry) RecordUsage(ctx context.Context, promptID string, success bool, latencyMs float64) error {
	outcome := 0.0
	if success {
		outcome = 1.0
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE prompts SET
			usage_count = usage_count + 1,
			success_rate = success_rate * (1 - $1) + $2 * $1,
			avg_latency_ms = avg_latency_ms * (1 - $1) + $3 * $1
		WHERE prompt_id = $4`,
		successEMAWeight, outcome, latencyMs, promptID,
	)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "record prompt usage", err)
	}
	if tag.RowsAffected() == 0 {
		return apierrors.New(apierrors.KindPromptNotFound, "prompt not found: "+promptID)
	}
	return nil
}

// Assign creates a PromptAssignment row, one way to supply the routing
// rule GetActive resolves against (the other being direct test/seed
// data). Not named as its own spec operation, but required to populate
// the experiment/agent/global scopes the resolution order reads from.
func (r *Registry) Assign(ctx context.Context, a models.PromptAssignment) (*models.PromptAssignment, error) {
	a.AssignmentID = uuid.NewString()
	_, err := r.db.Exec(ctx,
		`INSERT INTO prompt_assignments (assignment_id, scope, stage, component_role, model_id, server_id, task_type, prompt_id, priority, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())`,
		a.AssignmentID, a.Scope, a.Stage, a.ComponentRole, a.ModelID, a.ServerID, a.TaskType, a.PromptID, a.Priority,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "insert prompt assignment", err)
	}
	return &a, nil
}

var _ models.PromptResolver = (*Registry)(nil)
