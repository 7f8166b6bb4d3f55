// Package plan implements the Plan Lifecycle & Step Executor (spec
// §4.2): plan/step persistence, DAG-ordered dispatch, function-call
// validation, error classification, and the auto-replan decision.
package plan

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store persists Plan and Step rows.
type Store struct {
	db *database.Client
}

// NewStore returns a Store backed by db.
func NewStore(db *database.Client) *Store {
	return &Store{db: db}
}

// Create inserts plan and its steps in draft status. Step ids are
// assigned if unset; position follows slice order, which also fixes
// insertion order for ready-step tie-breaking in Dispatch.
func (s *Store) Create(ctx context.Context, p *models.Plan) (*models.Plan, error) {
	if p.PlanID == "" {
		p.PlanID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PlanDraft
	}
	if p.Version == 0 {
		p.Version = 1
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "begin plan create", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`INSERT INTO plans (plan_id, task_id, workflow_id, version, goal, strategy, status,
			current_step_index, autonomy_level, parent_plan_id, attempt_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now()) RETURNING created_at`,
		p.PlanID, p.TaskID, p.WorkflowID, p.Version, p.Goal, p.Strategy, p.Status,
		p.CurrentStepIndex, p.AutonomyLevel, p.ParentPlanID, p.AttemptCount,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "insert plan", err)
	}

	for i, step := range p.Steps {
		if step.StepID == "" {
			step.StepID = uuid.NewString()
		}
		if step.Status == "" {
			step.Status = models.StepPending
		}
		if err := insertStep(ctx, tx, p.PlanID, i, step); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "commit plan create", err)
	}
	return p, nil
}

func insertStep(ctx context.Context, tx pgx.Tx, planID string, position int, step *models.Step) error {
	deps, err := json.Marshal(step.Dependencies)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInvalidRequest, "marshal step dependencies", err)
	}
	fc, err := json.Marshal(step.FunctionCall)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInvalidRequest, "marshal step function_call", err)
	}
	inputs, err := json.Marshal(step.Inputs)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInvalidRequest, "marshal step inputs", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO steps (step_id, plan_id, position, description, type, dependencies, function_call,
			agent_id, tool_id, inputs, approval_required, status, attempts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		step.StepID, planID, position, step.Description, step.Type, deps, fc,
		step.AgentID, step.ToolID, inputs, step.ApprovalRequired, step.Status, step.Attempts,
	)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "insert step", err)
	}
	return nil
}

// LatestForWorkflow returns the most recently created plan for
// workflowID, or (nil, nil) if the workflow has never had one. Used by
// pkg/queue to resume execution of an already-planned workflow and to
// find the plan a RETRYING workflow should replan from.
func (s *Store) LatestForWorkflow(ctx context.Context, workflowID string) (*models.Plan, error) {
	var planID string
	err := s.db.QueryRow(ctx,
		`SELECT plan_id FROM plans WHERE workflow_id = $1 ORDER BY created_at DESC LIMIT 1`,
		workflowID,
	).Scan(&planID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apierrors.Wrap(apierrors.KindInternal, "query latest plan for workflow", err)
	}
	return s.Get(ctx, planID)
}

// Get returns a plan and its steps, ordered by position.
func (s *Store) Get(ctx context.Context, planID string) (*models.Plan, error) {
	p := &models.Plan{}
	err := s.db.QueryRow(ctx,
		`SELECT plan_id, task_id, workflow_id, version, goal, strategy, status,
			current_step_index, created_at, approved_at, autonomy_level, parent_plan_id, attempt_count
		FROM plans WHERE plan_id = $1`,
		planID,
	).Scan(&p.PlanID, &p.TaskID, &p.WorkflowID, &p.Version, &p.Goal, &p.Strategy, &p.Status,
		&p.CurrentStepIndex, &p.CreatedAt, &p.ApprovedAt, &p.AutonomyLevel, &p.ParentPlanID, &p.AttemptCount)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInvalidRequest, "plan not found: "+planID, err)
	}

	steps, err := s.steps(ctx, planID)
	if err != nil {
		return nil, err
	}
	p.Steps = steps
	return p, nil
}

func (s *Store) steps(ctx context.Context, planID string) ([]*models.Step, error) {
	rows, err := s.db.Query(ctx,
		`SELECT step_id, description, type, dependencies, function_call, agent_id, tool_id,
			inputs, approval_required, status, result, attempts, started_at, ended_at
		FROM steps WHERE plan_id = $1 ORDER BY position ASC`,
		planID,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "query steps", err)
	}
	defer rows.Close()

	var out []*models.Step
	for rows.Next() {
		step := &models.Step{}
		var deps, fc, inputs, result []byte
		if err := rows.Scan(&step.StepID, &step.Description, &step.Type, &deps, &fc, &step.AgentID, &step.ToolID,
			&inputs, &step.ApprovalRequired, &step.Status, &result, &step.Attempts, &step.StartedAt, &step.EndedAt); err != nil {
			return nil, apierrors.Wrap(apierrors.KindInternal, "scan step", err)
		}
		if len(deps) > 0 {
			_ = json.Unmarshal(deps, &step.Dependencies)
		}
		if len(fc) > 0 && string(fc) != "null" {
			_ = json.Unmarshal(fc, &step.FunctionCall)
		}
		if len(inputs) > 0 {
			_ = json.Unmarshal(inputs, &step.Inputs)
		}
		if len(result) > 0 && string(result) != "null" {
			_ = json.Unmarshal(result, &step.Result)
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// SetStatus updates a plan's status, stamping approved_at when moving
// to approved-or-later for the first time (spec §8 round-trip
// invariant: "approved_at set iff status >= approved").
func (s *Store) SetStatus(ctx context.Context, planID string, status models.PlanStatus) error {
	q := `UPDATE plans SET status = $1`
	args := []any{status}
	if status.ApprovedOrLater() {
		q += `, approved_at = COALESCE(approved_at, now())`
	}
	q += ` WHERE plan_id = $2`
	args = append(args, planID)

	_, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "update plan status", err)
	}
	return nil
}

// SetCurrentStepIndex records dispatch progress.
func (s *Store) SetCurrentStepIndex(ctx context.Context, planID string, index int) error {
	_, err := s.db.Exec(ctx, `UPDATE plans SET current_step_index = $1 WHERE plan_id = $2`, index, planID)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "update plan step index", err)
	}
	return nil
}

// UpdateStep persists a step's mutable fields (status/result/attempts/
// timestamps) after an attempt.
func (s *Store) UpdateStep(ctx context.Context, step *models.Step) error {
	result, err := json.Marshal(step.Result)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInvalidRequest, "marshal step result", err)
	}
	_, err = s.db.Exec(ctx,
		`UPDATE steps SET status = $1, result = $2, attempts = $3, started_at = $4, ended_at = $5
		WHERE step_id = $6`,
		step.Status, result, step.Attempts, step.StartedAt, step.EndedAt, step.StepID,
	)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "update step", err)
	}
	return nil
}
