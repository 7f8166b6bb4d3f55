// Package approval implements the Adaptive Approval Gate (spec §4.5):
// a deterministic risk/trust scoring of a plan's steps against the
// requesting workflow's autonomy level, producing either a silent
// auto-approval or a pending ApprovalRequest a human must decide.
package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/google/uuid"
)

// Store persists ApprovalRequest rows.
type Store struct {
	db *database.Client
}

// NewStore returns a Store backed by db.
func NewStore(db *database.Client) *Store {
	return &Store{db: db}
}

// Create inserts req in pending status, assigning a request id if unset.
func (s *Store) Create(ctx context.Context, req *models.ApprovalRequest) (*models.ApprovalRequest, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ApprovalPending
	}

	risk, err := json.Marshal(req.RiskAssessment)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInvalidRequest, "marshal risk_assessment", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO approval_requests
			(request_id, plan_id, workflow_id, risk_assessment, recommendation, status, decision_timeout, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now())`,
		req.RequestID, req.PlanID, req.WorkflowID, risk, req.Recommendation, req.Status, req.DecisionTimeout,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "insert approval request", err)
	}
	return req, nil
}

// Get fetches one approval request by id.
func (s *Store) Get(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	return s.scanOne(ctx, `WHERE request_id = $1`, requestID)
}

// LatestForPlan returns the most recently created approval request for
// planID regardless of status, or (nil, nil) if the plan has never
// triggered one. The gate treats a plan's approval decision as
// plan-scoped rather than re-litigated per step (see DESIGN.md): once
// one step's risk assessment creates or auto-clears a request, later
// steps in the same plan reuse that outcome instead of generating a
// fresh request for each one.
func (s *Store) LatestForPlan(ctx context.Context, planID string) (*models.ApprovalRequest, error) {
	req, err := s.scanOne(ctx, `WHERE plan_id = $1 ORDER BY created_at DESC LIMIT 1`, planID)
	if apierrors.Is(err, apierrors.KindInvalidRequest) {
		return nil, nil
	}
	return req, err
}

func (s *Store) scanOne(ctx context.Context, where string, args ...any) (*models.ApprovalRequest, error) {
	rows, err := s.db.Query(ctx,
		`SELECT request_id, plan_id, workflow_id, risk_assessment, recommendation, status,
			decision_timeout, approved_by, decided_at
		FROM approval_requests `+where,
		args...,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "query approval request", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, apierrors.New(apierrors.KindInvalidRequest, "approval request not found")
	}

	req := &models.ApprovalRequest{}
	var risk []byte
	if err := rows.Scan(&req.RequestID, &req.PlanID, &req.WorkflowID, &risk, &req.Recommendation,
		&req.Status, &req.DecisionTimeout, &req.ApprovedBy, &req.DecidedAt); err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "scan approval request", err)
	}
	if len(risk) > 0 {
		_ = json.Unmarshal(risk, &req.RiskAssessment)
	}
	return req, nil
}

// Decide records a human (or timeout-driven) decision.
func (s *Store) Decide(ctx context.Context, requestID string, status models.ApprovalStatus, approvedBy *string) (*models.ApprovalRequest, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE approval_requests SET status = $1, approved_by = $2, decided_at = now() WHERE request_id = $3`,
		status, approvedBy, requestID,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "update approval request", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apierrors.New(apierrors.KindInvalidRequest, "approval request not found: "+requestID)
	}
	return s.Get(ctx, requestID)
}

// ListExpiredPending returns every pending request whose decision_timeout
// has already passed, for the timeout sweep to act on (spec §4.5: "on
// timeout: configurable policy, default FAILED").
func (s *Store) ListExpiredPending(ctx context.Context, asOf time.Time) ([]*models.ApprovalRequest, error) {
	rows, err := s.db.Query(ctx,
		`SELECT request_id, plan_id, workflow_id, risk_assessment, recommendation, status,
			decision_timeout, approved_by, decided_at
		FROM approval_requests WHERE status = $1 AND decision_timeout <= $2`,
		models.ApprovalPending, asOf,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "query expired approval requests", err)
	}
	defer rows.Close()

	var out []*models.ApprovalRequest
	for rows.Next() {
		req := &models.ApprovalRequest{}
		var risk []byte
		if err := rows.Scan(&req.RequestID, &req.PlanID, &req.WorkflowID, &risk, &req.Recommendation,
			&req.Status, &req.DecisionTimeout, &req.ApprovedBy, &req.DecidedAt); err != nil {
			return nil, apierrors.Wrap(apierrors.KindInternal, "scan approval request", err)
		}
		if len(risk) > 0 {
			_ = json.Unmarshal(risk, &req.RiskAssessment)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
