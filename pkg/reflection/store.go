// Package reflection implements the Reflection & Meta-Learning Sink
// (spec §4.6): after a terminal workflow state, it categorizes the
// outcome from the execution event trail and proposes advisory
// InterpretationBias records and prompt metric updates. It never
// mutates plan or execution records, and it has no authority to change
// interpretation rules silently — it only proposes.
package reflection

import (
	"context"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/google/uuid"
)

// BiasStore persists InterpretationBias rows.
type BiasStore struct {
	db *database.Client
}

// NewBiasStore returns a BiasStore backed by db.
func NewBiasStore(db *database.Client) *BiasStore {
	return &BiasStore{db: db}
}

// Propose inserts b, assigning a bias id and CreatedAt if unset.
func (s *BiasStore) Propose(ctx context.Context, b *models.InterpretationBias) (*models.InterpretationBias, error) {
	if b.BiasID == "" {
		b.BiasID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO interpretation_biases
			(bias_id, workflow_id, condition, preferred_interpretation, confidence, source, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		b.BiasID, b.WorkflowID, b.Condition, b.PreferredInterpretation, b.Confidence, b.Source, b.CreatedAt,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "insert interpretation bias", err)
	}
	return b, nil
}

// Active returns every InterpretationBias not yet decayed, for the
// interpretation stage to consult as advisory input.
func (s *BiasStore) Active(ctx context.Context) ([]*models.InterpretationBias, error) {
	rows, err := s.db.Query(ctx,
		`SELECT bias_id, workflow_id, condition, preferred_interpretation, confidence, source, created_at, decayed_at
		FROM interpretation_biases WHERE decayed_at IS NULL ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "query active interpretation biases", err)
	}
	defer rows.Close()

	var out []*models.InterpretationBias
	for rows.Next() {
		b := &models.InterpretationBias{}
		if err := rows.Scan(&b.BiasID, &b.WorkflowID, &b.Condition, &b.PreferredInterpretation,
			&b.Confidence, &b.Source, &b.CreatedAt, &b.DecayedAt); err != nil {
			return nil, apierrors.Wrap(apierrors.KindInternal, "scan interpretation bias", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DecayOlderThan sets decayed_at on every still-active bias created
// before cutoff, implementing the "temporal decay" spec §4.6 names.
func (s *BiasStore) DecayOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE interpretation_biases SET decayed_at = now() WHERE decayed_at IS NULL AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.KindInternal, "decay interpretation biases", err)
	}
	return int(tag.RowsAffected()), nil
}
