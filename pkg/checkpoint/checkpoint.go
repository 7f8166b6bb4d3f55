// Package checkpoint implements the Checkpoint & Memory Interface (spec
// §1(f)/§3): immutable entity snapshots used as rollback targets, plus
// a narrow Memory interface the plan/step executor consults for
// long-term keyed and (future) vector recall.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/google/uuid"
)

// Store creates and reads Checkpoint rows. The caller is responsible
// for serializing/deserializing the entity itself; Store only owns the
// bytes, the hash, and the "latest wins" rollback-target selection.
type Store struct {
	db *database.Client
}

// New returns a Store backed by db.
func New(db *database.Client) *Store {
	return &Store{db: db}
}

// Create snapshots state as a new checkpoint for (entityType, entityID),
// hashing it with SHA-256 so a later Rollback can detect corruption
// (spec §8 round-trip law: hash(e) after rollback(latest) must equal
// the stored state_hash).
func (s *Store) Create(ctx context.Context, entityType, entityID string, state []byte, reason string) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{
		CheckpointID:  uuid.NewString(),
		EntityType:    entityType,
		EntityID:      entityID,
		StateSnapshot: state,
		StateHash:     hashState(state),
		Reason:        reason,
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO checkpoints (checkpoint_id, entity_type, entity_id, state_snapshot, state_hash, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6, now()) RETURNING created_at`,
		cp.CheckpointID, cp.EntityType, cp.EntityID, cp.StateSnapshot, cp.StateHash, cp.Reason,
	).Scan(&cp.CreatedAt)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "insert checkpoint", err)
	}
	return cp, nil
}

// Latest returns the most recent checkpoint for (entityType, entityID),
// the rollback target spec §3 names ("latest per entity wins").
func (s *Store) Latest(ctx context.Context, entityType, entityID string) (*models.Checkpoint, error) {
	row := s.db.QueryRow(ctx,
		`SELECT checkpoint_id, entity_type, entity_id, state_snapshot, state_hash, reason, created_at
		FROM checkpoints WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at DESC LIMIT 1`,
		entityType, entityID,
	)
	cp := &models.Checkpoint{}
	if err := row.Scan(&cp.CheckpointID, &cp.EntityType, &cp.EntityID, &cp.StateSnapshot, &cp.StateHash, &cp.Reason, &cp.CreatedAt); err != nil {
		return nil, apierrors.Wrap(apierrors.KindCheckpointCorrupt, "no checkpoint for "+entityType+"/"+entityID, err)
	}
	return cp, nil
}

// Rollback returns the latest checkpoint's snapshot after verifying its
// stored hash still matches its bytes, surfacing storage-level
// corruption as KindCheckpointCorrupt rather than handing the caller a
// tampered or truncated snapshot to deserialize.
func (s *Store) Rollback(ctx context.Context, entityType, entityID string) (*models.Checkpoint, error) {
	cp, err := s.Latest(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if hashState(cp.StateSnapshot) != cp.StateHash {
		return nil, apierrors.New(apierrors.KindCheckpointCorrupt, "checkpoint "+cp.CheckpointID+" failed hash verification")
	}
	return cp, nil
}

// History returns every checkpoint for (entityType, entityID), newest
// first, bounded by limit (0 means unbounded).
func (s *Store) History(ctx context.Context, entityType, entityID string, limit int) ([]*models.Checkpoint, error) {
	q := `SELECT checkpoint_id, entity_type, entity_id, state_snapshot, state_hash, reason, created_at
		FROM checkpoints WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at DESC`
	args := []any{entityType, entityID}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "query checkpoint history", err)
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		cp := &models.Checkpoint{}
		if err := rows.Scan(&cp.CheckpointID, &cp.EntityType, &cp.EntityID, &cp.StateSnapshot, &cp.StateHash, &cp.Reason, &cp.CreatedAt); err != nil {
			return nil, apierrors.Wrap(apierrors.KindInternal, "scan checkpoint", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func hashState(state []byte) string {
	sum := sha256.Sum256(state)
	return hex.EncodeToString(sum[:])
}
