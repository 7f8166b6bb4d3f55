package models

import "time"

// Checkpoint is an immutable snapshot of an entity, used as a rollback
// target. The latest checkpoint per entity wins.
type Checkpoint struct {
	CheckpointID string    `json:"checkpoint_id"`
	EntityType   string    `json:"entity_type"` // e.g. "plan"
	EntityID     string    `json:"entity_id"`
	StateSnapshot []byte   `json:"state_snapshot"`
	StateHash    string    `json:"state_hash"` // sha256 over the snapshot
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}
