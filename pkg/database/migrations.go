package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These enable efficient full-text search over a workflow's original
// request text and its reflection summary, neither of which is worth
// indexing with a plain btree.
func CreateGINIndexes(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_workflows_original_request_gin
		ON workflows USING gin(to_tsvector('english', original_request))`)
	if err != nil {
		return fmt.Errorf("failed to create original_request GIN index: %w", err)
	}

	_, err = pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_workflows_summary_gin
		ON workflows USING gin(to_tsvector('english', COALESCE(summary, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create summary GIN index: %w", err)
	}

	return nil
}
