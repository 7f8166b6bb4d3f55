// Package cleanup provides the background data retention loop: soft-
// deleting terminal workflows past their retention window and pruning
// execution events past their TTL.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/database"
)

// Service periodically enforces retention policy on the workflows and
// execution_events tables:
//   - soft-deletes terminal workflows older than WorkflowRetentionDays
//   - deletes execution_events older than EventTTL as a safety net
//     (the normal path is the ON DELETE CASCADE a workflow soft-delete
//     never triggers, since soft-delete only sets deleted_at)
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	db     *database.Client
	config *config.RetentionConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention service.
func NewService(db *database.Client, cfg *config.RetentionConfig) *Service {
	return &Service{db: db, config: cfg}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention service started",
		"workflow_retention_days", s.config.WorkflowRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.softDeleteOldWorkflows(ctx)
	s.cleanupStaleEvents(ctx)
}

func (s *Service) softDeleteOldWorkflows(ctx context.Context) {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflows
		SET deleted_at = now()
		WHERE deleted_at IS NULL
			AND current_state IN ('COMPLETED', 'FAILED', 'CANCELLED')
			AND terminated_at IS NOT NULL
			AND terminated_at < now() - ($1 || ' days')::interval`,
		s.config.WorkflowRetentionDays,
	)
	if err != nil {
		slog.Error("retention: soft-delete workflows failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("retention: soft-deleted old workflows", "count", n)
	}
}

func (s *Service) cleanupStaleEvents(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.EventTTL)
	tag, err := s.db.Exec(ctx,
		`DELETE FROM execution_events WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		slog.Error("retention: event cleanup failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("retention: pruned stale execution events", "count", n)
	}
}
