package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/models"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for workflows abandoned by a
// crashed pod. All pods run this independently; recovery is idempotent
// since a row is only ever touched while its pod_id still matches the
// stale claim.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans finds claimed workflows whose heartbeat has
// gone stale and recovers each one.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := time.Now().Add(-p.config.OrphanThreshold)

	rows, err := p.db.Query(ctx,
		`SELECT workflow_id, pod_id, current_state, last_interaction_at
		FROM workflows
		WHERE pod_id IS NOT NULL AND deleted_at IS NULL
			AND last_interaction_at IS NOT NULL AND last_interaction_at < $1`,
		threshold,
	)
	if err != nil {
		return fmt.Errorf("failed to query orphaned workflows: %w", err)
	}

	type orphan struct {
		workflowID        string
		podID             string
		currentState      models.WorkflowState
		lastInteractionAt time.Time
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.workflowID, &o.podID, &o.currentState, &o.lastInteractionAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan orphaned workflow: %w", err)
		}
		orphans = append(orphans, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating orphaned workflows: %w", err)
	}

	if len(orphans) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastOrphanScan = time.Now()
		p.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("detected orphaned workflows", "count", len(orphans))

	recovered, failed := 0, 0
	for _, o := range orphans {
		reason := fmt.Sprintf("orphaned: no heartbeat from pod %s since %s", o.podID, o.lastInteractionAt.Format(time.RFC3339))
		if err := p.recoverOrphanedWorkflow(ctx, o.workflowID, reason); err != nil {
			slog.Error("failed to recover orphaned workflow", "workflow_id", o.workflowID, "error", err)
			failed++
			continue
		}
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	if failed > 0 {
		slog.Warn("orphan recovery completed with failures",
			"total_orphans", len(orphans), "recovered", recovered, "failed", failed)
	}

	return nil
}

// recoverOrphanedWorkflow forces a stale-claimed workflow to FAILED when
// its current state has a FAILED edge (APPROVAL_PENDING, EXECUTING per
// the transition table); any other state was abandoned mid-stage rather
// than mid-decision, so recovery just clears the claim and lets the row
// fall back into the claimable pool for a fresh attempt.
func (p *WorkerPool) recoverOrphanedWorkflow(ctx context.Context, workflowID, reason string) error {
	_, err := p.machine.ForceTransition(ctx, workflowID, models.WorkflowFailed, reason)
	if err == nil {
		slog.Warn("orphaned workflow marked failed", "workflow_id", workflowID, "reason", reason)
		return nil
	}

	var apiErr *apierrors.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierrors.KindInvalidTransition {
		return err
	}

	if _, err := p.db.Exec(ctx,
		`UPDATE workflows SET pod_id = NULL WHERE workflow_id = $1 AND deleted_at IS NULL`,
		workflowID,
	); err != nil {
		return fmt.Errorf("failed to release orphaned claim: %w", err)
	}
	slog.Warn("orphaned workflow claim released for retry", "workflow_id", workflowID, "reason", reason)
	return nil
}

// CleanupStartupOrphans performs a one-time recovery of workflows still
// claimed by podID from a previous process that crashed before
// releasing them. Call once at startup, before the worker pool begins
// polling.
func CleanupStartupOrphans(ctx context.Context, p *WorkerPool, podID string) error {
	rows, err := p.db.Query(ctx,
		`SELECT workflow_id FROM workflows WHERE pod_id = $1 AND deleted_at IS NULL`, podID,
	)
	if err != nil {
		return fmt.Errorf("failed to query startup orphans: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan startup orphan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating startup orphans: %w", err)
	}

	if len(ids) == 0 {
		return nil
	}

	slog.Warn("found startup orphans from previous run", "pod_id", podID, "count", len(ids))

	for _, id := range ids {
		reason := fmt.Sprintf("orphaned: pod %s restarted while workflow was claimed", podID)
		if err := p.recoverOrphanedWorkflow(ctx, id, reason); err != nil {
			slog.Error("failed to recover startup orphan", "workflow_id", id, "error", err)
			continue
		}
		slog.Info("startup orphan recovered", "workflow_id", id)
	}

	return nil
}
