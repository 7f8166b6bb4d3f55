// Package queue implements the worker pool that claims pending
// workflows and drives them through the canonical seven-stage pipeline
// (spec §5 CONCURRENCY & RESOURCE MODEL): each worker goroutine claims
// one workflow row with `SELECT ... FOR UPDATE SKIP LOCKED`, runs it as
// far as it can go without blocking on a human decision, and releases
// its claim. A background orphan scan reclaims workflows abandoned by a
// crashed pod.
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoWorkflowsAvailable indicates no claimable workflow rows exist.
	ErrNoWorkflowsAvailable = errors.New("no workflows available")

	// ErrAtCapacity indicates the global concurrent workflow limit has
	// been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// WorkflowExecutor drives one claimed workflow from its current state
// as far forward as a single claim is allowed to go: through
// PARSING/PLANNING to either a terminal state, APPROVAL_PENDING (parks
// until a human decides), or APPROVED (a future claim resumes
// execution). The worker only handles: claiming, heartbeat, and
// releasing the claim — the entire per-stage pipeline logic lives
// behind this interface, mirroring the way the teacher's
// queue.SessionExecutor owns the whole session lifecycle and leaves the
// Worker to handle only claim bookkeeping.
type WorkflowExecutor interface {
	Execute(ctx context.Context, workflowID string) error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveWorkflows  int            `json:"active_workflows"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                 string    `json:"id"`
	Status             string    `json:"status"` // "idle" or "working"
	CurrentWorkflowID  string    `json:"current_workflow_id,omitempty"`
	WorkflowsProcessed int       `json:"workflows_processed"`
	LastActivity       time.Time `json:"last_activity"`
}
