package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/models"
)

// heartbeatInterval derives the heartbeat cadence from the orphan
// threshold rather than a separate config key: a heartbeat at a third
// of the threshold gives the orphan scan two missed beats of slack
// before it reclaims a workflow that is merely slow.
func heartbeatInterval(cfg *config.QueueConfig) time.Duration {
	interval := cfg.OrphanThreshold / 3
	if interval < time.Second {
		return time.Second
	}
	return interval
}

// claimableStates lists the workflow states a worker may pick up: a
// fresh request just past INITIALIZED, a plan that cleared approval and
// is ready to execute, and a workflow an executor failure sent back for
// replanning. APPROVAL_PENDING is deliberately excluded — only a human
// decision through pkg/approval moves it forward.
var claimableStates = []models.WorkflowState{
	models.WorkflowParsing,
	models.WorkflowApproved,
	models.WorkflowRetrying,
}

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkflowRegistry is the subset of WorkerPool used by Worker for
// cancel-function registration.
type WorkflowRegistry interface {
	RegisterWorkflow(workflowID string, cancel context.CancelFunc)
	UnregisterWorkflow(workflowID string)
}

// Worker is a single queue worker that polls for and drives workflows.
type Worker struct {
	id       string
	podID    string
	db       *database.Client
	config   *config.QueueConfig
	executor WorkflowExecutor
	pool     WorkflowRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu                 sync.RWMutex
	status             WorkerStatus
	currentWorkflowID  string
	workflowsProcessed int
	lastActivity       time.Time
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, db *database.Client, cfg *config.QueueConfig, executor WorkflowExecutor, pool WorkflowRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		db:           db,
		config:       cfg,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to
// call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                 w.id,
		Status:             string(w.status),
		CurrentWorkflowID:  w.currentWorkflowID,
		WorkflowsProcessed: w.workflowsProcessed,
		LastActivity:       w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoWorkflowsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing workflow", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a workflow, and drives it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	var activeCount int
	if err := w.db.QueryRow(ctx,
		`SELECT count(*) FROM workflows WHERE pod_id IS NOT NULL AND deleted_at IS NULL`,
	).Scan(&activeCount); err != nil {
		return fmt.Errorf("checking active workflows: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentWorkflows {
		return ErrAtCapacity
	}

	workflowID, err := w.claimNextWorkflow(ctx)
	if err != nil {
		return err
	}

	log := slog.With("workflow_id", workflowID, "worker_id", w.id)
	log.Info("workflow claimed")

	w.setStatus(WorkerStatusWorking, workflowID)
	defer w.setStatus(WorkerStatusIdle, "")

	workflowCtx, cancelWorkflow := context.WithTimeout(ctx, w.config.WorkflowTimeout)
	defer cancelWorkflow()

	w.pool.RegisterWorkflow(workflowID, cancelWorkflow)
	defer w.pool.UnregisterWorkflow(workflowID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(workflowCtx)
	go w.runHeartbeat(heartbeatCtx, workflowID)

	execErr := w.executor.Execute(workflowCtx, workflowID)
	cancelHeartbeat()

	// Release the claim unconditionally: a claim only covers one bounded
	// round (through to a terminal state, APPROVAL_PENDING, or an error);
	// a workflow left in a still-claimable state needs pod_id cleared so
	// a future poll (this pod or another) can pick it up again.
	if _, err := w.db.Exec(ctx, `UPDATE workflows SET pod_id = NULL WHERE workflow_id = $1`, workflowID); err != nil {
		log.Error("failed to release workflow claim", "error", err)
	}

	w.mu.Lock()
	w.workflowsProcessed++
	w.mu.Unlock()

	if execErr != nil {
		log.Error("workflow round ended with error", "error", execErr)
		return nil
	}

	log.Info("workflow round complete")
	return nil
}

// claimNextWorkflow atomically claims the next claimable workflow using
// FOR UPDATE SKIP LOCKED, generalizing the teacher's single-status
// pending claim to this module's three claimable states.
func (w *Worker) claimNextWorkflow(ctx context.Context) (string, error) {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var workflowID string
	err = tx.QueryRow(ctx,
		`SELECT workflow_id FROM workflows
		WHERE current_state = ANY($1) AND pod_id IS NULL AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		claimableStates,
	).Scan(&workflowID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoWorkflowsAvailable
		}
		return "", fmt.Errorf("failed to query claimable workflow: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE workflows SET pod_id = $1, last_interaction_at = now() WHERE workflow_id = $2`,
		w.podID, workflowID,
	); err != nil {
		return "", fmt.Errorf("failed to claim workflow: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit claim: %w", err)
	}

	return workflowID, nil
}

// runHeartbeat periodically updates last_interaction_at for orphan
// detection.
func (w *Worker) runHeartbeat(ctx context.Context, workflowID string) {
	ticker := time.NewTicker(heartbeatInterval(w.config))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.db.Exec(ctx,
				`UPDATE workflows SET last_interaction_at = now() WHERE workflow_id = $1`, workflowID,
			); err != nil {
				slog.Warn("heartbeat update failed", "workflow_id", workflowID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, workflowID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentWorkflowID = workflowID
	w.lastActivity = time.Now()
}
