package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/pipeline"
)

// WorkerPool manages a pool of queue workers claiming workflows on
// this pod. Grounded on the teacher's pkg/queue/pool.go: one pool per
// process, generalized from AlertSession's single status column to
// this module's richer state set.
type WorkerPool struct {
	podID    string
	db       *database.Client
	machine  *pipeline.Machine
	config   *config.QueueConfig
	executor WorkflowExecutor
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// activeWorkflows maps workflow_id -> cancel function, for manual
	// cancellation triggered through the API.
	activeWorkflows map[string]context.CancelFunc
	mu              sync.RWMutex
	started         bool

	orphans orphanState
}

// NewWorkerPool creates a new worker pool. machine is used exclusively
// by orphan recovery to force a stale-claimed workflow to FAILED.
func NewWorkerPool(podID string, db *database.Client, machine *pipeline.Machine, cfg *config.QueueConfig, executor WorkflowExecutor) *WorkerPool {
	return &WorkerPool{
		podID:           podID,
		db:              db,
		machine:         machine,
		config:          cfg,
		executor:        executor,
		workers:         make([]*Worker, 0, cfg.WorkerCount),
		stopCh:          make(chan struct{}),
		activeWorkflows: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the orphan detection background
// task. Safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.db, p.config, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	slog.Info("worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// Workers finish their current claim before exiting (graceful
// shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool gracefully")

	active := p.getActiveWorkflowIDs()
	if len(active) > 0 {
		slog.Info("waiting for active workflows to complete", "count", len(active), "workflow_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped gracefully")
}

// RegisterWorkflow stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterWorkflow(workflowID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeWorkflows[workflowID] = cancel
}

// UnregisterWorkflow removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterWorkflow(workflowID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeWorkflows, workflowID)
}

// CancelWorkflow triggers context cancellation for a workflow claimed
// by this pod. Returns true if the workflow was found and cancelled
// here.
func (p *WorkerPool) CancelWorkflow(workflowID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeWorkflows[workflowID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	var queueDepth, active int
	errQ := p.db.QueryRow(ctx,
		`SELECT count(*) FROM workflows WHERE current_state = ANY($1) AND pod_id IS NULL AND deleted_at IS NULL`,
		claimableStates,
	).Scan(&queueDepth)
	errA := p.db.QueryRow(ctx,
		`SELECT count(*) FROM workflows WHERE pod_id = $1 AND deleted_at IS NULL`, p.podID,
	).Scan(&active)

	if errQ != nil {
		slog.Error("failed to query queue depth for health check", "pod_id", p.podID, "error", errQ)
	}
	if errA != nil {
		slog.Error("failed to query active workflows for health check", "pod_id", p.podID, "error", errA)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil && errA == nil
	isHealthy := len(p.workers) > 0 && active <= p.config.MaxConcurrentWorkflows && dbHealthy

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastOrphanScan
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	var dbError string
	if !dbHealthy {
		switch {
		case errQ != nil:
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		case errA != nil:
			dbError = fmt.Sprintf("active workflows query failed: %v", errA)
		}
	}

	return &PoolHealth{
		IsHealthy:        isHealthy,
		DBReachable:      dbHealthy,
		DBError:          dbError,
		PodID:            p.podID,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		ActiveWorkflows:  active,
		MaxConcurrent:    p.config.MaxConcurrentWorkflows,
		QueueDepth:       queueDepth,
		WorkerStats:      workerStats,
		LastOrphanScan:   lastOrphanScan,
		OrphansRecovered: orphansRecovered,
	}
}

func (p *WorkerPool) getActiveWorkflowIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeWorkflows))
	for id := range p.activeWorkflows {
		ids = append(ids, id)
	}
	return ids
}
