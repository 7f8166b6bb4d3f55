package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aard-ai/aard/pkg/config"
)

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             5,
		MaxConcurrentWorkflows:  5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		WorkflowTimeout:         15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         90 * time.Second,
	}
}

func TestWorkerPollInterval(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("test-worker", "test-pod", nil, cfg, nil, nil)

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestWorkerPollIntervalNoJitter(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollIntervalJitter = 0
	w := NewWorker("test-worker", "test-pod", nil, cfg, nil, nil)

	for i := 0; i < 10; i++ {
		assert.Equal(t, 1*time.Second, w.pollInterval())
	}
}

func TestWorkerHealthReflectsSetStatus(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("test-worker", "test-pod", nil, cfg, nil, nil)

	h := w.Health()
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, 0, h.WorkflowsProcessed)

	w.setStatus(WorkerStatusWorking, "wf-1")
	h = w.Health()
	assert.Equal(t, string(WorkerStatusWorking), h.Status)
	assert.Equal(t, "wf-1", h.CurrentWorkflowID)
}

func TestHeartbeatIntervalDerivesFromOrphanThreshold(t *testing.T) {
	cfg := testQueueConfig()
	cfg.OrphanThreshold = 90 * time.Second
	assert.Equal(t, 30*time.Second, heartbeatInterval(cfg))
}

func TestHeartbeatIntervalFloorsAtOneSecond(t *testing.T) {
	cfg := testQueueConfig()
	cfg.OrphanThreshold = 2 * time.Second
	assert.Equal(t, time.Second, heartbeatInterval(cfg))
}
