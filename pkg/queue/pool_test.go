package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolRegisterAndCancelWorkflow(t *testing.T) {
	pool := &WorkerPool{
		activeWorkflows: make(map[string]context.CancelFunc),
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterWorkflow("wf-1", cancel)

	assert.True(t, pool.CancelWorkflow("wf-1"))
	assert.Error(t, ctx.Err())

	assert.False(t, pool.CancelWorkflow("unknown"))
}

func TestPoolUnregisterWorkflow(t *testing.T) {
	pool := &WorkerPool{
		activeWorkflows: make(map[string]context.CancelFunc),
	}

	_, cancel := context.WithCancel(context.Background())
	pool.RegisterWorkflow("wf-1", cancel)
	assert.True(t, pool.CancelWorkflow("wf-1"))

	pool.UnregisterWorkflow("wf-1")
	assert.False(t, pool.CancelWorkflow("wf-1"))
}

func TestPoolGetActiveWorkflowIDs(t *testing.T) {
	pool := &WorkerPool{
		activeWorkflows: make(map[string]context.CancelFunc),
	}

	assert.Empty(t, pool.getActiveWorkflowIDs())

	_, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	pool.RegisterWorkflow("wf-1", cancel1)
	pool.RegisterWorkflow("wf-2", cancel2)

	ids := pool.getActiveWorkflowIDs()
	assert.ElementsMatch(t, []string{"wf-1", "wf-2"}, ids)
}
