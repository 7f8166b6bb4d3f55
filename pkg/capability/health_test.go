package capability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aard-ai/aard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitor_MarksHealthyAndDegraded(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	healthyRec, err := r.Register(ctx, &models.CapabilityRecord{Kind: models.CapabilityTool, Name: "ok.tool"})
	require.NoError(t, err)
	flakyRec, err := r.Register(ctx, &models.CapabilityRecord{Kind: models.CapabilityTool, Name: "flaky.tool"})
	require.NoError(t, err)

	var calls atomic.Int32
	prober := ProberFunc(func(ctx context.Context, rec *models.CapabilityRecord) error {
		calls.Add(1)
		if rec.ID == flakyRec.ID {
			return errors.New("probe failed")
		}
		return nil
	})

	monitor := NewHealthMonitor(r, prober, 20*time.Millisecond, 5*time.Millisecond)
	monitor.Start(ctx)
	defer monitor.Stop()

	require.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := r.Get(ctx, healthyRec.ID)
		return err == nil && got.Health == models.HealthHealthy
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := r.Get(ctx, flakyRec.ID)
		return err == nil && got.Health == models.HealthDegraded
	}, time.Second, 5*time.Millisecond)
}

func TestHealthMonitor_StartStopIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	prober := ProberFunc(func(ctx context.Context, rec *models.CapabilityRecord) error { return nil })
	monitor := NewHealthMonitor(r, prober, time.Hour, time.Second)

	monitor.Start(context.Background())
	monitor.Start(context.Background()) // no-op, must not panic or deadlock
	monitor.Stop()
	monitor.Stop() // no-op

	assert.Nil(t, monitor.cancel)
}
