package governor

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// fakeJournal records appended events for assertions without needing a
// Postgres-backed journal.Journal for every test.
type fakeJournal struct {
	events []*models.ExecutionEvent
}

func (f *fakeJournal) Append(_ context.Context, e *models.ExecutionEvent) error {
	f.events = append(f.events, e)
	return nil
}

func newTestRedis(t *testing.T) *redis.Client {
	ctx := context.Background()

	rc, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(rc); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := rc.ConnectionString(ctx)
	require.NoError(t, err)

	u, err := url.Parse(connStr)
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: u.Host})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { client.Close() })

	return client
}

func newTestGovernor(t *testing.T, quota *config.QuotaConfig, cfg *config.GovernorConfig) (*Governor, *fakeJournal) {
	fj := &fakeJournal{}
	rdb := newTestRedis(t)
	return New(rdb, fj, quota, cfg), fj
}

func TestGovernor_AdmitUnboundedResourceAlwaysSucceeds(t *testing.T) {
	g, _ := newTestGovernor(t, &config.QuotaConfig{}, config.DefaultGovernorConfig())

	err := g.Admit(context.Background(), "step", 1)
	require.NoError(t, err)
	g.Release(context.Background(), "step", 1)
}

func TestGovernor_AdmitDeniesOverPerMinuteQuota(t *testing.T) {
	quota := &config.QuotaConfig{Resources: map[config.QuotaResource]config.ResourceQuota{
		config.ResourceLLMRequests: {PerMinute: 1},
	}}
	cfg := config.DefaultGovernorConfig()
	g, journal := newTestGovernor(t, quota, cfg)

	ctx := context.Background()
	require.NoError(t, g.Admit(ctx, string(config.ResourceLLMRequests), 1))
	g.Release(ctx, string(config.ResourceLLMRequests), 1)

	err := g.Admit(ctx, string(config.ResourceLLMRequests), 1)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindQuotaExceeded, apierrors.KindOf(err))
	assert.Equal(t, "quota_exceeded_llm_requests", apierrors.ReasonCodeOf(err))
	assert.NotEmpty(t, journal.events)
}

func TestGovernor_AdmitRollsBackOnDenialAcrossPeriods(t *testing.T) {
	quota := &config.QuotaConfig{Resources: map[config.QuotaResource]config.ResourceQuota{
		config.ResourceToolCalls: {PerMinute: 1, PerHour: 100},
	}}
	cfg := config.DefaultGovernorConfig()
	g, _ := newTestGovernor(t, quota, cfg)

	ctx := context.Background()
	require.NoError(t, g.Admit(ctx, string(config.ResourceToolCalls), 1))
	g.Release(ctx, string(config.ResourceToolCalls), 1)

	require.Error(t, g.Admit(ctx, string(config.ResourceToolCalls), 1))

	hourKey := g.key(config.ResourceToolCalls, config.PeriodHour)
	val, err := g.redis.Get(ctx, hourKey).Result()
	require.NoError(t, err)
	n, err := strconv.ParseFloat(val, 64)
	require.NoError(t, err)
	assert.Equal(t, float64(1), n, "the per_hour counter should retain only the first admitted call, the denied second call rolled back")
}

func TestGovernor_AdmitDeniesBeyondConcurrencyCeiling(t *testing.T) {
	cfg := config.DefaultGovernorConfig()
	cfg.MaxConcurrentTasks = 1
	g, _ := newTestGovernor(t, config.DefaultQuotaConfig(), cfg)

	ctx := context.Background()
	require.NoError(t, g.Admit(ctx, "step", 1))

	err := g.Admit(ctx, "step", 1)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindQuotaExceeded, apierrors.KindOf(err))

	g.Release(ctx, "step", 1)
	require.NoError(t, g.Admit(ctx, "step", 1))
	g.Release(ctx, "step", 1)
}

func TestGovernor_ConcurrentTasksGaugeDecrementsOnRelease(t *testing.T) {
	quota := &config.QuotaConfig{Resources: map[config.QuotaResource]config.ResourceQuota{
		config.ResourceConcurrent: {Total: 1},
	}}
	cfg := config.DefaultGovernorConfig()
	g, _ := newTestGovernor(t, quota, cfg)

	ctx := context.Background()
	require.NoError(t, g.Admit(ctx, string(config.ResourceConcurrent), 1))
	require.Error(t, g.Admit(ctx, string(config.ResourceConcurrent), 1))

	g.Release(ctx, string(config.ResourceConcurrent), 1)
	require.NoError(t, g.Admit(ctx, string(config.ResourceConcurrent), 1))
	g.Release(ctx, string(config.ResourceConcurrent), 1)
}

func TestGovernor_WrapEmitsTimeoutEventOnDeadlineExceeded(t *testing.T) {
	g, fj := newTestGovernor(t, config.DefaultQuotaConfig(), config.DefaultGovernorConfig())

	err := g.Wrap(context.Background(), &models.RuntimeContext{WorkflowID: "wf-1"}, "llm_requests", 1, 10*time.Millisecond,
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	require.Error(t, err)
	assert.Equal(t, apierrors.KindModelTimeout, apierrors.KindOf(err))

	found := false
	for _, e := range fj.events {
		if strings.Contains(e.OutputSummary, "timeout") {
			found = true
		}
	}
	assert.True(t, found, "expected a timeout event to be journaled")
}

func TestGovernor_WrapPassesThroughSuccess(t *testing.T) {
	g, _ := newTestGovernor(t, config.DefaultQuotaConfig(), config.DefaultGovernorConfig())

	err := g.Wrap(context.Background(), &models.RuntimeContext{WorkflowID: "wf-1"}, "llm_requests", 1, time.Second,
		func(ctx context.Context) error { return nil })
	require.NoError(t, err)
}

func TestGovernor_AdmitSandboxDeniesOverMemoryCap(t *testing.T) {
	cfg := config.DefaultGovernorConfig()
	cfg.SandboxMemoryMB = 128
	g, _ := newTestGovernor(t, config.DefaultQuotaConfig(), cfg)

	require.NoError(t, g.AdmitSandbox(64))
	err := g.AdmitSandbox(256)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindSandboxViolation, apierrors.KindOf(err))
}
