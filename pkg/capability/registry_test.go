package capability

import (
	"context"
	"testing"
	"time"

	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestRegistry(t *testing.T) *Registry {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host: host, Port: port.Int(), User: "test", Password: "test", Database: "test",
		SSLMode: "disable", MaxOpenConns: 10, MaxIdleConns: 5,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return New(client)
}

func TestRegistry_RegisterGetList(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Register(ctx, &models.CapabilityRecord{
		Kind: models.CapabilityTool, Name: "kubernetes-server.get_pods",
		Capabilities: []string{"cluster-read"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, models.CapabilityActive, rec.Status)
	assert.Equal(t, models.HealthUnknown, rec.Health)

	got, err := r.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)

	list, err := r.List(ctx, models.CapabilityFilter{Kind: models.CapabilityTool})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = r.List(ctx, models.CapabilityFilter{Tag: "cluster-read"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = r.List(ctx, models.CapabilityFilter{Tag: "no-such-tag"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRegistry_Deactivate(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Register(ctx, &models.CapabilityRecord{Kind: models.CapabilityAgent, Name: "triage-agent"})
	require.NoError(t, err)

	require.NoError(t, r.Deactivate(ctx, rec.ID))

	got, err := r.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CapabilityDeprecated, got.Status)

	err = r.Deactivate(ctx, "does-not-exist")
	assert.Error(t, err)
}

func TestRegistry_CanUse(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	open, err := r.Register(ctx, &models.CapabilityRecord{Kind: models.CapabilityTool, Name: "open-tool"})
	require.NoError(t, err)
	ok, err := r.CanUse(ctx, "any-agent", open.ID)
	require.NoError(t, err)
	assert.True(t, ok, "no allow/forbid list means every agent can use it")

	forbidden, err := r.Register(ctx, &models.CapabilityRecord{
		Kind: models.CapabilityTool, Name: "guarded-tool", ForbiddenAgents: []string{"bad-agent"},
	})
	require.NoError(t, err)
	ok, err = r.CanUse(ctx, "bad-agent", forbidden.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.CanUse(ctx, "good-agent", forbidden.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	allowlisted, err := r.Register(ctx, &models.CapabilityRecord{
		Kind: models.CapabilityTool, Name: "exclusive-tool", AllowedAgents: []string{"vip-agent"},
	})
	require.NoError(t, err)
	ok, err = r.CanUse(ctx, "vip-agent", allowlisted.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.CanUse(ctx, "other-agent", allowlisted.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Deactivate(ctx, open.ID))
	ok, err = r.CanUse(ctx, "any-agent", open.ID)
	require.NoError(t, err)
	assert.False(t, ok, "deactivated tools are never usable")
}

func TestRegistry_RecordExecution_TripsBreakerAndDowngradesHealth(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Register(ctx, &models.CapabilityRecord{Kind: models.CapabilityModel, Name: "flaky-model"})
	require.NoError(t, err)
	require.NoError(t, r.SetHealth(ctx, rec.ID, models.HealthHealthy))

	require.NoError(t, r.RecordExecution(ctx, rec.ID, true, 50))
	got, err := r.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Metrics.TotalExecutions)
	assert.Equal(t, models.HealthHealthy, got.Health)

	for i := 0; i < consecutiveFailureTrip; i++ {
		require.NoError(t, r.RecordExecution(ctx, rec.ID, false, 50))
	}

	got, err = r.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, consecutiveFailureTrip, got.Metrics.ConsecutiveFailures)
	assert.Equal(t, models.HealthUnhealthy, got.Health, "consecutive failures must downgrade health")
}

func TestSplitToolName(t *testing.T) {
	provider, tool, err := SplitToolName("kubernetes-server.get_pods")
	require.NoError(t, err)
	assert.Equal(t, "kubernetes-server", provider)
	assert.Equal(t, "get_pods", tool)

	_, _, err = SplitToolName("not-a-valid-name")
	assert.Error(t, err)
}
