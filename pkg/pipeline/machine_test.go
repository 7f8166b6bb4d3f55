package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/journal"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestMachine(t *testing.T) *Machine {
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

	return New(client, journal.New(client))
}

func TestMachine_StartEntersParsing(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	wf, err := m.Start(ctx, StartRequest{SessionID: "sess-1", OriginalRequest: "do a thing"})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowParsing, wf.CurrentState)
	assert.Equal(t, models.StageInterpretation, wf.CurrentStage)

	history, err := m.History(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "INITIALIZED then PARSING transitions recorded")
}

func TestMachine_AdvanceRejectsDisallowedEdge(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	wf, err := m.Start(ctx, StartRequest{SessionID: "sess-2", OriginalRequest: "x"})
	require.NoError(t, err)

	_, err = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowCompleted, Source: models.DecisionSourceAuto})
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.KindInvalidTransition))

	unchanged, err := m.Get(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowParsing, unchanged.CurrentState, "rejected edge leaves state unchanged")
}

func TestMachine_FullSuccessPath(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	wf, err := m.Start(ctx, StartRequest{SessionID: "sess-3", OriginalRequest: "x"})
	require.NoError(t, err)

	wf, err = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowPlanning, Source: models.DecisionSourceAuto})
	require.NoError(t, err)
	wf, err = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowApproved, Source: models.DecisionSourceAuto})
	require.NoError(t, err)
	wf, err = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowExecuting, Source: models.DecisionSourceAuto})
	require.NoError(t, err)
	wf, err = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowCompleted, Source: models.DecisionSourceAuto})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowCompleted, wf.CurrentState)
	assert.NotNil(t, wf.TerminatedAt)

	_, err = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowExecuting, Source: models.DecisionSourceAuto})
	assert.True(t, apierrors.Is(err, apierrors.KindInvalidTransition), "terminal workflow rejects further transitions")
}

func TestMachine_PauseResume(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	wf, err := m.Start(ctx, StartRequest{SessionID: "sess-4", OriginalRequest: "x"})
	require.NoError(t, err)
	wf, _ = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowPlanning, Source: models.DecisionSourceAuto})
	wf, _ = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowApproved, Source: models.DecisionSourceAuto})
	wf, _ = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowExecuting, Source: models.DecisionSourceAuto})

	wf, err = m.Pause(ctx, wf.WorkflowID, "operator_requested")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowPaused, wf.CurrentState)

	wf, err = m.Resume(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecuting, wf.CurrentState)
}

func TestMachine_ForceTransitionRequiresReasonCode(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	wf, err := m.Start(ctx, StartRequest{SessionID: "sess-5", OriginalRequest: "x"})
	require.NoError(t, err)

	_, err = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowPlanning, Forced: true})
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.KindInvalidRequest))

	wf, err = m.ForceTransition(ctx, wf.WorkflowID, models.WorkflowPlanning, "governor_timeout")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowPlanning, wf.CurrentState)
	require.NotNil(t, wf.ReasonCode)
	assert.Equal(t, "governor_timeout", *wf.ReasonCode)
}

func TestMachine_CancelFromApprovalPending(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	wf, err := m.Start(ctx, StartRequest{SessionID: "sess-6", OriginalRequest: "x"})
	require.NoError(t, err)
	wf, _ = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowPlanning, Source: models.DecisionSourceAuto})
	wf, _ = m.Advance(ctx, wf.WorkflowID, AdvanceRequest{To: models.WorkflowApprovalPending, Source: models.DecisionSourceAuto})

	wf, err = m.Cancel(ctx, wf.WorkflowID, "user_cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCancelled, wf.CurrentState)
}
