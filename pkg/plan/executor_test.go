package plan

import (
	"context"
	"testing"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/capability"
	"github.com/aard-ai/aard/pkg/checkpoint"
	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/journal"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/aard-ai/aard/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestDB(t *testing.T) *database.Client {
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

	return client
}

// fakeToolExecutor is a lightweight ToolExecutor stand-in: pkg/approval,
// pkg/reflection, and any real tool runtime are later tasks, so the step
// executor is exercised here against hand-rolled collaborators the same
// way its real ones will eventually plug in.
type fakeToolExecutor struct {
	calls  int
	result *models.StepResult
	err    error
}

func (f *fakeToolExecutor) ExecuteTool(ctx context.Context, rc *models.RuntimeContext, cap *models.CapabilityRecord, step *models.Step) (*models.StepResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func seedWorkflow(t *testing.T, db *database.Client, sessionID string) string {
	m := pipeline.New(db, journal.New(db))
	wf, err := m.Start(context.Background(), pipeline.StartRequest{SessionID: sessionID, OriginalRequest: "test request"})
	require.NoError(t, err)
	return wf.WorkflowID
}

func seedApprovedToolPlan(t *testing.T, db *database.Client, store *Store, toolID string) *models.Plan {
	workflowID := seedWorkflow(t, db, "sess-"+toolID)

	p := &models.Plan{
		WorkflowID: workflowID,
		TaskID:     "task-1",
		Goal:       "test goal",
		Strategy:   "direct",
		Status:     models.PlanApproved,
		Steps: []*models.Step{
			{Description: "step one", Type: models.StepAction, ToolID: &toolID, Status: models.StepPending},
		},
	}
	p, err := store.Create(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(context.Background(), p.PlanID, models.PlanApproved))
	p.Status = models.PlanApproved
	return p
}

func testRuntimeContext(workflowID string, j models.EventJournal) *models.RuntimeContext {
	return &models.RuntimeContext{WorkflowID: workflowID, SessionID: "sess-1", Journal: j, StageMetadata: map[string]any{}}
}

func TestExecutor_DispatchNext_ToolStepSucceeds(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	checkpoints := checkpoint.New(db)
	caps := capability.New(db)

	toolRec, err := caps.Register(context.Background(), &models.CapabilityRecord{Kind: models.CapabilityTool, Name: "http.get"})
	require.NoError(t, err)

	tools := &fakeToolExecutor{result: &models.StepResult{Status: models.StepSucceeded, Output: map[string]any{"ok": true}}}
	exec := NewExecutor(store, checkpoints, caps, nil, nil, nil, tools, nil,
		config.DefaultPlanConfig(), config.DefaultStepConfig(), config.DefaultReplanConfig())

	p := seedApprovedToolPlan(t, db, store, toolRec.ID)
	rc := testRuntimeContext(p.WorkflowID, journal.New(db))

	step, err := exec.DispatchNext(context.Background(), rc, p)
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, models.StepSucceeded, step.Status)
	assert.Equal(t, 1, tools.calls)
	assert.Equal(t, map[string]any{"ok": true}, rc.StageMetadata[step.StepID])

	history, err := checkpoints.History(context.Background(), "plan", p.PlanID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1, "one checkpoint taken before the single step")
}

func TestExecutor_DispatchNext_ToolFailureClassifiedAndReplans(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	checkpoints := checkpoint.New(db)
	caps := capability.New(db)

	toolRec, err := caps.Register(context.Background(), &models.CapabilityRecord{Kind: models.CapabilityTool, Name: "http.get"})
	require.NoError(t, err)

	tools := &fakeToolExecutor{err: apierrors.New(apierrors.KindModelTimeout, "upstream timeout")}
	exec := NewExecutor(store, checkpoints, caps, nil, nil, nil, tools, nil,
		config.DefaultPlanConfig(), config.DefaultStepConfig(), config.DefaultReplanConfig())

	p := seedApprovedToolPlan(t, db, store, toolRec.ID)
	rc := testRuntimeContext(p.WorkflowID, journal.New(db))

	step, err := exec.DispatchNext(context.Background(), rc, p)
	require.Error(t, err)
	require.NotNil(t, step)
	assert.Equal(t, models.StepFailed, step.Status)

	replanReq, handleErr := exec.HandleFailure(context.Background(), rc, p, step, err)
	require.NoError(t, handleErr)
	require.NotNil(t, replanReq, "ModelTimeout classifies as timeout/high, which replans when budget allows")
	assert.Equal(t, models.CategoryTimeout, replanReq.Classification.Category)
	assert.Equal(t, 1, replanReq.AttemptCount)
}

func TestExecutor_HandleFailure_SeverityThresholdSuppressesHighReplan(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	checkpoints := checkpoint.New(db)
	caps := capability.New(db)

	toolRec, err := caps.Register(context.Background(), &models.CapabilityRecord{Kind: models.CapabilityTool, Name: "http.get"})
	require.NoError(t, err)

	tools := &fakeToolExecutor{err: apierrors.New(apierrors.KindModelTimeout, "upstream timeout")}
	replanCfg := config.DefaultReplanConfig()
	replanCfg.OnSeverityThreshold = "critical"
	exec := NewExecutor(store, checkpoints, caps, nil, nil, nil, tools, nil,
		config.DefaultPlanConfig(), config.DefaultStepConfig(), replanCfg)

	p := seedApprovedToolPlan(t, db, store, toolRec.ID)
	rc := testRuntimeContext(p.WorkflowID, journal.New(db))

	step, err := exec.DispatchNext(context.Background(), rc, p)
	require.Error(t, err)
	require.NotNil(t, step)

	replanReq, handleErr := exec.HandleFailure(context.Background(), rc, p, step, err)
	assert.Nil(t, replanReq, "ModelTimeout classifies as high severity, which on_severity_threshold=critical no longer replans")
	require.Error(t, handleErr)
	assert.True(t, apierrors.Is(handleErr, apierrors.KindInternal))

	stored, err := store.Get(context.Background(), p.PlanID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanFailed, stored.Status)
}

func TestExecutor_HandleFailure_ExhaustsReplanBudget(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	checkpoints := checkpoint.New(db)
	caps := capability.New(db)

	toolRec, err := caps.Register(context.Background(), &models.CapabilityRecord{Kind: models.CapabilityTool, Name: "http.get"})
	require.NoError(t, err)

	tools := &fakeToolExecutor{err: apierrors.New(apierrors.KindModelTimeout, "upstream timeout")}
	replanCfg := config.DefaultReplanConfig()
	replanCfg.MaxAttempts = 1
	exec := NewExecutor(store, checkpoints, caps, nil, nil, nil, tools, nil,
		config.DefaultPlanConfig(), config.DefaultStepConfig(), replanCfg)

	p := seedApprovedToolPlan(t, db, store, toolRec.ID)
	p.AttemptCount = 1 // already used the only allotted replan attempt
	rc := testRuntimeContext(p.WorkflowID, journal.New(db))

	step, err := exec.DispatchNext(context.Background(), rc, p)
	require.Error(t, err)

	replanReq, handleErr := exec.HandleFailure(context.Background(), rc, p, step, err)
	assert.Nil(t, replanReq)
	require.Error(t, handleErr)
	assert.True(t, apierrors.Is(handleErr, apierrors.KindInternal))

	stored, err := store.Get(context.Background(), p.PlanID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanFailed, stored.Status)
}

func TestExecutor_DispatchNext_RejectsForbiddenTool(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	checkpoints := checkpoint.New(db)
	caps := capability.New(db)

	toolRec, err := caps.Register(context.Background(), &models.CapabilityRecord{
		Kind: models.CapabilityTool, Name: "restricted-tool",
		ForbiddenAgents: []string{directDispatchCaller},
	})
	require.NoError(t, err)

	tools := &fakeToolExecutor{result: &models.StepResult{Status: models.StepSucceeded}}
	exec := NewExecutor(store, checkpoints, caps, nil, nil, nil, tools, nil,
		config.DefaultPlanConfig(), config.DefaultStepConfig(), config.DefaultReplanConfig())

	p := seedApprovedToolPlan(t, db, store, toolRec.ID)
	rc := testRuntimeContext(p.WorkflowID, journal.New(db))

	step, err := exec.DispatchNext(context.Background(), rc, p)
	require.Error(t, err)
	require.NotNil(t, step)
	assert.Equal(t, models.StepFailed, step.Status)
	assert.True(t, apierrors.Is(err, apierrors.KindToolDenied))
	assert.Equal(t, 0, tools.calls, "the tool executor is never invoked for a denied capability")
}

func TestExecutor_DispatchNext_RejectsUnhealthyTool(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	checkpoints := checkpoint.New(db)
	caps := capability.New(db)

	toolRec, err := caps.Register(context.Background(), &models.CapabilityRecord{Kind: models.CapabilityTool, Name: "flaky-tool"})
	require.NoError(t, err)
	require.NoError(t, caps.SetHealth(context.Background(), toolRec.ID, models.HealthUnhealthy))

	tools := &fakeToolExecutor{result: &models.StepResult{Status: models.StepSucceeded}}
	exec := NewExecutor(store, checkpoints, caps, nil, nil, nil, tools, nil,
		config.DefaultPlanConfig(), config.DefaultStepConfig(), config.DefaultReplanConfig())

	p := seedApprovedToolPlan(t, db, store, toolRec.ID)
	rc := testRuntimeContext(p.WorkflowID, journal.New(db))

	step, err := exec.DispatchNext(context.Background(), rc, p)
	require.Error(t, err)
	require.NotNil(t, step)
	assert.True(t, apierrors.Is(err, apierrors.KindDependencyNotReady))
	assert.Equal(t, 0, tools.calls)
}

func TestExecutor_DispatchNext_RejectsDeactivatedTool(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	checkpoints := checkpoint.New(db)
	caps := capability.New(db)

	toolRec, err := caps.Register(context.Background(), &models.CapabilityRecord{Kind: models.CapabilityTool, Name: "retired-tool"})
	require.NoError(t, err)
	require.NoError(t, caps.Deactivate(context.Background(), toolRec.ID))

	tools := &fakeToolExecutor{result: &models.StepResult{Status: models.StepSucceeded}}
	exec := NewExecutor(store, checkpoints, caps, nil, nil, nil, tools, nil,
		config.DefaultPlanConfig(), config.DefaultStepConfig(), config.DefaultReplanConfig())

	p := seedApprovedToolPlan(t, db, store, toolRec.ID)
	rc := testRuntimeContext(p.WorkflowID, journal.New(db))

	step, err := exec.DispatchNext(context.Background(), rc, p)
	require.Error(t, err)
	require.NotNil(t, step)
	assert.True(t, apierrors.Is(err, apierrors.KindDependencyNotReady))
	assert.Equal(t, 0, tools.calls)
}

func TestExecutor_DispatchNext_RejectsNonApprovedPlan(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	checkpoints := checkpoint.New(db)
	caps := capability.New(db)
	exec := NewExecutor(store, checkpoints, caps, nil, nil, nil, nil, nil,
		config.DefaultPlanConfig(), config.DefaultStepConfig(), config.DefaultReplanConfig())

	workflowID := seedWorkflow(t, db, "sess-draft")
	p := &models.Plan{WorkflowID: workflowID, TaskID: "t", Goal: "g", Strategy: "s", Status: models.PlanDraft}
	p, err := store.Create(context.Background(), p)
	require.NoError(t, err)

	_, err = exec.DispatchNext(context.Background(), testRuntimeContext(workflowID, journal.New(db)), p)
	assert.ErrorIs(t, err, ErrPlanNotReady)
}

func TestExecutor_DispatchRound_RunsIndependentStepsAndMergesMetadata(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	checkpoints := checkpoint.New(db)
	caps := capability.New(db)

	toolRec, err := caps.Register(context.Background(), &models.CapabilityRecord{Kind: models.CapabilityTool, Name: "http.get"})
	require.NoError(t, err)

	tools := &fakeToolExecutor{result: &models.StepResult{Status: models.StepSucceeded, Output: map[string]any{"ok": true}}}
	cfg := config.DefaultPlanConfig()
	cfg.MaxParallelSteps = 2
	exec := NewExecutor(store, checkpoints, caps, nil, nil, nil, tools, nil,
		cfg, config.DefaultStepConfig(), config.DefaultReplanConfig())

	workflowID := seedWorkflow(t, db, "sess-parallel")
	p := &models.Plan{
		WorkflowID: workflowID,
		TaskID:     "task-2",
		Goal:       "test goal",
		Strategy:   "direct",
		Status:     models.PlanApproved,
		Steps: []*models.Step{
			{Description: "a", Type: models.StepAction, ToolID: &toolRec.ID, Status: models.StepPending},
			{Description: "b", Type: models.StepAction, ToolID: &toolRec.ID, Status: models.StepPending},
		},
	}
	p, err = store.Create(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(context.Background(), p.PlanID, models.PlanApproved))
	p.Status = models.PlanApproved

	rc := testRuntimeContext(p.WorkflowID, journal.New(db))
	require.NoError(t, exec.DispatchRound(context.Background(), rc, p))

	assert.Equal(t, 2, tools.calls)
	for _, s := range p.Steps {
		assert.Equal(t, models.StepSucceeded, s.Status)
		assert.Contains(t, rc.StageMetadata, s.StepID, "each step's output merged back into the shared context")
	}
}
