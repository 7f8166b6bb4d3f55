package reflection

import (
	"context"
	"testing"
	"time"

	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/journal"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/aard-ai/aard/pkg/pipeline"
	"github.com/aard-ai/aard/pkg/promptregistry"
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

type testFixture struct {
	db      *database.Client
	biases  *BiasStore
	journal *journal.Journal
	prompts *promptregistry.Registry
	machine *pipeline.Machine
	sink    *Sink
}

func newFixture(t *testing.T, cfg *config.ReflectionConfig) *testFixture {
	db := newTestDB(t)
	j := journal.New(db)
	biases := NewBiasStore(db)
	prompts := promptregistry.New(db)
	machine := pipeline.New(db, j)
	sink := New(biases, j, prompts, nil, cfg)
	return &testFixture{db: db, biases: biases, journal: j, prompts: prompts, machine: machine, sink: sink}
}

func seedWorkflow(t *testing.T, f *testFixture) *models.Workflow {
	wf, err := f.machine.Start(context.Background(), pipeline.StartRequest{SessionID: "sess-1", OriginalRequest: "summarize the quarterly report"})
	require.NoError(t, err)
	return wf
}

// advance walks wf through a sequence of valid state-machine edges,
// returning the workflow at the final state.
func advance(t *testing.T, f *testFixture, wf *models.Workflow, states ...models.WorkflowState) *models.Workflow {
	for _, s := range states {
		var err error
		wf, err = f.machine.Advance(context.Background(), wf.WorkflowID, pipeline.AdvanceRequest{To: s, Source: models.DecisionSourceAuto})
		require.NoError(t, err)
	}
	return wf
}

func seedCompletedWorkflow(t *testing.T, f *testFixture) *models.Workflow {
	wf := seedWorkflow(t, f)
	return advance(t, f, wf, models.WorkflowPlanning, models.WorkflowApproved, models.WorkflowExecuting, models.WorkflowCompleted)
}

func seedFailedFromExecuting(t *testing.T, f *testFixture, reasonCode string) *models.Workflow {
	wf := seedWorkflow(t, f)
	wf = advance(t, f, wf, models.WorkflowPlanning, models.WorkflowApproved, models.WorkflowExecuting)
	wf, err := f.machine.Advance(context.Background(), wf.WorkflowID, pipeline.AdvanceRequest{To: models.WorkflowFailed, ReasonCode: reasonCode, Source: models.DecisionSourceRule})
	require.NoError(t, err)
	return wf
}

func seedHumanRejectedWorkflow(t *testing.T, f *testFixture) *models.Workflow {
	wf := seedWorkflow(t, f)
	wf = advance(t, f, wf, models.WorkflowPlanning, models.WorkflowApprovalPending)
	wf, err := f.machine.Advance(context.Background(), wf.WorkflowID, pipeline.AdvanceRequest{To: models.WorkflowFailed, ReasonCode: "human_rejected", Source: models.DecisionSourceHuman})
	require.NoError(t, err)
	return wf
}

func testRC(wf *models.Workflow, j models.EventJournal) *models.RuntimeContext {
	return &models.RuntimeContext{WorkflowID: wf.WorkflowID, SessionID: wf.SessionID, Journal: j, StageMetadata: map[string]any{}}
}

func TestSink_Reflect_CompletedCleanTrailIsSuccess(t *testing.T) {
	cfg := config.DefaultReflectionConfig()
	cfg.UseModel = false
	f := newFixture(t, cfg)

	wf := seedCompletedWorkflow(t, f)

	result, err := f.sink.Reflect(context.Background(), testRC(wf, f.journal), wf, "final artifact text", "")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Empty(t, result.Biases)
}

func TestSink_Reflect_CompletedWithHumanFeedbackIsSemanticMismatch(t *testing.T) {
	cfg := config.DefaultReflectionConfig()
	cfg.UseModel = false
	f := newFixture(t, cfg)

	wf := seedCompletedWorkflow(t, f)

	result, err := f.sink.Reflect(context.Background(), testRC(wf, f.journal), wf, "final artifact", "this isn't what I asked for")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSemanticMismatch, result.Outcome)
	require.Len(t, result.Biases, 1)
	assert.Equal(t, models.BiasSourceReflection, result.Biases[0].Source)

	active, err := f.biases.Active(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSink_Reflect_HumanRejectedIsGoalDrift(t *testing.T) {
	cfg := config.DefaultReflectionConfig()
	cfg.UseModel = false
	f := newFixture(t, cfg)

	wf := seedHumanRejectedWorkflow(t, f)

	result, err := f.sink.Reflect(context.Background(), testRC(wf, f.journal), wf, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeGoalDrift, result.Outcome)
	require.Len(t, result.Biases, 1)
}

func TestSink_Reflect_GenericFailureIsExecutionFailure(t *testing.T) {
	cfg := config.DefaultReflectionConfig()
	cfg.UseModel = false
	f := newFixture(t, cfg)

	wf := seedFailedFromExecuting(t, f, "tool_unavailable")

	result, err := f.sink.Reflect(context.Background(), testRC(wf, f.journal), wf, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExecutionFailure, result.Outcome)
	assert.Empty(t, result.Biases)
}

func TestSink_Reflect_UpdatesPromptMetricsForPromptsInTrail(t *testing.T) {
	cfg := config.DefaultReflectionConfig()
	cfg.UseModel = false
	f := newFixture(t, cfg)

	wf := seedWorkflow(t, f)

	prompt, err := f.prompts.CreatePrompt(context.Background(), models.CreatePromptRequest{
		Name: "execution-default", Stage: models.StageExecution, ComponentRole: "execution_validator", Body: "do the thing",
	})
	require.NoError(t, err)
	require.NoError(t, f.prompts.Activate(context.Background(), prompt.PromptID))

	require.NoError(t, f.journal.Append(context.Background(), &models.ExecutionEvent{
		WorkflowID: wf.WorkflowID, SessionID: wf.SessionID, Stage: models.StageExecution,
		ComponentRole: "execution_validator", ComponentName: "modelgateway",
		DecisionSource: models.DecisionSourceRule, Status: models.EventStatusOK,
		InputSummary: "model.request", OutputSummary: "model.response", PromptID: &prompt.PromptID,
	}))

	wf = advance(t, f, wf, models.WorkflowPlanning, models.WorkflowApproved, models.WorkflowExecuting, models.WorkflowCompleted)

	_, err = f.sink.Reflect(context.Background(), testRC(wf, f.journal), wf, "done", "")
	require.NoError(t, err)
}

func TestSink_OnStepFailure_ValidationCategoryProposesBias(t *testing.T) {
	cfg := config.DefaultReflectionConfig()
	f := newFixture(t, cfg)

	wf := seedWorkflow(t, f)
	p := &models.Plan{WorkflowID: wf.WorkflowID, Goal: "send a weekly digest email", Steps: []*models.Step{{StepID: "s1"}}}

	err := f.sink.OnStepFailure(context.Background(), testRC(wf, f.journal), p, p.Steps[0],
		models.Classification{Category: models.CategoryValidation, Severity: models.SeverityHigh})
	require.NoError(t, err)

	active, err := f.biases.Active(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, wf.WorkflowID, active[0].WorkflowID)
}

func TestSink_OnStepFailure_NonValidationCategorySkipsBias(t *testing.T) {
	cfg := config.DefaultReflectionConfig()
	f := newFixture(t, cfg)

	wf := seedWorkflow(t, f)
	p := &models.Plan{WorkflowID: wf.WorkflowID, Goal: "run a build", Steps: []*models.Step{{StepID: "s1"}}}

	err := f.sink.OnStepFailure(context.Background(), testRC(wf, f.journal), p, p.Steps[0],
		models.Classification{Category: models.CategoryTimeout, Severity: models.SeverityHigh})
	require.NoError(t, err)

	active, err := f.biases.Active(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestBiasStore_DecayOlderThan(t *testing.T) {
	f := newFixture(t, config.DefaultReflectionConfig())
	wf := seedWorkflow(t, f)

	_, err := f.biases.Propose(context.Background(), &models.InterpretationBias{
		WorkflowID: wf.WorkflowID, Condition: "x", PreferredInterpretation: "y",
		Confidence: 0.5, Source: models.BiasSourceReflection,
	})
	require.NoError(t, err)

	n, err := f.biases.DecayOlderThan(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := f.biases.Active(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}
