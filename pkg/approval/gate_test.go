package approval

import (
	"context"
	"testing"
	"time"

	"github.com/aard-ai/aard/pkg/capability"
	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/journal"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/aard-ai/aard/pkg/pipeline"
	"github.com/aard-ai/aard/pkg/plan"
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
	store   *Store
	caps    *capability.Registry
	machine *pipeline.Machine
	plans   *plan.Store
	gate    *Gate
}

func newFixture(t *testing.T, cfg *config.ApprovalConfig) *testFixture {
	db := newTestDB(t)
	j := journal.New(db)
	store := NewStore(db)
	caps := capability.New(db)
	machine := pipeline.New(db, j)
	plans := plan.NewStore(db)
	gate := New(store, caps, machine, j, cfg)
	return &testFixture{db: db, store: store, caps: caps, machine: machine, plans: plans, gate: gate}
}

func seedPlanWithSteps(t *testing.T, f *testFixture, autonomy int, steps []*models.Step) *models.Plan {
	wf, err := f.machine.Start(context.Background(), pipeline.StartRequest{
		SessionID: "sess-1", OriginalRequest: "x", AutonomyLevel: autonomy,
	})
	require.NoError(t, err)
	_, err = f.machine.Advance(context.Background(), wf.WorkflowID, pipeline.AdvanceRequest{
		To: models.WorkflowPlanning, Source: models.DecisionSourceAuto,
	})
	require.NoError(t, err)

	p := &models.Plan{
		WorkflowID:    wf.WorkflowID,
		TaskID:        "task-1",
		Goal:          "test",
		Strategy:      "direct",
		AutonomyLevel: autonomy,
		Status:        models.PlanDraft,
		Steps:         steps,
	}
	p, err = f.plans.Create(context.Background(), p)
	require.NoError(t, err)
	return p
}

func testRC(p *models.Plan, j models.EventJournal) *models.RuntimeContext {
	return &models.RuntimeContext{WorkflowID: p.WorkflowID, SessionID: "sess-1", Journal: j, StageMetadata: map[string]any{}}
}

func TestGate_EvaluateStep_AutoApprovesLowRiskAtHighAutonomy(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	f := newFixture(t, cfg)

	p := seedPlanWithSteps(t, f, 4, []*models.Step{
		{StepID: "s1", Description: "simple step", Type: models.StepAction},
	})

	req, err := f.gate.EvaluateStep(context.Background(), testRC(p, journal.New(f.db)), p, p.Steps[0])
	require.NoError(t, err)
	assert.Nil(t, req, "one low-risk step at autonomy 4 auto-approves")
}

func TestGate_EvaluateStep_AlwaysRequiresApprovalAtAutonomyZero(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	f := newFixture(t, cfg)

	p := seedPlanWithSteps(t, f, 0, []*models.Step{
		{StepID: "s1", Description: "simple step", Type: models.StepAction},
	})

	req, err := f.gate.EvaluateStep(context.Background(), testRC(p, journal.New(f.db)), p, p.Steps[0])
	require.NoError(t, err)
	require.NotNil(t, req, "autonomy 0 always requires human approval")
	assert.Equal(t, models.ApprovalPending, req.Status)
}

func TestGate_EvaluateStep_ReusesPlanScopedDecision(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	f := newFixture(t, cfg)

	p := seedPlanWithSteps(t, f, 0, []*models.Step{
		{StepID: "s1", Description: "a"},
		{StepID: "s2", Description: "b"},
	})

	first, err := f.gate.EvaluateStep(context.Background(), testRC(p, journal.New(f.db)), p, p.Steps[0])
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.gate.EvaluateStep(context.Background(), testRC(p, journal.New(f.db)), p, p.Steps[1])
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.RequestID, second.RequestID, "second step reuses the plan-scoped request")
}

func TestGate_EvaluatePlan_AutoApprovesAndAdvancesWorkflow(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	f := newFixture(t, cfg)

	p := seedPlanWithSteps(t, f, 4, []*models.Step{{StepID: "s1", Description: "a"}})

	req, err := f.gate.EvaluatePlan(context.Background(), testRC(p, journal.New(f.db)), p)
	require.NoError(t, err)
	assert.Nil(t, req)

	wf, err := f.machine.Get(context.Background(), p.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowApproved, wf.CurrentState)
}

func TestGate_EvaluatePlan_PendingAdvancesToApprovalPending(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	f := newFixture(t, cfg)

	p := seedPlanWithSteps(t, f, 0, []*models.Step{{StepID: "s1", Description: "a"}})

	req, err := f.gate.EvaluatePlan(context.Background(), testRC(p, journal.New(f.db)), p)
	require.NoError(t, err)
	require.NotNil(t, req)

	wf, err := f.machine.Get(context.Background(), p.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowApprovalPending, wf.CurrentState)
}

func TestGate_Decide_ApprovedAdvancesWorkflow(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	f := newFixture(t, cfg)

	p := seedPlanWithSteps(t, f, 0, []*models.Step{{StepID: "s1", Description: "a"}})
	req, err := f.gate.EvaluatePlan(context.Background(), testRC(p, journal.New(f.db)), p)
	require.NoError(t, err)

	decided, err := f.gate.Decide(context.Background(), req.RequestID, models.DecideApprovalRequest{Decision: "approved", Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, decided.Status)

	wf, err := f.machine.Get(context.Background(), p.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowApproved, wf.CurrentState)
}

func TestGate_Decide_RejectedFailsWorkflow(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	f := newFixture(t, cfg)

	p := seedPlanWithSteps(t, f, 0, []*models.Step{{StepID: "s1", Description: "a"}})
	req, err := f.gate.EvaluatePlan(context.Background(), testRC(p, journal.New(f.db)), p)
	require.NoError(t, err)

	decided, err := f.gate.Decide(context.Background(), req.RequestID, models.DecideApprovalRequest{Decision: "rejected", Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, decided.Status)

	wf, err := f.machine.Get(context.Background(), p.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowFailed, wf.CurrentState)
	require.NotNil(t, wf.ReasonCode)
	assert.Equal(t, "human_rejected", *wf.ReasonCode)
}

func TestGate_ExpireTimeouts_DefaultPolicyFailsWorkflow(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	cfg.DecisionTimeoutS = 1
	f := newFixture(t, cfg)

	p := seedPlanWithSteps(t, f, 0, []*models.Step{{StepID: "s1", Description: "a"}})
	_, err := f.gate.EvaluatePlan(context.Background(), testRC(p, journal.New(f.db)), p)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	n, err := f.gate.ExpireTimeouts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	wf, err := f.machine.Get(context.Background(), p.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowFailed, wf.CurrentState)
}

func TestGate_RiskyToolPushesLowerAutonomyIntoApproval(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	f := newFixture(t, cfg)

	tool, err := f.caps.Register(context.Background(), &models.CapabilityRecord{
		Kind: models.CapabilityTool, Name: "send_email", Capabilities: []string{externalActionTag},
	})
	require.NoError(t, err)

	p := seedPlanWithSteps(t, f, 1, []*models.Step{
		{StepID: "s1", Description: "send the email", ToolID: &tool.ID},
	})

	req, err := f.gate.EvaluateStep(context.Background(), testRC(p, journal.New(f.db)), p, p.Steps[0])
	require.NoError(t, err)
	require.NotNil(t, req, "external-action tool pushes risk above the autonomy-1 threshold")
	assert.Contains(t, req.RiskAssessment.ExternalActions, "send_email")
}
