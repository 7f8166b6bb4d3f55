package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aard-ai/aard/pkg/models"
)

func TestParsePlan_RejectsInvalidJSON(t *testing.T) {
	wf := &models.Workflow{WorkflowID: "wf-1"}
	_, err := parsePlan("not json", wf)
	require.Error(t, err)
}

func TestParsePlan_RejectsZeroSteps(t *testing.T) {
	wf := &models.Workflow{WorkflowID: "wf-1"}
	_, err := parsePlan(`{"goal":"g","strategy":"s","steps":[]}`, wf)
	require.Error(t, err)
}

func TestParsePlan_DefaultsStepType(t *testing.T) {
	wf := &models.Workflow{WorkflowID: "wf-1", AutonomyLevel: 2}
	p, err := parsePlan(`{"goal":"g","strategy":"s","steps":[{"description":"do it"}]}`, wf)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", p.WorkflowID)
	assert.Equal(t, 2, p.AutonomyLevel)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, models.StepAction, p.Steps[0].Type)
	assert.Equal(t, models.StepPending, p.Steps[0].Status)
}

func TestFirstFailedStep(t *testing.T) {
	p := &models.Plan{Steps: []*models.Step{
		{StepID: "a", Status: models.StepSucceeded},
		{StepID: "b", Status: models.StepFailed},
		{StepID: "c", Status: models.StepPending},
	}}
	step := firstFailedStep(p)
	require.NotNil(t, step)
	assert.Equal(t, "b", step.StepID)

	p2 := &models.Plan{Steps: []*models.Step{{StepID: "a", Status: models.StepSucceeded}}}
	assert.Nil(t, firstFailedStep(p2))
}

func TestAllStepsTerminal(t *testing.T) {
	terminal := &models.Plan{Steps: []*models.Step{
		{Status: models.StepSucceeded},
		{Status: models.StepFailed},
		{Status: models.StepSkipped},
	}}
	assert.True(t, allStepsTerminal(terminal))

	pending := &models.Plan{Steps: []*models.Step{
		{Status: models.StepSucceeded},
		{Status: models.StepPending},
	}}
	assert.False(t, allStepsTerminal(pending))
}

func TestRef(t *testing.T) {
	assert.Equal(t, "", ref(nil))
	s := "x"
	assert.Equal(t, "x", ref(&s))
}
