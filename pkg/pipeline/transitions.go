package pipeline

import "github.com/aard-ai/aard/pkg/models"

// allowedEdges is the explicit transition table for the workflow state
// machine (spec §4.1), keyed by source state with the set of states
// Advance may move to. Kept as a data table rather than a switch per
// transition, in the style of the teacher's enum/IsValid pairs in
// pkg/config/enums.go, so the full DAG is visible at a glance and a new
// edge is a one-line change.
var allowedEdges = map[models.WorkflowState]map[models.WorkflowState]bool{
	models.WorkflowInitialized: {
		models.WorkflowParsing: true,
	},
	models.WorkflowParsing: {
		models.WorkflowPlanning:  true,
		models.WorkflowExecuting: true, // routing decided direct-answer: planning is skipped
	},
	models.WorkflowPlanning: {
		models.WorkflowApprovalPending: true,
		models.WorkflowApproved:        true,
	},
	models.WorkflowApprovalPending: {
		models.WorkflowApproved:  true,
		models.WorkflowFailed:    true,
		models.WorkflowCancelled: true,
	},
	models.WorkflowApproved: {
		models.WorkflowExecuting: true,
	},
	models.WorkflowExecuting: {
		models.WorkflowCompleted: true,
		models.WorkflowFailed:    true,
		models.WorkflowPaused:    true,
		models.WorkflowRetrying:  true,
	},
	models.WorkflowPaused: {
		models.WorkflowExecuting: true,
		models.WorkflowCancelled: true,
	},
	models.WorkflowRetrying: {
		models.WorkflowPlanning: true,
	},
}

// canTransition reports whether from->to is one of the edges spec §4.1
// enumerates.
func canTransition(from, to models.WorkflowState) bool {
	return allowedEdges[from][to]
}

// nextStageFor maps a workflow state to the canonical stage it belongs
// to, so Advance can stamp ExecutionEvent.Stage with the target's
// canonical stage as spec §4.1 requires ("each transition appends an
// ExecutionEvent with stage = target canonical stage").
func nextStageFor(state models.WorkflowState, current models.Stage) models.Stage {
	switch state {
	case models.WorkflowParsing:
		return models.StageInterpretation
	case models.WorkflowPlanning:
		return models.StagePlanning
	case models.WorkflowApprovalPending, models.WorkflowApproved:
		return models.StagePlanning
	case models.WorkflowExecuting:
		return models.StageExecution
	case models.WorkflowRetrying:
		return models.StagePlanning
	default:
		return current
	}
}
