package models

import "context"

// EventJournal is the narrow interface C6 and every component it
// invokes during a workflow borrow to append observability records.
// The concrete implementation lives in pkg/journal; it is declared here,
// consumer-side, to avoid a cyclic import between pkg/models and the
// packages that hand out a RuntimeContext.
type EventJournal interface {
	Append(ctx context.Context, event *ExecutionEvent) error
}

// PromptResolver is the narrow view of the Prompt Registry a RuntimeContext
// carries; the concrete implementation lives in pkg/promptregistry.
type PromptResolver interface {
	GetActive(ctx context.Context, key ResolutionKey) (*Prompt, error)
}

// ResourceGovernor is the narrow view of the Resource & Quota Governor a
// RuntimeContext carries; the concrete implementation lives in
// pkg/governor.
type ResourceGovernor interface {
	Admit(ctx context.Context, resource string, cost float64) error
	Release(ctx context.Context, resource string, cost float64)
}

// RuntimeContext is carried by reference through the pipeline: the
// workflow id, handles to the process-wide singletons, and per-stage
// metadata. It is owned by C6 and borrowed by any component invoked
// during that workflow's lifetime — no service holds a strong reference
// to another beyond the call in progress.
type RuntimeContext struct {
	WorkflowID string
	SessionID  string

	Journal  EventJournal
	Prompts  PromptResolver
	Governor ResourceGovernor

	StageMetadata map[string]any
}

// WithStageMetadata returns a shallow copy of rc with Stage replaced,
// so concurrent step dispatch can derive independent contexts from a
// shared accumulated-output base (spec §4.2 copy-on-write derivation).
func (rc *RuntimeContext) WithStageMetadata(md map[string]any) *RuntimeContext {
	clone := *rc
	clone.StageMetadata = md
	return &clone
}
