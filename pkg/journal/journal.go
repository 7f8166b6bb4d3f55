// Package journal implements the append-only Execution Event Journal
// (spec §4.7): every component appends an ExecutionEvent as it acts, the
// journal assigns a per-workflow monotonic sequence, and readers can
// list by workflow/session, page the most recent events, or subscribe
// for live delivery.
package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/google/uuid"
)

// Journal is the concrete EventJournal implementation backing
// pkg/models.RuntimeContext. Every append is durable before it is ever
// broadcast: the INSERT and the pg_notify live in the same transaction,
// so a subscriber never sees a NOTIFY for a row that isn't already
// readable by a concurrent SELECT.
type Journal struct {
	db *database.Client
}

// New returns a Journal backed by db.
func New(db *database.Client) *Journal {
	return &Journal{db: db}
}

// Append assigns EventID/Sequence/Timestamp on evt if unset, persists
// it, and notifies subscribers of WorkflowChannel(evt.WorkflowID) in the
// same transaction. Satisfies models.EventJournal; since evt is a
// pointer, callers can read back the assigned sequence after Append
// returns.
func (j *Journal) Append(ctx context.Context, evt *models.ExecutionEvent) error {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}

	tx, err := j.db.Begin(ctx)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "begin journal append", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_events WHERE workflow_id = $1 FOR UPDATE`,
		evt.WorkflowID,
	).Scan(&seq); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "allocate journal sequence", err)
	}
	evt.Sequence = seq

	metadata, err := json.Marshal(evt.Metadata)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInvalidRequest, "marshal event metadata", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO execution_events
			(event_id, sequence, workflow_id, session_id, stage, component_role, component_name,
			 decision_source, prompt_id, prompt_version, status, parent_event_id,
			 input_summary, output_summary, reason_code, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16, now())
		RETURNING created_at`,
		evt.EventID, evt.Sequence, evt.WorkflowID, evt.SessionID, evt.Stage, evt.ComponentRole, evt.ComponentName,
		evt.DecisionSource, evt.PromptID, evt.PromptVersion, evt.Status, evt.ParentEventID,
		evt.InputSummary, evt.OutputSummary, evt.ReasonCode, metadata,
	).Scan(&evt.Timestamp)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "insert execution event", err)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "marshal notify payload", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", WorkflowChannel(evt.WorkflowID), string(payload)); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "notify journal subscribers", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", GlobalChannel, string(payload)); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "notify global journal feed", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "commit journal append", err)
	}

	return nil
}

// ByWorkflow returns events for one workflow, in sequence order,
// optionally starting after AfterID.
func (j *Journal) ByWorkflow(ctx context.Context, filter models.EventFilter) ([]*models.ExecutionEvent, error) {
	q := `SELECT event_id, sequence, workflow_id, session_id, stage, component_role, component_name,
		decision_source, prompt_id, prompt_version, status, parent_event_id,
		input_summary, output_summary, reason_code, metadata, created_at
		FROM execution_events WHERE workflow_id = $1`
	args := []any{filter.WorkflowID}
	if filter.AfterID != "" {
		q += ` AND sequence > (SELECT sequence FROM execution_events WHERE event_id = $2)`
		args = append(args, filter.AfterID)
	}
	q += ` ORDER BY sequence ASC`
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return j.query(ctx, q, args...)
}

// BySession returns events across every workflow in a session, ordered
// by creation time.
func (j *Journal) BySession(ctx context.Context, filter models.EventFilter) ([]*models.ExecutionEvent, error) {
	q := `SELECT event_id, sequence, workflow_id, session_id, stage, component_role, component_name,
		decision_source, prompt_id, prompt_version, status, parent_event_id,
		input_summary, output_summary, reason_code, metadata, created_at
		FROM execution_events WHERE session_id = $1 ORDER BY created_at ASC`
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return j.query(ctx, q, filter.SessionID)
}

// Recent returns the most recently appended events across all workflows,
// newest first — used for the operator-facing activity feed.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*models.ExecutionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT event_id, sequence, workflow_id, session_id, stage, component_role, component_name,
		decision_source, prompt_id, prompt_version, status, parent_event_id,
		input_summary, output_summary, reason_code, metadata, created_at
		FROM execution_events ORDER BY created_at DESC LIMIT $1`
	return j.query(ctx, q, limit)
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]*models.ExecutionEvent, error) {
	rows, err := j.db.Query(ctx, q, args...)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "query execution events", err)
	}
	defer rows.Close()

	var events []*models.ExecutionEvent
	for rows.Next() {
		evt := &models.ExecutionEvent{}
		var metadata []byte
		if err := rows.Scan(
			&evt.EventID, &evt.Sequence, &evt.WorkflowID, &evt.SessionID, &evt.Stage, &evt.ComponentRole, &evt.ComponentName,
			&evt.DecisionSource, &evt.PromptID, &evt.PromptVersion, &evt.Status, &evt.ParentEventID,
			&evt.InputSummary, &evt.OutputSummary, &evt.ReasonCode, &metadata, &evt.Timestamp,
		); err != nil {
			return nil, apierrors.Wrap(apierrors.KindInternal, "scan execution event", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &evt.Metadata)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

var _ models.EventJournal = (*Journal)(nil)
