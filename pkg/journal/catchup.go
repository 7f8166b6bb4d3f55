package journal

import (
	"context"
	"encoding/json"

	"github.com/aard-ai/aard/pkg/apierrors"
)

// GetCatchupEvents implements CatchupQuerier against the
// execution_events table, scoping "channel" back to the workflow or
// global feed it names.
func (j *Journal) GetCatchupEvents(ctx context.Context, channel string, sinceSequence int64, limit int) ([]CatchupEvent, error) {
	q := `SELECT event_id, sequence, workflow_id, session_id, stage, component_role, component_name,
		decision_source, prompt_id, prompt_version, status, parent_event_id,
		input_summary, output_summary, reason_code, metadata, created_at
		FROM execution_events WHERE sequence > $1`
	args := []any{sinceSequence}

	if channel != GlobalChannel {
		q += ` AND workflow_id = $2 ORDER BY sequence ASC LIMIT $3`
		workflowID, ok := workflowIDFromChannel(channel)
		if !ok {
			return nil, apierrors.New(apierrors.KindInvalidRequest, "unrecognized journal channel: "+channel)
		}
		args = append(args, workflowID, limit)
	} else {
		q += ` ORDER BY sequence ASC LIMIT $2`
		args = append(args, limit)
	}

	events, err := j.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}

	out := make([]CatchupEvent, 0, len(events))
	for _, evt := range events {
		raw, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		out = append(out, CatchupEvent{Sequence: evt.Sequence, Payload: payload})
	}
	return out, nil
}
