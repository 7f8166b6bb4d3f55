package journal

// workflowChannelPrefix namespaces every per-workflow NOTIFY channel;
// the LISTEN/UNLISTEN SQL quotes the full channel name (see listener.go's
// pgx.Identifier.Sanitize use), so the workflow id is carried verbatim
// rather than mangled, keeping WorkflowChannel reversible for catchup.
const workflowChannelPrefix = "journal_workflow_"

// WorkflowChannel returns the Postgres NOTIFY channel a single
// workflow's events are published on.
func WorkflowChannel(workflowID string) string {
	return workflowChannelPrefix + workflowID
}

// GlobalChannel is the NOTIFY channel every event is also published on,
// used by the operator-facing "recent activity" live feed.
const GlobalChannel = "journal_global"

// workflowIDFromChannel recovers the workflow id WorkflowChannel was
// built from; catchup is the only caller that needs the inverse.
func workflowIDFromChannel(channel string) (string, bool) {
	if len(channel) <= len(workflowChannelPrefix) || channel[:len(workflowChannelPrefix)] != workflowChannelPrefix {
		return "", false
	}
	return channel[len(workflowChannelPrefix):], true
}
