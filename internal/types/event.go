package types

// StreamEvent is one server-sent event from the assistant server. The schema
// has evolved across server builds, so Properties stays a raw map and field
// extraction is done defensively at the call site.
type StreamEvent struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	// ID is the SSE event id when the server sends one; resent as
	// Last-Event-ID on reconnect.
	ID string `json:"-"`
}

const (
	EventServerConnected   = "server.connected"
	EventMessagePartUpdate = "message.part.updated"
	EventMessageUpdated    = "message.updated"
	EventSessionUpdated    = "session.updated"
	EventSessionAbort      = "session.abort"
	EventSessionError      = "session.error"
	EventPermissionUpdated = "permission.updated"
	EventPermissionReplied = "permission.replied"
)
