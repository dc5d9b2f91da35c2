package types

import "time"

// Permission is a pending approval request surfaced by the server. The UI must
// resolve it before the assistant can continue.
type Permission struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID,omitempty"`
	Kind      string         `json:"type,omitempty"`
	Title     string         `json:"title,omitempty"`
	Command   string         `json:"command,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	Raw       map[string]any `json:"-"`
}

type PermissionDecision string

const (
	PermissionOnce   PermissionDecision = "once"
	PermissionAlways PermissionDecision = "always"
	PermissionReject PermissionDecision = "reject"
)
