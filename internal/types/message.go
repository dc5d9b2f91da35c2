package types

import (
	"strings"
	"time"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeTool       PartType = "tool"
	PartTypeReasoning  PartType = "reasoning"
	PartTypeFile       PartType = "file"
	PartTypeStepStart  PartType = "step-start"
	PartTypeStepFinish PartType = "step-finish"
)

type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusError     ToolStatus = "error"
)

// Part is one incremental unit of assistant output. Parts are upserted by ID
// within their message; text parts accumulate text across deliveries.
type Part struct {
	ID         string     `json:"id"`
	MessageID  string     `json:"messageID"`
	SessionID  string     `json:"sessionID"`
	Type       PartType   `json:"type"`
	Text       string     `json:"text,omitempty"`
	ToolName   string     `json:"tool,omitempty"`
	ToolStatus ToolStatus `json:"toolStatus,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	StartedAt  time.Time  `json:"startedAt,omitempty"`
	EndedAt    time.Time  `json:"endedAt,omitempty"`
}

// Message belongs to exactly one session. Insertion order within a session is
// chronological by CreatedAt, tie-broken by ID.
type Message struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"sessionID"`
	Role        MessageRole `json:"role"`
	Status      string      `json:"status,omitempty"`
	ProviderID  string      `json:"providerID,omitempty"`
	ModelID     string      `json:"modelID,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt time.Time   `json:"completedAt,omitempty"`
	Streaming   bool        `json:"streaming,omitempty"`
	Aborted     bool        `json:"aborted,omitempty"`
	// ClientAuthored marks messages synthesized locally by SendMessage. Server
	// echoes must never flip the role of a client-authored message.
	ClientAuthored bool   `json:"clientAuthored,omitempty"`
	Parts          []Part `json:"parts,omitempty"`
}

func (m *Message) Part(partID string) *Part {
	if m == nil {
		return nil
	}
	for i := range m.Parts {
		if m.Parts[i].ID == partID {
			return &m.Parts[i]
		}
	}
	return nil
}

func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	texts := make([]string, 0, len(m.Parts))
	for _, part := range m.Parts {
		if part.Type != PartTypeText {
			continue
		}
		if strings.TrimSpace(part.Text) == "" {
			continue
		}
		texts = append(texts, part.Text)
	}
	return strings.Join(texts, "\n")
}

// StopReason reports whether reason is an authoritative end-of-turn signal.
func StopReason(reason string) bool {
	return strings.EqualFold(strings.TrimSpace(reason), "stop")
}

// AbortReason treats the historically-seen abort spellings as equivalent.
func AbortReason(reason string) bool {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "aborted", "abort", "cancelled":
		return true
	default:
		return false
	}
}

// FinishedTurn reports whether a step-finish part carries a terminal reason.
func FinishedTurn(part Part) bool {
	if part.Type != PartTypeStepFinish {
		return false
	}
	return StopReason(part.Reason) || AbortReason(part.Reason)
}

// Finished reports whether any part of the message carries a terminal
// step-finish reason.
func (m *Message) Finished() bool {
	if m == nil {
		return false
	}
	for _, part := range m.Parts {
		if FinishedTurn(part) {
			return true
		}
	}
	return false
}
