package client

import (
	"strings"
	"time"

	"chamber/internal/messages"
	"chamber/internal/types"
)

type timeWire struct {
	Created   float64 `json:"created"`
	Updated   float64 `json:"updated"`
	Completed float64 `json:"completed"`
}

func unixMilli(value float64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	// Values below this are unix seconds from older server builds.
	if value < 1e12 {
		return time.Unix(int64(value), 0).UTC()
	}
	return time.UnixMilli(int64(value)).UTC()
}

type sessionWire struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Directory string   `json:"directory"`
	Time      timeWire `json:"time"`
}

func (w sessionWire) toSession() types.Session {
	return types.Session{
		ID:        strings.TrimSpace(w.ID),
		Title:     strings.TrimSpace(w.Title),
		Directory: strings.TrimSpace(w.Directory),
		CreatedAt: unixMilli(w.Time.Created),
		UpdatedAt: unixMilli(w.Time.Updated),
	}
}

type messageInfoWire struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"sessionID"`
	Role       string   `json:"role"`
	Status     string   `json:"status"`
	ProviderID string   `json:"providerID"`
	ModelID    string   `json:"modelID"`
	Time       timeWire `json:"time"`
}

// messageWire is one history entry: metadata under info, raw parts alongside.
type messageWire struct {
	Info  messageInfoWire  `json:"info"`
	Parts []map[string]any `json:"parts"`
}

func (w messageWire) toMessage(sessionID string) types.Message {
	msg := types.Message{
		ID:          strings.TrimSpace(w.Info.ID),
		SessionID:   sessionID,
		Role:        types.MessageRole(strings.TrimSpace(w.Info.Role)),
		Status:      strings.TrimSpace(w.Info.Status),
		ProviderID:  strings.TrimSpace(w.Info.ProviderID),
		ModelID:     strings.TrimSpace(w.Info.ModelID),
		CreatedAt:   unixMilli(w.Info.Time.Created),
		CompletedAt: unixMilli(w.Info.Time.Completed),
	}
	if msg.Role == "" {
		msg.Role = types.MessageRoleAssistant
	}
	for _, raw := range w.Parts {
		part := messages.NormalizePart(raw, nil)
		if part.MessageID == "" {
			part.MessageID = msg.ID
		}
		if part.SessionID == "" {
			part.SessionID = sessionID
		}
		msg.Parts = append(msg.Parts, part)
	}
	return msg
}

type commandWire struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}
