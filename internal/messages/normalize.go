package messages

import (
	"strings"
	"time"

	"chamber/internal/types"
)

// ExtractPartText pulls displayable text out of a raw part payload. The
// server has shipped several shapes over time: a direct text field, a delta
// field with one incremental chunk, an array of strings or text sub-items,
// and a nested content slot. Unrecognized shapes yield "".
func ExtractPartText(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if text := asString(payload["text"]); text != "" {
		return text
	}
	if delta := asString(payload["delta"]); delta != "" {
		return delta
	}
	if items := asSlice(payload["text"]); len(items) > 0 {
		return joinTextItems(items)
	}
	switch content := payload["content"].(type) {
	case string:
		return content
	case []any:
		return joinTextItems(content)
	case map[string]any:
		return ExtractPartText(content)
	}
	return ""
}

func joinTextItems(items []any) string {
	texts := make([]string, 0, len(items))
	for _, item := range items {
		switch value := item.(type) {
		case string:
			if value != "" {
				texts = append(texts, value)
			}
		case map[string]any:
			if text := ExtractPartText(value); text != "" {
				texts = append(texts, text)
			}
		}
	}
	return strings.Join(texts, "")
}

// NormalizePart merges a raw incoming part payload with whatever has already
// accumulated for the same part id. For text the precedence is: an explicit
// text field wins outright, a delta appends to the accumulated text, and
// otherwise the existing text is preserved. That single ordering serves both
// snapshot-style and chunk-style delivery without the caller knowing which
// mode the server used.
func NormalizePart(payload map[string]any, existing *types.Part) types.Part {
	part := types.Part{
		ID:        firstString(payload, "id", "partID"),
		MessageID: firstString(payload, "messageID", "message_id"),
		SessionID: firstString(payload, "sessionID", "session_id"),
		Type:      types.PartType(strings.TrimSpace(asString(payload["type"]))),
	}
	if part.Type == "" {
		part.Type = types.PartTypeText
	}
	if existing != nil {
		if part.ID == "" {
			part.ID = existing.ID
		}
		if part.MessageID == "" {
			part.MessageID = existing.MessageID
		}
		if part.SessionID == "" {
			part.SessionID = existing.SessionID
		}
	}

	switch part.Type {
	case types.PartTypeText, types.PartTypeReasoning:
		part.Text = mergeText(payload, existing)
	case types.PartTypeTool:
		part.ToolName = firstString(payload, "tool", "name")
		if state := asMap(payload["state"]); state != nil {
			part.ToolStatus = types.ToolStatus(strings.ToLower(firstString(state, "status")))
			if part.Text == "" {
				part.Text = asString(state["output"])
			}
		}
		if existing != nil {
			if part.ToolName == "" {
				part.ToolName = existing.ToolName
			}
			if part.ToolStatus == "" {
				part.ToolStatus = existing.ToolStatus
			}
			if part.Text == "" {
				part.Text = existing.Text
			}
		}
	case types.PartTypeStepFinish, types.PartTypeStepStart:
		part.Reason = firstString(payload, "reason")
		if part.Reason == "" {
			if finish := asMap(payload["finish"]); finish != nil {
				part.Reason = firstString(finish, "reason")
			}
		}
		if existing != nil && part.Reason == "" {
			part.Reason = existing.Reason
		}
	}

	part.StartedAt, part.EndedAt = partTimes(payload)
	if existing != nil {
		if part.StartedAt.IsZero() {
			part.StartedAt = existing.StartedAt
		}
		if part.EndedAt.IsZero() {
			part.EndedAt = existing.EndedAt
		}
	}
	return part
}

func mergeText(payload map[string]any, existing *types.Part) string {
	// A fully-specified text field is an authoritative snapshot.
	if text := asString(payload["text"]); text != "" {
		return text
	}
	accumulated := ""
	if existing != nil {
		accumulated = existing.Text
	}
	if extracted := ExtractPartText(payload); extracted != "" {
		if asString(payload["delta"]) != "" {
			return accumulated + extracted
		}
		if accumulated == "" {
			return extracted
		}
		// Non-delta extraction with prior text keeps whichever is longer so a
		// stale snapshot never erases accumulated progress.
		if len(extracted) >= len(accumulated) {
			return extracted
		}
		return accumulated
	}
	return accumulated
}

func partTimes(payload map[string]any) (started, ended time.Time) {
	clock := asMap(payload["time"])
	if clock == nil {
		return asTime(payload["startedAt"]), asTime(payload["endedAt"])
	}
	return asTime(clock["start"]), asTime(clock["end"])
}
