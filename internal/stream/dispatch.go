package stream

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"chamber/internal/logging"
	"chamber/internal/types"
)

// handleEvent classifies one stream event and routes its payload into the
// store. Field extraction is defensive throughout: every handler accepts
// both the flat and the info-nested payload shapes seen across server
// builds, and unknown event types are ignored.
func (c *Controller) handleEvent(ctx context.Context, event types.StreamEvent) {
	props := event.Properties
	c.applySessionTitle(props)

	switch event.Type {
	case types.EventServerConnected:
		c.log.Debug("server acknowledged connection")
	case types.EventMessagePartUpdate:
		c.handlePartUpdate(ctx, props)
	case types.EventMessageUpdated:
		c.handleMessageUpdated(ctx, props)
	case types.EventSessionUpdated:
		c.handleSessionUpdated(props)
	case types.EventSessionAbort:
		sessionID := extractString(props, "sessionID", "session_id", "id")
		messageID := extractString(props, "messageID", "message_id")
		if sessionID != "" {
			c.store.RecordAbort(sessionID, messageID)
		}
	case types.EventSessionError:
		c.log.Warn("session error event", logging.F("properties", compactJSON(props)))
	case types.EventPermissionUpdated:
		if perm := parsePermission(props); perm.ID != "" {
			c.store.AddPermission(perm)
		}
	case types.EventPermissionReplied:
		sessionID := extractString(props, "sessionID", "session_id")
		permissionID := extractString(props, "permissionID", "permission_id", "id")
		if sessionID != "" && permissionID != "" {
			c.store.RemovePermission(sessionID, permissionID)
		}
	default:
		c.log.Debug("ignoring event", logging.F("type", event.Type))
	}
}

// applySessionTitle picks up title changes regardless of which event carried
// them; several server builds piggyback metadata on unrelated events.
func (c *Controller) applySessionTitle(props map[string]any) {
	info := extractMap(props, "info", "session")
	if info == nil {
		return
	}
	id := extractString(info, "id", "sessionID")
	title := extractString(info, "title")
	if id == "" || title == "" {
		return
	}
	session, _ := c.store.SessionInfo(id)
	session.ID = id
	session.Title = title
	c.store.UpdateSessionInfo(session)
}

func (c *Controller) handlePartUpdate(ctx context.Context, props map[string]any) {
	part := extractMap(props, "part")
	if part == nil {
		part = props
	}
	sessionID := extractString(part, "sessionID", "session_id")
	messageID := extractString(part, "messageID", "message_id")
	info := extractMap(props, "info")
	if sessionID == "" {
		sessionID = extractString(info, "sessionID", "session_id")
	}
	if messageID == "" {
		messageID = extractString(info, "id", "messageID")
	}
	if sessionID == "" || messageID == "" {
		return
	}
	role := types.MessageRole(extractString(info, "role"))

	// A fresh content chunk disqualifies any completion waiting on the
	// delayed-verify timer.
	c.sched.Cancel(delayedCompletionKey(messageID))
	c.store.AddStreamingPart(sessionID, messageID, part, role)

	// A terminal step-finish settles the turn; the side effects it owes must
	// not be lost just because the completion event arrived first.
	if partIsTerminal(part) {
		c.completionSideEffects(ctx, sessionID, messageID)
	}
}

func partIsTerminal(part map[string]any) bool {
	if types.PartType(extractString(part, "type")) != types.PartTypeStepFinish {
		return false
	}
	reason := extractString(part, "reason")
	return types.StopReason(reason) || types.AbortReason(reason)
}

func (c *Controller) handleMessageUpdated(ctx context.Context, props map[string]any) {
	patch := extractMap(props, "info")
	if patch == nil {
		patch = props
	}
	sessionID := extractString(patch, "sessionID", "session_id")
	messageID := extractString(patch, "id", "messageID", "message_id")
	if sessionID == "" || messageID == "" {
		return
	}
	if parts := props["parts"]; parts != nil && patch["parts"] == nil {
		patch["parts"] = parts
	}

	role := types.MessageRole(extractString(patch, "role"))
	stored, exists := c.store.Message(sessionID, messageID)

	// Empty assistant updates for unknown messages would only materialize
	// blank bubbles; the parts will arrive on their own.
	if !exists && role == types.MessageRoleAssistant && len(extractSlice(patch, "parts")) == 0 {
		return
	}

	implied := impliesCompletion(patch)
	if implied && exists && !stored.Finished() && !patchHasStop(patch) {
		// Completion raced ahead of the final chunk. Strip the completion
		// markers, apply the rest, and re-verify after a short delay.
		deferred := cloneWithoutCompletion(patch)
		c.store.UpdateMessageInfo(sessionID, messageID, deferred)
		c.sched.Schedule(delayedCompletionKey(messageID), c.tuning.DelayedCompletion(), func() {
			c.finalizeDelayedCompletion(ctx, sessionID, messageID)
		})
		return
	}

	c.store.UpdateMessageInfo(sessionID, messageID, patch)
	if implied {
		c.completionSideEffects(ctx, sessionID, messageID)
	}
}

func (c *Controller) finalizeDelayedCompletion(ctx context.Context, sessionID, messageID string) {
	stored, exists := c.store.Message(sessionID, messageID)
	if !exists {
		return
	}
	if stored.Finished() || !stored.CompletedAt.IsZero() {
		return
	}
	c.store.CompleteStreamingMessage(sessionID, messageID)
	c.completionSideEffects(ctx, sessionID, messageID)
}

// completionSideEffects runs the post-turn refresh, but only for the latest
// assistant message: a stale completion for an older turn must not regress
// session state. Repeated completion events for the same turn are dropped.
func (c *Controller) completionSideEffects(ctx context.Context, sessionID, messageID string) {
	if c.store.LatestAssistantID(sessionID) != messageID {
		return
	}
	c.mu.Lock()
	if c.lastCompleted[sessionID] == messageID {
		c.mu.Unlock()
		return
	}
	c.lastCompleted[sessionID] = messageID
	hook := c.onDone
	c.mu.Unlock()
	if hook != nil {
		hook(sessionID, messageID)
	}
	c.store.SetCompactingUntil(sessionID, time.Time{})
	c.store.ClearAbort(sessionID)
	if c.api != nil {
		if session, err := c.api.SessionInfo(ctx, sessionID); err == nil {
			c.store.UpdateSessionInfo(session)
		}
	}
}

func (c *Controller) handleSessionUpdated(props map[string]any) {
	info := extractMap(props, "info", "session")
	if info == nil {
		info = props
	}
	sessionID := extractString(info, "id", "sessionID")
	if sessionID == "" {
		return
	}
	session, _ := c.store.SessionInfo(sessionID)
	session.ID = sessionID
	if title := extractString(info, "title"); title != "" {
		session.Title = title
	}
	if directory := extractString(info, "directory"); directory != "" {
		session.Directory = directory
	}
	c.store.UpdateSessionInfo(session)

	if clock := extractMap(info, "time"); clock != nil {
		if until := extractTime(clock["compacting"]); !until.IsZero() {
			c.store.SetCompactingUntil(sessionID, until)
		} else if _, present := clock["compacting"]; present {
			c.store.SetCompactingUntil(sessionID, time.Time{})
		}
	}
}

func delayedCompletionKey(messageID string) string {
	return "delayed:" + messageID
}

func impliesCompletion(patch map[string]any) bool {
	if strings.EqualFold(extractString(patch, "status"), "completed") {
		return true
	}
	if clock := extractMap(patch, "time"); clock != nil {
		if !extractTime(clock["completed"]).IsZero() {
			return true
		}
	}
	return false
}

func patchHasStop(patch map[string]any) bool {
	for _, raw := range extractSlice(patch, "parts") {
		part, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if extractString(part, "type") != string(types.PartTypeStepFinish) {
			continue
		}
		reason := extractString(part, "reason")
		if types.StopReason(reason) || types.AbortReason(reason) {
			return true
		}
	}
	return false
}

func cloneWithoutCompletion(patch map[string]any) map[string]any {
	out := make(map[string]any, len(patch))
	for key, value := range patch {
		switch key {
		case "status", "time":
		default:
			out[key] = value
		}
	}
	return out
}

func parsePermission(props map[string]any) types.Permission {
	payload := extractMap(props, "permission", "info")
	if payload == nil {
		payload = props
	}
	perm := types.Permission{
		ID:        extractString(payload, "id", "permissionID"),
		SessionID: extractString(payload, "sessionID", "session_id"),
		MessageID: extractString(payload, "messageID", "message_id"),
		Kind:      extractString(payload, "type", "kind"),
		Title:     extractString(payload, "title"),
		Reason:    extractString(payload, "reason"),
		Raw:       payload,
	}
	if meta := extractMap(payload, "metadata"); meta != nil {
		if perm.Command == "" {
			perm.Command = extractString(meta, "command")
		}
		if perm.Title == "" {
			perm.Title = extractString(meta, "title")
		}
	}
	if clock := extractMap(payload, "time"); clock != nil {
		perm.CreatedAt = extractTime(clock["created"])
	}
	return perm
}

func extractString(payload map[string]any, keys ...string) string {
	if payload == nil {
		return ""
	}
	for _, key := range keys {
		switch value := payload[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		case json.Number:
			return value.String()
		}
	}
	return ""
}

func extractMap(payload map[string]any, keys ...string) map[string]any {
	if payload == nil {
		return nil
	}
	for _, key := range keys {
		if value, ok := payload[key].(map[string]any); ok {
			return value
		}
	}
	return nil
}

func extractSlice(payload map[string]any, key string) []any {
	if payload == nil {
		return nil
	}
	value, _ := payload[key].([]any)
	return value
}

func extractTime(raw any) time.Time {
	switch value := raw.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value)); err == nil {
			return parsed.UTC()
		}
	case float64:
		return timeFromUnix(int64(value))
	case int64:
		return timeFromUnix(value)
	case json.Number:
		if parsed, err := strconv.ParseInt(value.String(), 10, 64); err == nil {
			return timeFromUnix(parsed)
		}
	}
	return time.Time{}
}

func timeFromUnix(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	if value > 1e12 {
		return time.UnixMilli(value).UTC()
	}
	return time.Unix(value, 0).UTC()
}

func compactJSON(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}
