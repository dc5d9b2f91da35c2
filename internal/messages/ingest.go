package messages

import (
	"errors"
	"strings"
	"time"

	"chamber/internal/logging"
	"chamber/internal/types"
)

var (
	errSessionRequired = errors.New("messages: session id required")
	errEmptyContent    = errors.New("messages: empty content")
)

// AddStreamingPart queues a part upsert for a session. Calls landing inside
// the batch window are flushed together so a burst of deltas costs one
// notification, but each queued part is still applied against the latest
// state in arrival order.
func (s *Store) AddStreamingPart(sessionID, messageID string, payload map[string]any, role types.MessageRole) {
	sessionID = strings.TrimSpace(sessionID)
	messageID = strings.TrimSpace(messageID)
	if sessionID == "" || messageID == "" || payload == nil {
		return
	}
	s.mu.Lock()
	queue := s.queues[sessionID]
	s.queues[sessionID] = append(queue, queuedPart{messageID: messageID, payload: payload, role: role})
	schedule := len(queue) == 0
	window := s.tuning.BatchWindow()
	s.mu.Unlock()

	if schedule {
		s.sched.Schedule(flushKey(sessionID), window, func() {
			s.flushParts(sessionID)
		})
	}
}

func (s *Store) flushParts(sessionID string) {
	s.mu.Lock()
	queue := s.queues[sessionID]
	delete(s.queues, sessionID)
	changed := false
	for _, item := range queue {
		if s.applyPartLocked(sessionID, item) {
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.obs.Observe("parts.flushed", sessionID, "")
		s.notify()
	}
}

// applyPartLocked runs the per-part reconciliation rules in their fixed
// order. It reports whether visible state changed.
func (s *Store) applyPartLocked(sessionID string, item queuedPart) bool {
	messageID := item.messageID
	state := s.ensureSessionLocked(sessionID)
	_, idx := s.findMessageLocked(sessionID, messageID)

	// Server echo of an optimistic user message under its real id: rename the
	// local temp id instead of creating a duplicate.
	renamed := false
	if idx < 0 && item.role == types.MessageRoleUser {
		if tempIdx := s.pendingTempIndexLocked(state); tempIdx >= 0 {
			tempID := state.messages[tempIdx].ID
			delete(s.pending, tempID)
			s.pending[messageID] = struct{}{}
			state.messages[tempIdx].ID = messageID
			for i := range state.messages[tempIdx].Parts {
				state.messages[tempIdx].Parts[i].MessageID = messageID
			}
			s.obs.Observe("pending.renamed", sessionID, messageID)
			renamed = true
		}
	}

	// Local optimistic copy stays authoritative until the pending entry is
	// cleared by a load or an explicit update.
	if _, pending := s.pending[messageID]; pending {
		return renamed
	}

	partType := types.PartType(strings.TrimSpace(asString(item.payload["type"])))
	if partType == types.PartTypeFile {
		return false
	}

	now := s.now()
	if entry, ok := s.lifecycle.Entry(messageID); ok && entry.Phase == PhaseStreaming {
		if now.Sub(entry.StartedAt) > s.tuning.ZombieTimeout() {
			state.memory.Zombie = true
			s.log.Warn("force-completing zombie stream",
				logging.F("session", sessionID), logging.F("message", messageID))
			s.completeStreamingLocked(sessionID, messageID)
			return true
		}
	}

	if idx < 0 {
		// User messages come only from send or load; a stray user-role part
		// for an unknown id never materializes one.
		if item.role == types.MessageRoleUser {
			return renamed
		}
		part := NormalizePart(item.payload, nil)
		part.MessageID = messageID
		part.SessionID = sessionID
		msg := types.Message{
			ID:        messageID,
			SessionID: sessionID,
			Role:      item.role,
			CreatedAt: now,
			Streaming: item.role == types.MessageRoleAssistant,
			Parts:     []types.Part{part},
		}
		if msg.Role == "" {
			msg.Role = types.MessageRoleAssistant
		}
		if created := asTime(item.payload["createdAt"]); !created.IsZero() {
			msg.CreatedAt = created
		}
		insertMessageLocked(state, msg)
		s.afterAssistantActivityLocked(state, sessionID, messageID, msg.Role)
		return true
	}

	msg := &state.messages[idx]
	part := s.upsertPartLocked(msg, item.payload)
	s.afterAssistantActivityLocked(state, sessionID, messageID, msg.Role)

	if types.FinishedTurn(part) {
		if types.AbortReason(part.Reason) {
			msg.Aborted = true
		}
		s.completeStreamingLocked(sessionID, messageID)
	}
	return true
}

func (s *Store) upsertPartLocked(msg *types.Message, payload map[string]any) types.Part {
	partID := firstString(payload, "id", "partID")
	for i := range msg.Parts {
		if partID != "" && msg.Parts[i].ID == partID {
			msg.Parts[i] = NormalizePart(payload, &msg.Parts[i])
			return msg.Parts[i]
		}
	}
	part := NormalizePart(payload, nil)
	part.MessageID = msg.ID
	part.SessionID = msg.SessionID
	msg.Parts = append(msg.Parts, part)
	return part
}

// afterAssistantActivityLocked maintains the streaming pointer, lifecycle
// entry, and the per-message idle timer after any assistant part activity.
func (s *Store) afterAssistantActivityLocked(state *sessionState, sessionID, messageID string, role types.MessageRole) {
	if role != types.MessageRoleAssistant {
		return
	}
	if phase, ok := s.lifecycle.Phase(messageID); ok && phase == PhaseCompleted {
		return
	}
	s.streaming[sessionID] = messageID
	state.memory.Streaming = true
	state.memory.LastAccessedAt = s.now()
	s.lifecycle.Touch(messageID)

	// The idle timer only resets while text keeps growing; content that stops
	// changing lets the timer lapse and defensively complete the message.
	textLen := 0
	if _, idx := s.findMessageLocked(sessionID, messageID); idx >= 0 {
		textLen = len(state.messages[idx].Text())
	}
	if prev, seen := s.lastTextLen[messageID]; !seen || textLen > prev {
		s.lastTextLen[messageID] = textLen
		timeout := s.tuning.IdleTimeout()
		s.sched.Schedule(idleKey(messageID), timeout, func() {
			s.idleTimeoutFired(sessionID, messageID)
		})
	}
}

func (s *Store) idleTimeoutFired(sessionID, messageID string) {
	s.mu.Lock()
	if s.streaming[sessionID] != messageID {
		s.mu.Unlock()
		return
	}
	s.log.Debug("idle timeout completing message",
		logging.F("session", sessionID), logging.F("message", messageID))
	s.completeStreamingLocked(sessionID, messageID)
	s.mu.Unlock()
	s.obs.Observe("message.idle-completed", sessionID, messageID)
	s.notify()
}

// pendingTempIndexLocked finds the newest optimistic user message still in
// the pending set.
func (s *Store) pendingTempIndexLocked(state *sessionState) int {
	for i := len(state.messages) - 1; i >= 0; i-- {
		msg := state.messages[i]
		if !msg.ClientAuthored || msg.Role != types.MessageRoleUser {
			continue
		}
		if _, ok := s.pending[msg.ID]; ok {
			return i
		}
	}
	return -1
}

// CompleteStreamingMessage moves a message out of streaming. The streaming
// pointer is cleared only when it still points at this id so a late
// completion for an old message cannot clobber a newer in-flight one.
func (s *Store) CompleteStreamingMessage(sessionID, messageID string) {
	s.mu.Lock()
	s.completeStreamingLocked(sessionID, messageID)
	s.mu.Unlock()
	s.obs.Observe("message.completed", sessionID, messageID)
	s.notify()
}

func (s *Store) completeStreamingLocked(sessionID, messageID string) {
	if s.streaming[sessionID] == messageID {
		delete(s.streaming, sessionID)
		if state, ok := s.sessions[sessionID]; ok {
			state.memory.Streaming = false
		}
	}
	if state, idx := s.findMessageLocked(sessionID, messageID); idx >= 0 {
		msg := &state.messages[idx]
		msg.Streaming = false
		if msg.CompletedAt.IsZero() {
			msg.CompletedAt = s.now()
		}
	}
	s.sched.Cancel(idleKey(messageID))
	delete(s.lastTextLen, messageID)
	s.lifecycle.MarkCooldown(messageID)
}

// UpdateMessageInfo merges metadata from a message.updated payload onto an
// existing message. Role and authorship markers of user messages are
// force-preserved no matter what the patch claims.
func (s *Store) UpdateMessageInfo(sessionID, messageID string, patch map[string]any) {
	sessionID = strings.TrimSpace(sessionID)
	messageID = strings.TrimSpace(messageID)
	if sessionID == "" || messageID == "" || patch == nil {
		return
	}
	s.mu.Lock()
	state, idx := s.findMessageLocked(sessionID, messageID)
	if state == nil || idx < 0 {
		s.mu.Unlock()
		return
	}
	msg := &state.messages[idx]

	// The first update referencing a pending user id settles the optimistic
	// send, even when the patch carries nothing else. This must run before the
	// empty-update drop or the id could stay pending forever.
	userAuthored := msg.ClientAuthored || msg.Role == types.MessageRoleUser
	if !userAuthored {
		if _, pending := s.pending[messageID]; pending {
			userAuthored = true
		}
	}
	settled := false
	if userAuthored {
		msg.Role = types.MessageRoleUser
		msg.ClientAuthored = true
		if _, pending := s.pending[messageID]; pending {
			delete(s.pending, messageID)
			settled = true
		}
	}

	parts := asSlice(patch["parts"])
	status := strings.ToLower(strings.TrimSpace(asString(patch["status"])))
	completedAt := patchCompletedTime(patch)
	if len(parts) == 0 && completedAt.IsZero() && status != "completed" {
		// Empty updates carry nothing worth merging and would only clobber.
		s.mu.Unlock()
		if settled {
			s.notify()
		}
		return
	}

	if provider := firstString(patch, "providerID", "provider_id"); provider != "" {
		msg.ProviderID = provider
	}
	if model := firstString(patch, "modelID", "model_id"); model != "" {
		msg.ModelID = model
	}
	if status != "" {
		msg.Status = status
	}
	if role := strings.TrimSpace(asString(patch["role"])); role != "" && !userAuthored {
		msg.Role = types.MessageRole(role)
	}
	if !completedAt.IsZero() {
		msg.CompletedAt = completedAt
	}

	hasStop := msg.Finished() || patchCarriesStopMarker(parts)
	for _, raw := range parts {
		payload := asMap(raw)
		if payload == nil {
			continue
		}
		s.applyPatchPartLocked(msg, payload, hasStop)
	}

	completed := false
	if msg.Role == types.MessageRoleAssistant {
		if msg.Finished() || !completedAt.IsZero() || status == "completed" {
			completed = true
		}
	}
	if completed {
		s.completeStreamingLocked(sessionID, messageID)
	}
	s.mu.Unlock()
	s.notify()
}

// applyPatchPartLocked upserts a part from a message.updated payload with
// shrink protection: an assistant text part may not drop more than the
// configured tolerance below the stored length unless the update carries an
// authoritative stop marker.
func (s *Store) applyPatchPartLocked(msg *types.Message, payload map[string]any, hasStopMarker bool) {
	partID := firstString(payload, "id", "partID")
	for i := range msg.Parts {
		if partID == "" || msg.Parts[i].ID != partID {
			continue
		}
		next := NormalizePart(payload, &msg.Parts[i])
		if msg.Role == types.MessageRoleAssistant && next.Type == types.PartTypeText && !hasStopMarker {
			shrink := len(msg.Parts[i].Text) - len(next.Text)
			if shrink > s.tuning.ShrinkToleranceChars() {
				s.obs.Observe("part.shrink-rejected", msg.SessionID, msg.ID)
				return
			}
		}
		msg.Parts[i] = next
		return
	}
	part := NormalizePart(payload, nil)
	part.MessageID = msg.ID
	part.SessionID = msg.SessionID
	msg.Parts = append(msg.Parts, part)
}

func patchCarriesStopMarker(parts []any) bool {
	for _, raw := range parts {
		payload := asMap(raw)
		if payload == nil {
			continue
		}
		if types.PartType(strings.TrimSpace(asString(payload["type"]))) != types.PartTypeStepFinish {
			continue
		}
		reason := firstString(payload, "reason")
		if types.StopReason(reason) || types.AbortReason(reason) {
			return true
		}
	}
	return false
}

func patchCompletedTime(patch map[string]any) time.Time {
	if clock := asMap(patch["time"]); clock != nil {
		if completed := asTime(clock["completed"]); !completed.IsZero() {
			return completed
		}
	}
	return asTime(patch["completedAt"])
}
