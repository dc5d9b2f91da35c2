package messages

import (
	"context"
	"errors"
	"net"
	"strings"

	"chamber/internal/logging"
	"chamber/internal/types"
)

// silentCommands produce no local echo; results arrive over the stream.
var silentCommands = map[string]struct{}{
	"init":      {},
	"summarize": {},
	"compact":   {},
}

const argumentsToken = "$ARGUMENTS"

type statusCoder interface {
	StatusCode() int
}

// isTransientSendError classifies failures that the stream will resolve on
// its own: aborted requests, network timeouts, and gateway timeouts.
func isTransientSendError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var coder statusCoder
	if errors.As(err, &coder) {
		switch coder.StatusCode() {
		case 502, 504, 408:
			return true
		}
	}
	return false
}

// SendMessage dispatches user content to a session. Plain text gets an
// optimistic local user message before the request goes out; slash commands
// either run silently or expand a server-side template into the echo text.
func (s *Store) SendMessage(ctx context.Context, sessionID, content, providerID, modelID, agent string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errSessionRequired
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return errEmptyContent
	}

	if strings.HasPrefix(content, "/") {
		return s.sendCommand(ctx, sessionID, content, providerID, modelID, agent)
	}
	return s.sendPlain(ctx, sessionID, content, providerID, modelID, agent)
}

func (s *Store) sendPlain(ctx context.Context, sessionID, content, providerID, modelID, agent string) error {
	localID := s.newID()
	now := s.now()
	msg := types.Message{
		ID:             localID,
		SessionID:      sessionID,
		Role:           types.MessageRoleUser,
		CreatedAt:      now,
		ClientAuthored: true,
		Parts: []types.Part{{
			ID:        localID + ":part",
			MessageID: localID,
			SessionID: sessionID,
			Type:      types.PartTypeText,
			Text:      content,
		}},
	}

	s.mu.Lock()
	state := s.ensureSessionLocked(sessionID)
	insertMessageLocked(state, msg)
	s.pending[localID] = struct{}{}
	state.memory.LastAccessedAt = now
	sendCtx := s.armSendLocked(ctx, sessionID)
	s.mu.Unlock()
	s.notify()

	err := s.api.SendMessage(sendCtx, sessionID, SendBody{
		MessageID:  localID,
		Text:       content,
		ProviderID: providerID,
		ModelID:    modelID,
		Agent:      agent,
	})
	s.disarmSend(sessionID)
	if err != nil {
		if isTransientSendError(err) {
			s.log.Debug("send timed out, deferring to stream",
				logging.F("session", sessionID), logging.F("error", err))
			return nil
		}
		s.mu.Lock()
		s.dropMessageLocked(sessionID, localID)
		delete(s.pending, localID)
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

func (s *Store) sendCommand(ctx context.Context, sessionID, content, providerID, modelID, agent string) error {
	name, args := splitCommand(content)

	if _, silent := silentCommands[name]; silent {
		s.mu.Lock()
		sendCtx := s.armSendLocked(ctx, sessionID)
		s.mu.Unlock()
		err := s.api.SendMessage(sendCtx, sessionID, SendBody{
			Command:    name,
			Text:       args,
			ProviderID: providerID,
			ModelID:    modelID,
			Agent:      agent,
		})
		s.disarmSend(sessionID)
		if err != nil && !isTransientSendError(err) {
			return err
		}
		return nil
	}

	template, err := s.api.CommandTemplate(ctx, name)
	if err != nil {
		return err
	}
	expanded := strings.TrimSpace(strings.ReplaceAll(template, argumentsToken, args))
	if expanded == "" {
		expanded = content
	}
	return s.sendPlain(ctx, sessionID, expanded, providerID, modelID, agent)
}

func splitCommand(content string) (name, args string) {
	rest := strings.TrimPrefix(content, "/")
	name, args, _ = strings.Cut(rest, " ")
	return strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(args)
}

// armSendLocked replaces any prior cancellation handle for the session.
func (s *Store) armSendLocked(ctx context.Context, sessionID string) context.Context {
	if cancel, ok := s.sendCancels[sessionID]; ok {
		cancel()
	}
	sendCtx, cancel := context.WithCancel(ctx)
	s.sendCancels[sessionID] = cancel
	return sendCtx
}

func (s *Store) disarmSend(sessionID string) {
	s.mu.Lock()
	if cancel, ok := s.sendCancels[sessionID]; ok {
		cancel()
		delete(s.sendCancels, sessionID)
	}
	s.mu.Unlock()
}

func (s *Store) dropMessageLocked(sessionID, messageID string) {
	state, idx := s.findMessageLocked(sessionID, messageID)
	if state == nil || idx < 0 {
		return
	}
	state.messages = append(state.messages[:idx], state.messages[idx+1:]...)
	s.removeMessageStateLocked(messageID)
}

// AbortSession cancels the in-flight send, asks the server to stop the
// current turn, and clears timers on the streaming message.
func (s *Store) AbortSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errSessionRequired
	}
	s.mu.Lock()
	if cancel, ok := s.sendCancels[sessionID]; ok {
		cancel()
		delete(s.sendCancels, sessionID)
	}
	streamingID := s.streaming[sessionID]
	if streamingID != "" {
		s.sched.Cancel(idleKey(streamingID))
		delete(s.lastTextLen, streamingID)
	}
	s.mu.Unlock()

	if err := s.api.AbortSession(ctx, sessionID); err != nil && !isTransientSendError(err) {
		return err
	}
	return nil
}
