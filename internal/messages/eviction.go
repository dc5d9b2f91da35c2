package messages

import (
	"time"
)

// TrimToViewportWindow keeps a centered window of messages around the current
// viewport anchor. A focused session that is mid-stream is never trimmed;
// cutting under the user's feet while text is arriving causes visible jumps.
func (s *Store) TrimToViewportWindow(sessionID string) {
	window := s.tuning.ViewportWindowSize()
	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	if !ok || len(state.messages) <= window {
		s.mu.Unlock()
		return
	}
	if s.focused == sessionID && s.streaming[sessionID] != "" {
		s.mu.Unlock()
		return
	}

	anchor := state.memory.ViewportAnchor
	if anchor < 0 || anchor >= len(state.messages) {
		anchor = len(state.messages) - 1
	}
	half := window / 2
	start := anchor - half
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(state.messages) {
		end = len(state.messages)
		start = end - window
		if start < 0 {
			start = 0
		}
	}

	for i, msg := range state.messages {
		if i >= start && i < end {
			continue
		}
		s.removeMessageStateLocked(msg.ID)
	}
	state.messages = append(state.messages[:0:0], state.messages[start:end]...)
	state.memory.ViewportAnchor = anchor - start
	state.memory.HasMoreAbove = state.memory.TotalAvailable > len(state.messages)
	s.mu.Unlock()
	s.notify()
}

// EvictLeastRecentlyUsed drops whole cached sessions once the cache exceeds
// its ceiling, never touching the focused session or one that is mid-stream.
func (s *Store) EvictLeastRecentlyUsed() {
	s.evictLeastRecentlyUsed()
}

func (s *Store) evictLeastRecentlyUsed() {
	ceiling := s.tuning.SessionCacheCeiling()
	s.mu.Lock()
	evicted := make([]string, 0)
	for len(s.sessions)-len(evicted) > ceiling {
		victim := ""
		var oldest time.Time
		for id, state := range s.sessions {
			if id == s.focused || s.streaming[id] != "" {
				continue
			}
			if contains(evicted, id) {
				continue
			}
			if victim == "" || state.memory.LastAccessedAt.Before(oldest) {
				victim = id
				oldest = state.memory.LastAccessedAt
			}
		}
		if victim == "" {
			break
		}
		evicted = append(evicted, victim)
	}
	for _, id := range evicted {
		state := s.sessions[id]
		for _, msg := range state.messages {
			s.removeMessageStateLocked(msg.ID)
		}
		s.sched.Cancel(flushKey(id))
		delete(s.queues, id)
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if len(evicted) > 0 {
		s.obs.Observe("sessions.evicted", "", "")
		s.notify()
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
