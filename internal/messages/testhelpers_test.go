package messages

import (
	"context"
	"sync"
	"time"

	"chamber/internal/config"
	"chamber/internal/logging"
	"chamber/internal/types"
)

// manualScheduler records scheduled tasks and fires them only on demand so
// tests control time.
type manualScheduler struct {
	mu    sync.Mutex
	tasks map[string]func()
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{tasks: make(map[string]func())}
}

func (s *manualScheduler) Schedule(key string, _ time.Duration, fn func()) {
	s.mu.Lock()
	s.tasks[key] = fn
	s.mu.Unlock()
}

func (s *manualScheduler) Cancel(key string) {
	s.mu.Lock()
	delete(s.tasks, key)
	s.mu.Unlock()
}

func (s *manualScheduler) CancelAll() {
	s.mu.Lock()
	s.tasks = make(map[string]func())
	s.mu.Unlock()
}

func (s *manualScheduler) fire(key string) bool {
	s.mu.Lock()
	fn, ok := s.tasks[key]
	delete(s.tasks, key)
	s.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

func (s *manualScheduler) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

type fakeAPI struct {
	mu        sync.Mutex
	history   []types.Message
	listErr   error
	sendErr   error
	abortErr  error
	sent      []SendBody
	aborts    []string
	templates map[string]string
}

func (f *fakeAPI) ListMessages(_ context.Context, _ string) ([]types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]types.Message, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, _ string, body SendBody) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
	return f.sendErr
}

func (f *fakeAPI) AbortSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts = append(f.aborts, sessionID)
	return f.abortErr
}

func (f *fakeAPI) CommandTemplate(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.templates[name], nil
}

func newTestStore(api *fakeAPI, sched Scheduler) *Store {
	if api == nil {
		api = &fakeAPI{}
	}
	n := 0
	return NewStore(api, sched, config.TuningConfig{}, logging.Nop(),
		WithIDGenerator(func() string {
			n++
			return "local-" + string(rune('a'+n-1))
		}))
}

func textPart(id, text string) map[string]any {
	return map[string]any{"id": id, "type": "text", "text": text}
}

func deltaPart(id, delta string) map[string]any {
	return map[string]any{"id": id, "type": "text", "delta": delta}
}

func stepFinishPart(id, reason string) map[string]any {
	return map[string]any{"id": id, "type": "step-finish", "reason": reason}
}

// deliver queues a part and immediately flushes the session's batch.
func deliver(s *Store, sched *manualScheduler, sessionID, messageID string, payload map[string]any, role types.MessageRole) {
	s.AddStreamingPart(sessionID, messageID, payload, role)
	sched.fire(flushKey(sessionID))
}
