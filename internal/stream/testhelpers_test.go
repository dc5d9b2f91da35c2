package stream

import (
	"context"
	"sync"
	"time"

	"chamber/internal/config"
	"chamber/internal/logging"
	"chamber/internal/messages"
	"chamber/internal/types"
)

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

type storeAPI struct{}

func (storeAPI) ListMessages(context.Context, string) ([]types.Message, error) { return nil, nil }
func (storeAPI) SendMessage(context.Context, string, messages.SendBody) error  { return nil }
func (storeAPI) AbortSession(context.Context, string) error                    { return nil }
func (storeAPI) CommandTemplate(context.Context, string) (string, error)       { return "", nil }

// fakeSource hands out one channel per subscription; cancelling a
// subscription closes its channel the way the real transport does.
type fakeSource struct {
	mu        sync.Mutex
	err       error
	healthErr error
	opens     int
	cancels   int
	current   chan types.StreamEvent
	closeOnce *sync.Once
}

func (f *fakeSource) Subscribe(_ context.Context) (<-chan types.StreamEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	f.opens++
	ch := make(chan types.StreamEvent, 16)
	once := &sync.Once{}
	f.current = ch
	f.closeOnce = once
	cancel := func() {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
		once.Do(func() { close(ch) })
	}
	return ch, cancel, nil
}

func (f *fakeSource) Health(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeSource) send(event types.StreamEvent) {
	f.mu.Lock()
	ch := f.current
	f.mu.Unlock()
	if ch != nil {
		ch <- event
	}
}

func (f *fakeSource) closeCurrent() {
	f.mu.Lock()
	ch := f.current
	once := f.closeOnce
	f.mu.Unlock()
	if ch != nil && once != nil {
		once.Do(func() { close(ch) })
	}
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeSource) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) setHealthErr(err error) {
	f.mu.Lock()
	f.healthErr = err
	f.mu.Unlock()
}

type fakeSessionAPI struct {
	mu       sync.Mutex
	sessions map[string]types.Session
	calls    int
}

func (f *fakeSessionAPI) SessionInfo(_ context.Context, sessionID string) (types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.sessions[sessionID], nil
}

func newDispatchFixture() (*Controller, *messages.Store, *manualScheduler, *manualScheduler) {
	storeSched := newManualScheduler()
	ctrlSched := newManualScheduler()
	store := messages.NewStore(storeAPI{}, storeSched, config.TuningConfig{}, logging.Nop())
	ctrl := NewController(&fakeSource{}, &fakeSessionAPI{sessions: map[string]types.Session{}}, store,
		config.TuningConfig{}, logging.Nop(), WithScheduler(ctrlSched))
	return ctrl, store, storeSched, ctrlSched
}

func flushSession(store *messages.Store, sched *manualScheduler, sessionID string) {
	sched.fire("flush:" + sessionID)
}
