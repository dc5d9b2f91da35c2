package messages

import (
	"sync"
	"time"
)

// Scheduler owns cancellable delayed tasks keyed by string. Keeping timers in
// one keyed map instead of loose closures means a removed message can cancel
// every timer tied to its id, and a rescheduled key never double-fires.
type Scheduler interface {
	Schedule(key string, delay time.Duration, fn func())
	Cancel(key string)
	CancelAll()
}

type timerScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimerScheduler() Scheduler {
	return &timerScheduler{timers: make(map[string]*time.Timer)}
}

func (s *timerScheduler) Schedule(key string, delay time.Duration, fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.timers[key]; ok {
		existing.Stop()
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

func (s *timerScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
}

func (s *timerScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}
