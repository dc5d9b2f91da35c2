package messages

import (
	"sync"
	"time"
)

type LifecyclePhase int

const (
	PhaseStreaming LifecyclePhase = iota
	PhaseCooldown
	PhaseCompleted
)

func (p LifecyclePhase) String() string {
	switch p {
	case PhaseCooldown:
		return "cooldown"
	case PhaseCompleted:
		return "completed"
	default:
		return "streaming"
	}
}

type LifecycleEntry struct {
	Phase        LifecyclePhase
	StartedAt    time.Time
	LastUpdateAt time.Time
	CompletedAt  time.Time
}

// LifecycleTracker follows each in-flight assistant message through
// streaming, cooldown and completed. Cooldown exists so exit animations get a
// grace window; an entry that is never explicitly settled is force-completed
// by a scheduled fallback so the UI cannot stay stuck mid-animation.
type LifecycleTracker struct {
	mu      sync.Mutex
	entries map[string]LifecycleEntry
	sched   Scheduler
	grace   time.Duration
	now     func() time.Time
	// onSettle fires when an entry reaches completed, from either the explicit
	// settle call or the fallback timer.
	onSettle func(id string)
}

func NewLifecycleTracker(sched Scheduler, grace time.Duration, onSettle func(id string)) *LifecycleTracker {
	return &LifecycleTracker{
		entries:  make(map[string]LifecycleEntry),
		sched:    sched,
		grace:    grace,
		now:      time.Now,
		onSettle: onSettle,
	}
}

func (t *LifecycleTracker) Touch(id string) {
	if t == nil || id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	entry, ok := t.entries[id]
	if !ok {
		t.entries[id] = LifecycleEntry{Phase: PhaseStreaming, StartedAt: now, LastUpdateAt: now}
		return
	}
	entry.Phase = PhaseStreaming
	entry.LastUpdateAt = now
	entry.CompletedAt = time.Time{}
	t.entries[id] = entry
}

func (t *LifecycleTracker) MarkCooldown(id string) {
	if t == nil || id == "" {
		return
	}
	t.mu.Lock()
	entry, ok := t.entries[id]
	if !ok || entry.Phase != PhaseStreaming {
		t.mu.Unlock()
		return
	}
	entry.Phase = PhaseCooldown
	entry.CompletedAt = t.now()
	t.entries[id] = entry
	t.mu.Unlock()

	t.sched.Schedule(settleKey(id), t.grace, func() {
		t.MarkCompleted(id)
	})
}

func (t *LifecycleTracker) MarkCompleted(id string) {
	if t == nil || id == "" {
		return
	}
	t.mu.Lock()
	entry, ok := t.entries[id]
	if !ok || entry.Phase == PhaseCompleted {
		t.mu.Unlock()
		return
	}
	entry.Phase = PhaseCompleted
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = t.now()
	}
	t.entries[id] = entry
	t.mu.Unlock()

	t.sched.Cancel(settleKey(id))
	if t.onSettle != nil {
		t.onSettle(id)
	}
}

func (t *LifecycleTracker) Remove(id string) {
	if t == nil || id == "" {
		return
	}
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
	t.sched.Cancel(settleKey(id))
}

func (t *LifecycleTracker) Entry(id string) (LifecycleEntry, bool) {
	if t == nil {
		return LifecycleEntry{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	return entry, ok
}

func (t *LifecycleTracker) Phase(id string) (LifecyclePhase, bool) {
	entry, ok := t.Entry(id)
	return entry.Phase, ok
}

func settleKey(id string) string {
	return "settle:" + id
}
