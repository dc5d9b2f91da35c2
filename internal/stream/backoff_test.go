package stream

import (
	"testing"
	"time"
)

func newTestBackoff(fast, slow time.Duration) *Backoff {
	b := NewBackoff(fast, slow)
	b.jitter = func(d time.Duration) time.Duration { return d }
	return b
}

func TestBackoffDoublesToFastCap(t *testing.T) {
	b := newTestBackoff(8*time.Second, 32*time.Second)

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for i, expected := range want {
		if got := b.Next(); got != expected {
			t.Fatalf("attempt %d: got %v, want %v", i+1, got, expected)
		}
	}
}

func TestBackoffSlowCapAfterRepeatedFailures(t *testing.T) {
	b := newTestBackoff(8*time.Second, 32*time.Second)
	var last time.Duration
	for i := 0; i < 12; i++ {
		last = b.Next()
	}
	if last != 32*time.Second {
		t.Fatalf("expected slow cap after sustained failures, got %v", last)
	}
}

func TestBackoffResetOnOpen(t *testing.T) {
	b := newTestBackoff(8*time.Second, 32*time.Second)
	for i := 0; i < 5; i++ {
		b.Next()
	}
	b.Reset()
	if got := b.Next(); got != 500*time.Millisecond {
		t.Fatalf("reset must restart the ladder, got %v", got)
	}
	if b.Attempts() != 1 {
		t.Fatalf("unexpected attempt count %d", b.Attempts())
	}
}

func TestBackoffJitterStaysNearDelay(t *testing.T) {
	b := NewBackoff(8*time.Second, 32*time.Second)
	for i := 0; i < 20; i++ {
		got := b.Next()
		if got <= 0 || got > 40*time.Second {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}
