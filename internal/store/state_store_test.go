package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chamber/internal/types"
)

func newTestStore(t *testing.T) StateStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewBboltStateStore(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state := &types.AppState{
		LastSessionID:  "s1",
		LastProviderID: "anthropic",
		LastModelID:    "claude",
		SessionMemory: map[string]types.SessionMemory{
			"s1": {
				SessionID:      "s1",
				ViewportAnchor: 12,
				TotalAvailable: 80,
				HasMoreAbove:   true,
				LastAccessedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
			},
		},
	}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.LastSessionID != "s1" || loaded.LastModelID != "claude" {
		t.Fatalf("unexpected state: %#v", loaded)
	}
	memory, ok := loaded.SessionMemory["s1"]
	if !ok || memory.ViewportAnchor != 12 || !memory.HasMoreAbove {
		t.Fatalf("unexpected session memory: %#v", memory)
	}
}

func TestLoadEmptyStore(t *testing.T) {
	store := newTestStore(t)
	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.LastSessionID != "" || len(loaded.SessionMemory) != 0 {
		t.Fatalf("expected zero state, got %#v", loaded)
	}
}

func TestSaveAndDeleteSessionMemory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	memory := types.SessionMemory{SessionID: "s2", ViewportAnchor: 3, Streaming: false}
	if err := store.SaveSessionMemory(ctx, memory); err != nil {
		t.Fatalf("save memory failed: %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, ok := loaded.SessionMemory["s2"]; !ok {
		t.Fatalf("memory not persisted: %#v", loaded.SessionMemory)
	}

	if err := store.DeleteSessionMemory(ctx, "s2"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	loaded, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if _, ok := loaded.SessionMemory["s2"]; ok {
		t.Fatalf("memory not deleted")
	}
}

func TestSaveRejectsNilState(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil state")
	}
}
