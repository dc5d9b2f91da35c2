package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"chamber/internal/types"
)

var (
	bucketAppState      = []byte("app_state")
	bucketSessionMemory = []byte("session_memory")
	keyAppState         = []byte("state")
)

// StateStore persists the small durable slice that survives restarts: the
// last-used session/provider/model and per-session memory snapshots.
type StateStore interface {
	Load(ctx context.Context) (*types.AppState, error)
	Save(ctx context.Context, state *types.AppState) error
	SaveSessionMemory(ctx context.Context, memory types.SessionMemory) error
	DeleteSessionMemory(ctx context.Context, sessionID string) error
	Close() error
}

type bboltStateStore struct {
	db *bolt.DB
	mu sync.Mutex
}

func NewBboltStateStore(path string) (StateStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("state db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStateStore{db: db}, nil
}

func initSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAppState); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSessionMemory); err != nil {
			return err
		}
		return nil
	})
}

func (s *bboltStateStore) Load(_ context.Context) (*types.AppState, error) {
	state := &types.AppState{SessionMemory: map[string]types.SessionMemory{}}
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketAppState); b != nil {
			if raw := b.Get(keyAppState); len(raw) > 0 {
				if err := json.Unmarshal(raw, state); err != nil {
					return err
				}
			}
		}
		if state.SessionMemory == nil {
			state.SessionMemory = map[string]types.SessionMemory{}
		}
		b := tx.Bucket(bucketSessionMemory)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var memory types.SessionMemory
			if err := json.Unmarshal(v, &memory); err != nil {
				return err
			}
			state.SessionMemory[string(k)] = memory
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *bboltStateStore) Save(_ context.Context, state *types.AppState) error {
	if state == nil {
		return errors.New("state is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Session memory lives in its own bucket; strip it from the blob so the
	// two never disagree.
	blob := *state
	blob.SessionMemory = nil
	raw, err := json.Marshal(&blob)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAppState)
		if b == nil {
			return errors.New("app state bucket missing")
		}
		if err := b.Put(keyAppState, raw); err != nil {
			return err
		}
		memories := tx.Bucket(bucketSessionMemory)
		if memories == nil {
			return errors.New("session memory bucket missing")
		}
		for sessionID, memory := range state.SessionMemory {
			data, err := json.Marshal(memory)
			if err != nil {
				return err
			}
			if err := memories.Put([]byte(sessionID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *bboltStateStore) SaveSessionMemory(_ context.Context, memory types.SessionMemory) error {
	sessionID := strings.TrimSpace(memory.SessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(memory)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionMemory)
		if b == nil {
			return errors.New("session memory bucket missing")
		}
		return b.Put([]byte(sessionID), raw)
	})
}

func (s *bboltStateStore) DeleteSessionMemory(_ context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionMemory)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(sessionID))
	})
}

func (s *bboltStateStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
