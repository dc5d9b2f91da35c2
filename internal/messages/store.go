package messages

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chamber/internal/config"
	"chamber/internal/logging"
	"chamber/internal/types"
)

// API is the collaborator surface the store needs from the assistant server.
type API interface {
	ListMessages(ctx context.Context, sessionID string) ([]types.Message, error)
	SendMessage(ctx context.Context, sessionID string, body SendBody) error
	AbortSession(ctx context.Context, sessionID string) error
	CommandTemplate(ctx context.Context, name string) (string, error)
}

type SendBody struct {
	MessageID  string
	Text       string
	ProviderID string
	ModelID    string
	Agent      string
	Command    string
}

// Observer receives reconciliation events for debug tracking. It replaces the
// window-attached tracker of the original client with an injected interface.
type Observer interface {
	Observe(event, sessionID, messageID string)
}

type nopObserver struct{}

func (nopObserver) Observe(string, string, string) {}

type sessionState struct {
	messages []types.Message
	memory   types.SessionMemory
}

type queuedPart struct {
	messageID string
	payload   map[string]any
	role      types.MessageRole
}

// Store owns the per-session ordered message lists and reconciles incoming
// parts and updates against them. All mutation goes through its methods; the
// stream controller, timers and senders never touch state directly.
type Store struct {
	mu     sync.Mutex
	api    API
	log    logging.Logger
	tuning config.TuningConfig
	sched  Scheduler
	obs    Observer
	now    func() time.Time
	newID  func() string

	sessions  map[string]*sessionState
	focused   string
	pending   map[string]struct{}
	streaming map[string]string
	lifecycle *LifecycleTracker

	aborted     map[string]time.Time
	permissions map[string][]types.Permission
	compacting  map[string]time.Time
	sessionInfo map[string]types.Session

	queues      map[string][]queuedPart
	lastTextLen map[string]int

	sendCancels map[string]context.CancelFunc

	subsMu sync.Mutex
	subs   map[int]func()
	nextID int
}

type StoreOption func(*Store)

func WithObserver(obs Observer) StoreOption {
	return func(s *Store) {
		if obs != nil {
			s.obs = obs
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
			s.lifecycle.now = now
		}
	}
}

func WithIDGenerator(newID func() string) StoreOption {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func NewStore(api API, sched Scheduler, tuning config.TuningConfig, log logging.Logger, opts ...StoreOption) *Store {
	if log == nil {
		log = logging.Nop()
	}
	if sched == nil {
		sched = NewTimerScheduler()
	}
	store := &Store{
		api:         api,
		log:         log,
		tuning:      tuning,
		sched:       sched,
		obs:         nopObserver{},
		now:         time.Now,
		newID:       func() string { return "local-" + uuid.NewString() },
		sessions:    make(map[string]*sessionState),
		pending:     make(map[string]struct{}),
		streaming:   make(map[string]string),
		aborted:     make(map[string]time.Time),
		permissions: make(map[string][]types.Permission),
		compacting:  make(map[string]time.Time),
		sessionInfo: make(map[string]types.Session),
		queues:      make(map[string][]queuedPart),
		lastTextLen: make(map[string]int),
		sendCancels: make(map[string]context.CancelFunc),
		subs:        make(map[int]func()),
	}
	store.lifecycle = NewLifecycleTracker(sched, tuning.CooldownGrace(), nil)
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Subscribe registers a change callback and returns an unsubscribe func.
func (s *Store) Subscribe(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Store) Focus(sessionID string) {
	s.mu.Lock()
	s.focused = strings.TrimSpace(sessionID)
	if state, ok := s.sessions[s.focused]; ok {
		state.memory.LastAccessedAt = s.now()
	}
	s.mu.Unlock()
}

func (s *Store) Focused() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// Messages returns a copy of the ordered message list for a session.
func (s *Store) Messages(sessionID string) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	state.memory.LastAccessedAt = s.now()
	out := make([]types.Message, len(state.messages))
	copy(out, state.messages)
	return out
}

func (s *Store) Memory(sessionID string) (types.SessionMemory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return types.SessionMemory{}, false
	}
	return state.memory, true
}

func (s *Store) StreamingMessageID(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming[sessionID]
}

func (s *Store) PendingUserIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for id := range s.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LoadMessages fetches the session history, keeps the most recent viewport
// window, and reconciles persisted user messages against the pending set.
func (s *Store) LoadMessages(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errSessionRequired
	}
	history, err := s.api.ListMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	window := s.tuning.ViewportWindowSize()

	s.mu.Lock()
	sortMessages(history)
	total := len(history)
	trimmed := history
	if len(trimmed) > window {
		trimmed = trimmed[len(trimmed)-window:]
	}
	kept := make([]types.Message, len(trimmed))
	copy(kept, trimmed)
	for i := range kept {
		kept[i].SessionID = sessionID
		if kept[i].Role == types.MessageRoleUser {
			delete(s.pending, kept[i].ID)
		}
	}
	state := s.ensureSessionLocked(sessionID)
	state.messages = mergeLoadedLocked(state.messages, kept, s.pending)
	state.memory.TotalAvailable = total
	state.memory.HasMoreAbove = total > len(state.messages)
	state.memory.ViewportAnchor = len(state.messages) - 1
	state.memory.LastAccessedAt = s.now()
	s.mu.Unlock()

	s.evictLeastRecentlyUsed()
	s.notify()
	return nil
}

// mergeLoadedLocked overlays fetched history on any locally-known messages,
// keeping optimistic pending entries the server has not echoed yet.
func mergeLoadedLocked(current, loaded []types.Message, pending map[string]struct{}) []types.Message {
	if len(current) == 0 {
		return loaded
	}
	seen := make(map[string]struct{}, len(loaded))
	for _, msg := range loaded {
		seen[msg.ID] = struct{}{}
	}
	out := loaded
	for _, msg := range current {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		if _, stillPending := pending[msg.ID]; stillPending && msg.ClientAuthored {
			out = append(out, msg)
		}
	}
	sortMessages(out)
	return out
}

func (s *Store) ensureSessionLocked(sessionID string) *sessionState {
	state, ok := s.sessions[sessionID]
	if !ok {
		state = &sessionState{
			memory: types.SessionMemory{SessionID: sessionID, LastAccessedAt: s.now()},
		}
		s.sessions[sessionID] = state
	}
	return state
}

func sortMessages(msgs []types.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func insertMessageLocked(state *sessionState, msg types.Message) {
	state.messages = append(state.messages, msg)
	sortMessages(state.messages)
}

func (s *Store) findMessageLocked(sessionID, messageID string) (*sessionState, int) {
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, -1
	}
	for i := range state.messages {
		if state.messages[i].ID == messageID {
			return state, i
		}
	}
	return state, -1
}

// RecordAbort notes an acknowledged abort for a session and force-completes
// the named message if one is given.
func (s *Store) RecordAbort(sessionID, messageID string) {
	s.mu.Lock()
	s.aborted[sessionID] = s.now()
	if messageID != "" {
		if state, idx := s.findMessageLocked(sessionID, messageID); idx >= 0 {
			state.messages[idx].Aborted = true
		}
	}
	s.mu.Unlock()
	if messageID != "" {
		s.CompleteStreamingMessage(sessionID, messageID)
		return
	}
	s.notify()
}

func (s *Store) ClearAbort(sessionID string) {
	s.mu.Lock()
	delete(s.aborted, sessionID)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) AddPermission(p types.Permission) {
	if strings.TrimSpace(p.ID) == "" {
		return
	}
	s.mu.Lock()
	queue := s.permissions[p.SessionID]
	replaced := false
	for i := range queue {
		if queue[i].ID == p.ID {
			queue[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		queue = append(queue, p)
	}
	s.permissions[p.SessionID] = queue
	s.mu.Unlock()
	s.notify()
}

func (s *Store) RemovePermission(sessionID, permissionID string) {
	s.mu.Lock()
	queue := s.permissions[sessionID]
	out := queue[:0]
	for _, p := range queue {
		if p.ID != permissionID {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		delete(s.permissions, sessionID)
	} else {
		s.permissions[sessionID] = out
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Permissions(sessionID string) []types.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.permissions[sessionID]
	out := make([]types.Permission, len(queue))
	copy(out, queue)
	return out
}

func (s *Store) SetCompactingUntil(sessionID string, until time.Time) {
	s.mu.Lock()
	if until.IsZero() {
		delete(s.compacting, sessionID)
	} else {
		s.compacting[sessionID] = until
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) UpdateSessionInfo(session types.Session) {
	if strings.TrimSpace(session.ID) == "" {
		return
	}
	s.mu.Lock()
	s.sessionInfo[session.ID] = session
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SessionInfo(sessionID string) (types.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessionInfo[sessionID]
	return session, ok
}

// Message returns a copy of one cached message.
func (s *Store) Message(sessionID, messageID string) (types.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, idx := s.findMessageLocked(sessionID, messageID)
	if state == nil || idx < 0 {
		return types.Message{}, false
	}
	return state.messages[idx], true
}

// LatestAssistantID returns the id of the newest assistant message in a
// session, ordered by creation time with id as tie-break.
func (s *Store) LatestAssistantID(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return ""
	}
	for i := len(state.messages) - 1; i >= 0; i-- {
		if state.messages[i].Role == types.MessageRoleAssistant && !state.messages[i].ClientAuthored {
			return state.messages[i].ID
		}
	}
	return ""
}

// Snapshot assembles the read-only view the status projector derives from.
type Snapshot struct {
	SessionID       string
	Messages        []types.Message
	StreamingID     string
	Phases          map[string]LifecyclePhase
	AbortedAt       time.Time
	Permissions     []types.Permission
	CompactingUntil time.Time
	Now             time.Time
}

func (s *Store) Snapshot(sessionID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID:       sessionID,
		StreamingID:     s.streaming[sessionID],
		AbortedAt:       s.aborted[sessionID],
		CompactingUntil: s.compacting[sessionID],
		Now:             s.now(),
		Phases:          make(map[string]LifecyclePhase),
	}
	if state, ok := s.sessions[sessionID]; ok {
		snap.Messages = make([]types.Message, len(state.messages))
		copy(snap.Messages, state.messages)
		for _, msg := range state.messages {
			if phase, ok := s.lifecycle.Phase(msg.ID); ok {
				snap.Phases[msg.ID] = phase
			}
		}
	}
	queue := s.permissions[sessionID]
	snap.Permissions = make([]types.Permission, len(queue))
	copy(snap.Permissions, queue)
	return snap
}

func (s *Store) Lifecycle() *LifecycleTracker {
	return s.lifecycle
}

// removeMessageStateLocked drops every timer and tracking entry tied to a
// message id. Called on trim and eviction so stale ids cannot fire timers.
func (s *Store) removeMessageStateLocked(messageID string) {
	s.lifecycle.Remove(messageID)
	s.sched.Cancel(idleKey(messageID))
	delete(s.lastTextLen, messageID)
}

func idleKey(messageID string) string {
	return "idle:" + messageID
}

func flushKey(sessionID string) string {
	return "flush:" + sessionID
}
