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

type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StatePaused       ConnectionState = "paused"
	StateOffline      ConnectionState = "offline"
)

// Source is the transport surface the controller consumes: a single event
// subscription plus a health probe for the staleness watchdog.
type Source interface {
	Subscribe(ctx context.Context) (<-chan types.StreamEvent, func(), error)
	Health(ctx context.Context) error
}

// SessionAPI fetches session metadata during resync.
type SessionAPI interface {
	SessionInfo(ctx context.Context, sessionID string) (types.Session, error)
}

// Controller owns exactly one stream subscription at a time and feeds its
// events into the message store. It reconnects with backoff, pauses while
// the UI is hidden or the network is down, and resyncs after every pause.
type Controller struct {
	source  Source
	api     SessionAPI
	store   *messages.Store
	log     logging.Logger
	tuning  config.TuningConfig
	backoff *Backoff
	sched   messages.Scheduler
	onDone  func(sessionID, messageID string)

	mu            sync.Mutex
	state         ConnectionState
	visible       bool
	online        bool
	cancelSub     func()
	wake          chan struct{}
	stopped       bool
	lastCompleted map[string]string
}

type ControllerOption func(*Controller)

func WithScheduler(sched messages.Scheduler) ControllerOption {
	return func(c *Controller) {
		if sched != nil {
			c.sched = sched
		}
	}
}

// WithCompletionHook registers a callback fired once per completed turn,
// deduplicated by message id.
func WithCompletionHook(fn func(sessionID, messageID string)) ControllerOption {
	return func(c *Controller) {
		c.onDone = fn
	}
}

func NewController(source Source, api SessionAPI, store *messages.Store, tuning config.TuningConfig, log logging.Logger, opts ...ControllerOption) *Controller {
	if log == nil {
		log = logging.Nop()
	}
	c := &Controller{
		source:  source,
		api:     api,
		store:   store,
		log:     log,
		tuning:  tuning,
		backoff: NewBackoff(tuning.BackoffFastCap(), tuning.BackoffSlowCap()),
		sched:   messages.NewTimerScheduler(),
		state:   StateIdle,
		visible: true,
		online:  true,
		wake:    make(chan struct{}, 1),

		lastCompleted: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(state ConnectionState) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()
	if changed {
		c.log.Debug("stream state", logging.F("state", string(state)))
	}
}

func (c *Controller) wakeLoop() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// SetVisible gates the connection on UI visibility. Hiding tears the stream
// down; becoming visible again triggers a soft refresh before reconnecting.
func (c *Controller) SetVisible(ctx context.Context, visible bool) {
	c.mu.Lock()
	was := c.visible
	c.visible = visible
	cancel := c.cancelSub
	c.mu.Unlock()
	if was == visible {
		return
	}
	if !visible {
		if cancel != nil {
			cancel()
		}
		c.setState(StatePaused)
		return
	}
	c.SoftRefresh(ctx)
	c.wakeLoop()
}

// SetOnline gates the connection on network reachability.
func (c *Controller) SetOnline(online bool) {
	c.mu.Lock()
	was := c.online
	c.online = online
	cancel := c.cancelSub
	c.mu.Unlock()
	if was == online {
		return
	}
	if !online {
		if cancel != nil {
			cancel()
		}
		c.setState(StateOffline)
		return
	}
	c.backoff.Reset()
	c.wakeLoop()
}

func (c *Controller) shouldConnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible && c.online && !c.stopped
}

// SoftRefresh re-fetches the focused session's history and metadata. Server
// progress made while disconnected must not be lost, so this runs before any
// reconnect after a pause.
func (c *Controller) SoftRefresh(ctx context.Context) {
	sessionID := c.store.Focused()
	if sessionID == "" {
		return
	}
	if err := c.store.LoadMessages(ctx, sessionID); err != nil {
		c.log.Warn("soft refresh load failed", logging.F("session", sessionID), logging.F("error", err))
	}
	if c.api != nil {
		if session, err := c.api.SessionInfo(ctx, sessionID); err == nil {
			c.store.UpdateSessionInfo(session)
		}
	}
}

// Start runs the connection loop until the context is cancelled.
func (c *Controller) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel := c.cancelSub
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.sched.CancelAll()
	c.wakeLoop()
	c.setState(StateIdle)
}

func (c *Controller) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
		if !c.shouldConnect() {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
			}
			continue
		}

		if c.backoff.Attempts() == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}
		events, cancel, err := c.source.Subscribe(ctx)
		if err != nil {
			delay := c.backoff.Next()
			c.log.Warn("stream connect failed",
				logging.F("error", err), logging.F("retry_in", delay))
			c.setState(StateReconnecting)
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
			case <-time.After(delay):
			}
			continue
		}

		// Starting a new subscription always tears down the previous one.
		c.mu.Lock()
		if c.cancelSub != nil {
			c.cancelSub()
		}
		c.cancelSub = cancel
		c.mu.Unlock()
		c.backoff.Reset()
		c.setState(StateConnected)
		c.armWatchdog(ctx, cancel)

		for event := range events {
			c.armWatchdog(ctx, cancel)
			c.handleEvent(ctx, event)
		}

		c.sched.Cancel(watchdogKey)
		c.mu.Lock()
		if c.cancelSub != nil {
			c.cancelSub()
			c.cancelSub = nil
		}
		c.mu.Unlock()

		if !c.shouldConnect() {
			continue
		}
		c.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-time.After(c.backoff.Next()):
		}
	}
}

const watchdogKey = "watchdog"

// armWatchdog schedules the staleness probe. A silent connection past the
// threshold gets a health check; an unhealthy server forces a reconnect by
// cancelling the live subscription.
func (c *Controller) armWatchdog(ctx context.Context, cancel func()) {
	c.sched.Schedule(watchdogKey, c.tuning.Staleness(), func() {
		if !c.shouldConnect() {
			return
		}
		if err := c.source.Health(ctx); err != nil {
			c.log.Warn("stale stream failed health probe", logging.F("error", err))
			cancel()
			return
		}
		// Healthy but quiet; keep watching.
		c.armWatchdog(ctx, cancel)
	})
}
