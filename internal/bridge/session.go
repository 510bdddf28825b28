package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/boringdata/termbridge/internal/scrollback"
)

// Options configures a Session.
type Options struct {
	// SessionID identifies the remote session. May be empty for a fresh
	// session; the server then assigns one via a session_id frame.
	SessionID   string
	Provider    ProviderKind
	Resume      bool
	ForceNew    bool
	SessionName string

	Dialer  Dialer
	Engine  Engine
	Surface Surface
	Env     Environment

	// Cache persists scrollback across activations. Nil disables
	// persistence; the in-memory buffer still applies.
	Cache CacheStore
	// CacheCap bounds the scrollback in bytes. Zero means the default.
	CacheCap int

	Callbacks Callbacks
}

// Session is one activation of the terminal bridge: from Attach to Dispose.
// All mutable state lives here and is guarded by mu; every callback (channel
// events, timers, observers) operates on this struct rather than on captured
// snapshots, so re-entrant events always see current state.
type Session struct {
	mu   sync.Mutex
	id   string
	opts Options

	// connection
	state           ConnState
	channel         Channel
	connecting      bool
	shouldReconnect bool
	retryCount      int
	failureStreak   int
	startNotified   bool
	missingNotified bool
	reconnectTimer  *time.Timer

	// renderer readiness
	readiness    Readiness
	paintDone    bool
	attachTimer  *time.Timer
	renderTimer  *time.Timer
	cancelRender func()

	// history reconciliation
	historySource HistorySource
	historyTimer  *time.Timer

	cache *scrollback.Buffer

	// prompt detection
	prompt promptScanner

	active   bool
	disposed bool
	cancels  []func()
}

// New creates a session and synchronously loads any cached scrollback for
// its id. The session does nothing until Attach is called.
func New(opts Options) (*Session, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("bridge: Engine is required")
	}
	if opts.Surface == nil {
		return nil, fmt.Errorf("bridge: Surface is required")
	}
	if opts.Dialer == nil {
		return nil, fmt.Errorf("bridge: Dialer is required")
	}
	if opts.Provider == "" {
		opts.Provider = ProviderShell
	}

	s := &Session{
		id:    opts.SessionID,
		opts:  opts,
		cache: scrollback.NewBuffer(opts.CacheCap),
	}
	if opts.Cache != nil && opts.SessionID != "" {
		if data := opts.Cache.Load(opts.SessionID); len(data) > 0 {
			s.cache.Replace(data)
		}
	}
	return s, nil
}

// Attach activates the session: it registers environment observers and
// starts the renderer attach loop, which opens the channel once the engine
// is attached. Attach is idempotent.
func (s *Session) Attach() {
	s.mu.Lock()
	if s.active || s.disposed {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.shouldReconnect = true
	if s.opts.Env != nil {
		s.cancels = append(s.cancels,
			s.opts.Env.OnViewportResize(s.onViewportResize),
			s.opts.Env.OnBeforeTeardown(s.onBeforeTeardown))
	}
	s.mu.Unlock()

	s.pollAttach()
}

// onBeforeTeardown disables reconnection and closes the channel ahead of
// host teardown. This must win against any pending reconnect timer, so the
// flag flips before the channel is touched.
func (s *Session) onBeforeTeardown() {
	s.mu.Lock()
	s.shouldReconnect = false
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
}

// Dispose tears the session down: reconnection is disabled, pending timers
// are cleared, observers disconnected, the channel closed, and the engine
// handle disposed, in that order. Dispose is idempotent.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.active = false
	s.shouldReconnect = false

	for _, tm := range []*time.Timer{s.reconnectTimer, s.attachTimer, s.renderTimer, s.historyTimer} {
		if tm != nil {
			tm.Stop()
		}
	}
	s.reconnectTimer, s.attachTimer, s.renderTimer, s.historyTimer = nil, nil, nil, nil
	if s.cancelRender != nil {
		s.cancelRender()
		s.cancelRender = nil
	}

	cancels := s.cancels
	s.cancels = nil
	ch := s.channel
	s.channel = nil
	s.state = StateIdle
	eng := s.opts.Engine
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if ch != nil {
		ch.Close()
	}
	eng.Dispose()
}

// ID returns the current session id, which may change when the server
// assigns one.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HistorySource returns which source won the history race, if any.
func (s *Session) HistorySource() HistorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historySource
}

// Readiness returns the renderer readiness state.
func (s *Session) Readiness() Readiness {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readiness
}

// CacheBytes returns a copy of the in-memory scrollback.
func (s *Session) CacheBytes() []byte {
	return s.cache.Bytes()
}

// persistCache writes the current scrollback snapshot under the current
// session id. Callers must not hold mu.
func (s *Session) persistCache() {
	s.mu.Lock()
	store := s.opts.Cache
	id := s.id
	s.mu.Unlock()
	if store == nil || id == "" {
		return
	}
	if err := store.Save(id, s.cache.Bytes()); err != nil {
		logf("persist scrollback for %s: %v", id, err)
	}
}
