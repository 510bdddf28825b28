package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// shortTimers shrinks the package timing knobs for the duration of a test.
func shortTimers(t *testing.T) {
	t.Helper()
	oldReconnect := reconnectDelay
	oldAttach := attachPollInterval
	oldRender := renderFallbackDelay
	oldHistory := historyFallbackDelay
	reconnectDelay = 5 * time.Millisecond
	attachPollInterval = 2 * time.Millisecond
	renderFallbackDelay = 5 * time.Millisecond
	historyFallbackDelay = 15 * time.Millisecond
	t.Cleanup(func() {
		reconnectDelay = oldReconnect
		attachPollInterval = oldAttach
		renderFallbackDelay = oldRender
		historyFallbackDelay = oldHistory
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeEngine struct {
	mu       sync.Mutex
	opened   bool
	writes   []string
	clears   int
	fits     int
	focuses  int
	disposes int
	cols     int
	rows     int
	dataFn   func(string)
	renderFn func()
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{cols: 80, rows: 24}
}

func (e *fakeEngine) Open(Surface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = true
}

func (e *fakeEngine) Write(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writes = append(e.writes, string(p))
}

func (e *fakeEngine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clears++
}

func (e *fakeEngine) OnData(fn func(string)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dataFn = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.dataFn = nil
	}
}

func (e *fakeEngine) OnRender(fn func()) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renderFn = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.renderFn = nil
	}
}

func (e *fakeEngine) FitResize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fits++
}

func (e *fakeEngine) Focus() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.focuses++
}

func (e *fakeEngine) Cols() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cols
}

func (e *fakeEngine) Rows() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rows
}

func (e *fakeEngine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposes++
}

func (e *fakeEngine) output() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.writes, "")
}

func (e *fakeEngine) clearCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clears
}

func (e *fakeEngine) writeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.writes)
}

func (e *fakeEngine) isOpened() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

func (e *fakeEngine) disposed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposes
}

func (e *fakeEngine) fitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fits
}

// typed simulates the user typing into the engine.
func (e *fakeEngine) typed(data string) {
	e.mu.Lock()
	fn := e.dataFn
	e.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// paint simulates the engine's first-paint signal.
func (e *fakeEngine) paint() {
	e.mu.Lock()
	fn := e.renderFn
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeSurface struct {
	mu       sync.Mutex
	attached bool
	hidden   bool
	w, h     int
	boxFn    func()
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{attached: true, w: 640, h: 480}
}

func (f *fakeSurface) Attached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

func (f *fakeSurface) Hidden() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hidden
}

func (f *fakeSurface) Size() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w, f.h
}

func (f *fakeSurface) OnBoxChange(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boxFn = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.boxFn = nil
	}
}

func (f *fakeSurface) setVisible(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden = !v
}

func (f *fakeSurface) setSize(w, h int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.w, f.h = w, h
}

func (f *fakeSurface) triggerBox() {
	f.mu.Lock()
	fn := f.boxFn
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeEnv struct {
	mu         sync.Mutex
	viewportFn func()
	teardownFn func()
}

func (f *fakeEnv) OnViewportResize(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewportFn = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.viewportFn = nil
	}
}

func (f *fakeEnv) OnBeforeTeardown(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardownFn = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.teardownFn = nil
	}
}

func (f *fakeEnv) triggerViewportResize() {
	f.mu.Lock()
	fn := f.viewportFn
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeEnv) triggerTeardown() {
	f.mu.Lock()
	fn := f.teardownFn
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeChannel struct {
	mu     sync.Mutex
	sent   []string
	closed bool
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("channel closed")
	}
	c.sent = append(c.sent, string(data))
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) sentFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out fakeChannels and records the events wired into each,
// so tests can inject server frames and closes. The first failFirst dials
// are refused. When gate is non-nil every dial blocks on it first.
type fakeDialer struct {
	mu        sync.Mutex
	failFirst int
	gate      chan struct{}
	dialCount int
	params    []ConnectParams
	chans     []*fakeChannel
	events    []ChannelEvents
}

func (d *fakeDialer) Dial(ctx context.Context, params ConnectParams, ev ChannelEvents) (Channel, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialCount++
	d.params = append(d.params, params)
	if d.dialCount <= d.failFirst {
		return nil, errors.New("connection refused")
	}
	ch := &fakeChannel{}
	d.chans = append(d.chans, ch)
	d.events = append(d.events, ev)
	return ch, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

func (d *fakeDialer) lastChannel() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.chans) == 0 {
		return nil
	}
	return d.chans[len(d.chans)-1]
}

func (d *fakeDialer) lastEvents() (ChannelEvents, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.events) == 0 {
		return ChannelEvents{}, false
	}
	return d.events[len(d.events)-1], true
}

func (d *fakeDialer) lastParams() (ConnectParams, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.params) == 0 {
		return ConnectParams{}, false
	}
	return d.params[len(d.params)-1], true
}

// fakeStore is an in-memory CacheStore.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string][]byte)}
}

func (s *fakeStore) Load(sessionID string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[sessionID]
}

func (s *fakeStore) Save(sessionID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.entries[sessionID] = cp
	return nil
}

func (s *fakeStore) get(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.entries[sessionID])
}

// harness bundles the fakes behind a ready-to-attach session.
type harness struct {
	engine  *fakeEngine
	surface *fakeSurface
	env     *fakeEnv
	dialer  *fakeDialer
	store   *fakeStore
	session *Session
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		engine:  newFakeEngine(),
		surface: newFakeSurface(),
		env:     &fakeEnv{},
		dialer:  &fakeDialer{},
		store:   newFakeStore(),
	}
	opts := Options{
		SessionID: "sess-1",
		Provider:  ProviderShell,
		Dialer:    h.dialer,
		Engine:    h.engine,
		Surface:   h.surface,
		Env:       h.env,
		Cache:     h.store,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.session = s
	t.Cleanup(s.Dispose)
	return h
}

// open attaches the session and waits for the channel to come up.
func (h *harness) open(t *testing.T) ChannelEvents {
	t.Helper()
	h.session.Attach()
	waitFor(t, "channel open", func() bool { return h.session.State() == StateOpen })
	ev, ok := h.dialer.lastEvents()
	if !ok {
		t.Fatal("no channel events recorded")
	}
	return ev
}
