package bridge

import (
	"testing"
	"time"
)

func TestNewRequiresCollaborators(t *testing.T) {
	eng := newFakeEngine()
	sf := newFakeSurface()
	d := &fakeDialer{}

	if _, err := New(Options{Surface: sf, Dialer: d}); err == nil {
		t.Error("New without engine did not fail")
	}
	if _, err := New(Options{Engine: eng, Dialer: d}); err == nil {
		t.Error("New without surface did not fail")
	}
	if _, err := New(Options{Engine: eng, Surface: sf}); err == nil {
		t.Error("New without dialer did not fail")
	}
	if _, err := New(Options{Engine: eng, Surface: sf, Dialer: d}); err != nil {
		t.Errorf("New with all collaborators failed: %v", err)
	}
}

func TestCacheLoadedSynchronouslyAtConstruction(t *testing.T) {
	store := newFakeStore()
	store.Save("sess-1", []byte("previous output"))

	s, err := New(Options{
		SessionID: "sess-1",
		Engine:    newFakeEngine(),
		Surface:   newFakeSurface(),
		Dialer:    &fakeDialer{},
		Cache:     store,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Dispose()

	if got := string(s.CacheBytes()); got != "previous output" {
		t.Errorf("cache at construction = %q", got)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	shortTimers(t)
	h := newHarness(t, nil)
	h.open(t)

	h.session.Dispose()
	h.session.Dispose()

	if got := h.engine.disposed(); got != 1 {
		t.Errorf("engine disposed %d times, want exactly once", got)
	}
}

func TestDisposeClosesChannelAndEngine(t *testing.T) {
	shortTimers(t)
	h := newHarness(t, nil)
	h.open(t)
	ch := h.dialer.lastChannel()

	h.session.Dispose()

	if !ch.isClosed() {
		t.Error("channel not closed on dispose")
	}
	if h.engine.disposed() != 1 {
		t.Error("engine not disposed")
	}
	if h.session.State() != StateIdle {
		t.Errorf("state after dispose = %v", h.session.State())
	}
}

func TestDisposeDisconnectsObservers(t *testing.T) {
	shortTimers(t)
	h := newHarness(t, nil)
	ch := ready(t, h)
	before := len(ch.sentFrames())

	h.session.Dispose()

	// Observer triggers after dispose must have zero side effects. The
	// fakes nil their callbacks on cancel, so a live callback here means
	// a leaked registration.
	h.surface.triggerBox()
	h.env.triggerViewportResize()
	h.engine.typed("stale keystrokes\r")
	h.engine.paint()
	time.Sleep(10 * time.Millisecond)

	if got := len(ch.sentFrames()); got != before {
		t.Errorf("side effects after dispose: %d -> %d frames", before, got)
	}

	h.surface.mu.Lock()
	boxFn := h.surface.boxFn
	h.surface.mu.Unlock()
	if boxFn != nil {
		t.Error("surface observer still registered after dispose")
	}
	h.env.mu.Lock()
	vpFn := h.env.viewportFn
	h.env.mu.Unlock()
	if vpFn != nil {
		t.Error("viewport observer still registered after dispose")
	}
	h.engine.mu.Lock()
	dataFn := h.engine.dataFn
	h.engine.mu.Unlock()
	if dataFn != nil {
		t.Error("engine data listener still registered after dispose")
	}
}

func TestDisposeBeforeAttachIsSafe(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Dispose()
	h.session.Attach()

	time.Sleep(20 * time.Millisecond)
	if h.engine.isOpened() {
		t.Error("disposed session attached its engine")
	}
	if h.dialer.dials() != 0 {
		t.Error("disposed session dialed")
	}
}

func TestAttachIsIdempotent(t *testing.T) {
	shortTimers(t)
	h := newHarness(t, nil)
	h.open(t)
	h.session.Attach()

	time.Sleep(20 * time.Millisecond)
	if got := h.dialer.dials(); got != 1 {
		t.Errorf("second Attach dialed again: %d dials", got)
	}
}
