package bridge

import (
	"time"

	"github.com/boringdata/termbridge/internal/logutil"
)

// Renderer readiness timing. The attach loop polls because the surface may
// not be visible or sized yet; the paint fallback exists because engine
// paint signals are not guaranteed to fire in every embedding context (a
// surface briefly hidden then shown, or a headless host). Tests may
// override.
var (
	attachPollInterval  = 60 * time.Millisecond
	renderFallbackDelay = 120 * time.Millisecond
)

// canAttach reports whether the surface is ready to host the engine:
// attached to a visible tree, not hidden, and nonzero in both dimensions.
func canAttach(sf Surface) bool {
	if !sf.Attached() || sf.Hidden() {
		return false
	}
	w, h := sf.Size()
	return w > 0 && h > 0
}

// pollAttach retries engine attachment on a short interval until the
// surface passes the visibility check or the session is torn down.
// Attachment failure is never surfaced to the user.
func (s *Session) pollAttach() {
	s.mu.Lock()
	if s.disposed || !s.active {
		s.mu.Unlock()
		return
	}
	if !canAttach(s.opts.Surface) {
		s.attachTimer = time.AfterFunc(attachPollInterval, s.pollAttach)
		s.mu.Unlock()
		return
	}
	s.attachTimer = nil
	s.readiness = ReadinessAttached
	eng := s.opts.Engine
	sf := s.opts.Surface
	s.mu.Unlock()

	eng.Open(sf)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	// Input interceptor: every keystroke goes to the channel.
	s.cancels = append(s.cancels, eng.OnData(s.onEngineData))
	// Surface box observer feeds the resize synchronizer.
	s.cancels = append(s.cancels, sf.OnBoxChange(s.onBoxChange))
	// First-paint race: a one-shot paint observer against a fallback
	// timer. Whichever fires first finalizes readiness and cancels the
	// other.
	s.cancelRender = eng.OnRender(func() { s.finalizeReadiness("paint") })
	s.renderTimer = time.AfterFunc(renderFallbackDelay, func() { s.finalizeReadiness("fallback") })
	s.mu.Unlock()

	// Renderer attached; open the channel.
	s.connect()
}

// finalizeReadiness resolves the paint race exactly once: fit the engine to
// the surface, focus it if the session is active, and flush a resize.
func (s *Session) finalizeReadiness(via string) {
	s.mu.Lock()
	if s.paintDone || s.disposed {
		s.mu.Unlock()
		return
	}
	s.paintDone = true
	s.readiness = ReadinessPainted
	if s.renderTimer != nil {
		s.renderTimer.Stop()
		s.renderTimer = nil
	}
	if s.cancelRender != nil {
		s.cancelRender()
		s.cancelRender = nil
	}
	active := s.active
	eng := s.opts.Engine
	id := s.id
	s.mu.Unlock()

	logf("session %s: renderer ready (%s)", logutil.SanitizeForLog(id), via)
	eng.FitResize()
	if active {
		eng.Focus()
	}
	s.sendResize()
}
