package bridge

import "github.com/boringdata/termbridge/internal/protocol"

// onBoxChange handles surface box observer callbacks.
func (s *Session) onBoxChange() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active {
		s.sendResize()
	}
}

// onViewportResize handles host viewport resizes. Only relevant while the
// channel is open.
func (s *Session) onViewportResize() {
	s.mu.Lock()
	ok := s.active && s.state == StateOpen
	s.mu.Unlock()
	if ok {
		s.sendResize()
	}
}

// sendResize emits a resize intent. The emission is dropped silently, not
// queued, unless the session is active, the renderer has painted, the
// surface has nonzero dimensions, and the channel is open. The engine is
// re-fitted first so the reported cols/rows are accurate.
func (s *Session) sendResize() {
	s.mu.Lock()
	if !s.active || s.readiness != ReadinessPainted || s.state != StateOpen || s.channel == nil {
		s.mu.Unlock()
		return
	}
	w, h := s.opts.Surface.Size()
	if w <= 0 || h <= 0 {
		s.mu.Unlock()
		return
	}
	ch := s.channel
	eng := s.opts.Engine
	s.mu.Unlock()

	eng.FitResize()
	if err := ch.Send(protocol.EncodeResize(eng.Cols(), eng.Rows())); err != nil {
		logf("send resize: %v", err)
	}
}
