package bridge

import (
	"time"

	"github.com/boringdata/termbridge/internal/logutil"
)

// historyFallbackDelay is how long after channel open the reconciler waits
// for server history before falling back to the local cache. Tests may
// override.
var historyFallbackDelay = 200 * time.Millisecond

// armHistoryFallback starts the local-cache fallback timer. No-op once a
// history source has been chosen for this activation; reconnects within an
// activation do not reset the race.
func (s *Session) armHistoryFallback() {
	s.mu.Lock()
	if s.disposed || s.historySource != HistoryNone {
		s.mu.Unlock()
		return
	}
	if s.historyTimer != nil {
		s.historyTimer.Stop()
	}
	s.historyTimer = time.AfterFunc(historyFallbackDelay, s.applyLocalHistory)
	s.mu.Unlock()
}

// applyServerHistory applies a server history frame. The server is
// authoritative and wins ties: the local cache is discarded for display and
// overwritten with the server's copy. Late frames after local history has
// applied are dropped.
func (s *Session) applyServerHistory(data string) {
	s.mu.Lock()
	if s.disposed || s.historySource != HistoryNone {
		s.mu.Unlock()
		return
	}
	s.historySource = HistoryServer
	if s.historyTimer != nil {
		s.historyTimer.Stop()
		s.historyTimer = nil
	}
	eng := s.opts.Engine
	id := s.id
	s.mu.Unlock()

	s.cache.Replace([]byte(data))
	s.persistCache()
	eng.Clear()
	eng.Write([]byte(data))
	logf("session %s: history applied from server (%d bytes)", logutil.SanitizeForLog(id), len(data))
}

// applyLocalHistory runs when the fallback timer fires first. An empty
// cache applies nothing and leaves the race open, so a server frame that
// arrives later can still win.
func (s *Session) applyLocalHistory() {
	s.mu.Lock()
	s.historyTimer = nil
	if s.disposed || s.historySource != HistoryNone {
		s.mu.Unlock()
		return
	}
	data := s.cache.Bytes()
	if len(data) == 0 {
		s.mu.Unlock()
		return
	}
	s.historySource = HistoryLocal
	eng := s.opts.Engine
	id := s.id
	s.mu.Unlock()

	eng.Write(data)
	logf("session %s: history applied from local cache (%d bytes)", logutil.SanitizeForLog(id), len(data))
}
