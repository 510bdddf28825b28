package bridge

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/boringdata/termbridge/internal/logutil"
	"github.com/boringdata/termbridge/internal/protocol"
)

// Reconnection policy. The delay is deliberately fixed rather than
// exponential; callers observe and depend on the timing. Tests may override.
var (
	reconnectDelay       = 500 * time.Millisecond
	maxReconnectAttempts = 10
	retryNoticeThreshold = 3
)

// staleSessionMarker is scanned for in output chunks: some backends report a
// dead resume target inline rather than with a session_not_found frame.
const staleSessionMarker = "No conversation found"

func logf(format string, args ...any) {
	log.Printf("[bridge] "+format, args...)
}

// connect opens the channel unless one attempt is already in flight. The
// dial runs off the event path; open and close outcomes are delivered back
// through handleOpen/handleClose.
func (s *Session) connect() {
	s.mu.Lock()
	if s.disposed || s.connecting || !s.shouldReconnect ||
		s.state == StateOpen || s.state == StateExhausted {
		s.mu.Unlock()
		return
	}
	s.connecting = true
	s.state = StateConnecting
	params := ConnectParams{
		SessionID:   s.id,
		Resume:      s.opts.Resume,
		ForceNew:    s.opts.ForceNew,
		Provider:    s.opts.Provider,
		SessionName: s.opts.SessionName,
	}
	dialer := s.opts.Dialer
	s.mu.Unlock()

	go func() {
		ch, err := dialer.Dial(context.Background(), params, ChannelEvents{
			OnMessage: s.handleMessage,
			OnClose:   s.handleClose,
		})
		if err != nil {
			s.handleClose(fmt.Errorf("dial: %w", err))
			return
		}
		s.handleOpen(ch)
	}()
}

// handleOpen installs the freshly opened channel. A teardown that raced the
// dial wins: the new channel is closed instead of stored, preserving the
// at-most-one-active-channel invariant.
func (s *Session) handleOpen(ch Channel) {
	s.mu.Lock()
	s.connecting = false
	if s.disposed || !s.shouldReconnect {
		s.mu.Unlock()
		ch.Close()
		return
	}
	s.channel = ch
	s.state = StateOpen
	s.retryCount = 0
	s.failureStreak = 0
	started := !s.startNotified
	s.startNotified = true
	id := s.id
	startedCb := s.opts.Callbacks.OnSessionStarted
	s.mu.Unlock()

	logf("session %s: channel open", logutil.SanitizeForLog(id))
	s.armHistoryFallback()
	s.sendResize()
	if started && startedCb != nil {
		startedCb()
	}
}

// handleClose runs for failed dials and for closes of an established
// channel. The teardown flag is checked before anything else so that a
// pending page-unload/dispose always suppresses the retry path.
func (s *Session) handleClose(err error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.connecting = false
	s.channel = nil

	if !s.shouldReconnect {
		s.state = StateIdle
		s.mu.Unlock()
		return
	}

	s.retryCount++
	s.failureStreak++
	id := s.id
	eng := s.opts.Engine

	if s.retryCount > maxReconnectAttempts {
		s.state = StateExhausted
		s.mu.Unlock()
		logf("session %s: giving up after %d attempts", logutil.SanitizeForLog(id), maxReconnectAttempts)
		eng.Write([]byte("\r\n\x1b[31mConnection lost. Start a new session to continue.\x1b[0m\r\n"))
		return
	}

	s.state = StateRetrying
	attempt := s.retryCount
	notice := s.failureStreak >= retryNoticeThreshold
	s.reconnectTimer = time.AfterFunc(reconnectDelay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		s.mu.Unlock()
		s.connect()
	})
	s.mu.Unlock()

	if err != nil {
		logf("session %s: channel down (attempt %d/%d): %v", logutil.SanitizeForLog(id), attempt, maxReconnectAttempts, err)
	} else {
		logf("session %s: channel closed (attempt %d/%d)", logutil.SanitizeForLog(id), attempt, maxReconnectAttempts)
	}
	if notice {
		eng.Write([]byte("\r\n\x1b[33mConnection lost, reconnecting…\x1b[0m\r\n"))
	}
}

// handleMessage dispatches one channel frame. Handler bodies are defensive:
// missing fields are treated as absence, and no error escapes.
func (s *Session) handleMessage(raw []byte) {
	f := protocol.Decode(raw)
	switch f.Type {
	case protocol.TypeHistory:
		s.applyServerHistory(f.Data)
	case protocol.TypeOutput:
		s.handleOutput(f.Data)
	case protocol.TypeSessionID:
		s.handleSessionID(f.SessionID)
	case protocol.TypeSessionNotFound:
		s.handleResumeMissing()
	case protocol.TypeError:
		s.opts.Engine.Write([]byte("\r\n\x1b[31m" + f.Data + "\x1b[0m\r\n"))
	case protocol.TypeExit:
		s.opts.Engine.Write([]byte(fmt.Sprintf("\r\n\x1b[90mProcess exited with code %s.\x1b[0m\r\n", f.ExitCode())))
	default:
		logf("ignoring frame with unknown type %q", logutil.SanitizeForLog(f.Type))
	}
}

// handleOutput appends a chunk to the scrollback cache, paints it, and
// forwards the raw bytes to the data callback. Output is not history: it is
// always written regardless of which history source won.
func (s *Session) handleOutput(data string) {
	if data == "" {
		return
	}
	s.cache.Append([]byte(data))
	s.persistCache()
	s.opts.Engine.Write([]byte(data))

	s.mu.Lock()
	dataCb := s.opts.Callbacks.OnData
	s.mu.Unlock()
	if dataCb != nil {
		dataCb(data)
	}

	if strings.Contains(data, staleSessionMarker) {
		s.handleResumeMissing()
	}
}

// handleSessionID adopts a server-assigned session id. Subsequent cache
// writes persist under the new id.
func (s *Session) handleSessionID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	if s.id == id {
		s.mu.Unlock()
		return
	}
	s.id = id
	cb := s.opts.Callbacks.OnSessionIDChanged
	s.mu.Unlock()

	logf("server assigned session id %s", logutil.SanitizeForLog(id))
	if cb != nil {
		cb(id)
	}
}

// handleResumeMissing reports a dead resume target: once per activation, an
// inline notice plus the callback, and only when this was a resume attempt.
func (s *Session) handleResumeMissing() {
	s.mu.Lock()
	if !s.opts.Resume || s.missingNotified {
		s.mu.Unlock()
		return
	}
	s.missingNotified = true
	cb := s.opts.Callbacks.OnResumeMissing
	eng := s.opts.Engine
	s.mu.Unlock()

	eng.Write([]byte("\r\n\x1b[33mPrevious session not found, starting fresh.\x1b[0m\r\n"))
	if cb != nil {
		cb()
	}
}
