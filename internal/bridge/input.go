package bridge

import (
	"strings"

	"github.com/boringdata/termbridge/internal/protocol"
)

// onEngineData forwards every keystroke/paste chunk from the engine to the
// channel. If the channel is not open the chunk is dropped; there is no
// local input queue. The first-prompt scan runs on the same bytes but never
// blocks or alters the forwarded stream.
func (s *Session) onEngineData(data string) {
	s.mu.Lock()
	ch := s.channel
	open := s.state == StateOpen
	s.mu.Unlock()

	if open && ch != nil {
		if err := ch.Send(protocol.EncodeInput(data)); err != nil {
			logf("send input: %v", err)
		}
	}

	s.scanPrompt(data)
}

func (s *Session) scanPrompt(data string) {
	s.mu.Lock()
	line, fire := s.prompt.feed(data)
	cb := s.opts.Callbacks.OnFirstPrompt
	s.mu.Unlock()

	if fire && cb != nil {
		cb(line)
	}
}

const (
	escNone = iota
	escIntro  // saw ESC, next byte decides the sequence kind
	escCSI    // inside ESC [ ... parameters
	escOSC    // inside ESC ] ... string payload
	escOSCEnd // saw ESC inside an OSC payload, expecting ST terminator
)

// promptScanner accumulates typed characters into a line buffer, stripping
// ANSI control sequences, to detect the first completed non-empty input
// line of an activation. Best effort: it sees the keystroke stream, not the
// shell's editing state.
type promptScanner struct {
	buf   []rune
	esc   int
	fired bool
}

// feed consumes a keystroke chunk. It returns the completed line and true
// exactly once: the first time a carriage return or newline flushes a
// non-empty buffer. The buffer resets on every flush regardless.
func (p *promptScanner) feed(data string) (string, bool) {
	var line string
	var fire bool
	for _, r := range data {
		switch p.esc {
		case escIntro:
			switch r {
			case '[':
				p.esc = escCSI
			case ']':
				p.esc = escOSC
			default:
				// Two-byte escape; the introducer byte ends it.
				p.esc = escNone
			}
		case escCSI:
			// Final bytes of a CSI sequence are 0x40-0x7E.
			if r >= 0x40 && r <= 0x7e {
				p.esc = escNone
			}
		case escOSC:
			if r == 0x07 {
				p.esc = escNone
			} else if r == 0x1b {
				p.esc = escOSCEnd
			}
		case escOSCEnd:
			if r == '\\' {
				p.esc = escNone
			} else {
				p.esc = escOSC
			}
		default:
			switch {
			case r == 0x1b:
				p.esc = escIntro
			case r == '\r' || r == '\n':
				trimmed := strings.TrimSpace(string(p.buf))
				p.buf = p.buf[:0]
				if trimmed != "" && !p.fired {
					p.fired = true
					line = trimmed
					fire = true
				}
			case r == 0x7f || r == 0x08:
				if len(p.buf) > 0 {
					p.buf = p.buf[:len(p.buf)-1]
				}
			case r >= 0x20:
				p.buf = append(p.buf, r)
			}
			// Remaining control characters are ignored.
		}
	}
	return line, fire
}
