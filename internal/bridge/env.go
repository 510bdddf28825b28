// Package bridge keeps a local terminal rendering engine synchronized with a
// remote pseudo-terminal process across an unreliable, reconnecting channel.
//
// A Session owns the channel, the renderer handle, and a persistent
// scrollback cache. Sub-concerns (connection lifecycle, renderer readiness,
// history reconciliation, resize synchronization, input forwarding) are
// driven entirely by callbacks and timers; there is no blocking wait
// anywhere in the core.
package bridge

import "context"

// ProviderKind selects which kind of backend session the channel attaches to.
type ProviderKind string

const (
	ProviderAgent ProviderKind = "agent"
	ProviderShell ProviderKind = "shell"
)

// ConnState is the connection lifecycle state of a session.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateRetrying
	StateExhausted
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRetrying:
		return "retrying"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// HistorySource records which side won the history race for this activation.
type HistorySource int

const (
	HistoryNone HistorySource = iota
	HistoryServer
	HistoryLocal
)

func (h HistorySource) String() string {
	switch h {
	case HistoryServer:
		return "server"
	case HistoryLocal:
		return "local"
	}
	return "none"
}

// Readiness is the renderer attachment state. Resize and focus are only
// issued once ReadinessPainted is reached; writes before that point are
// buffered by the engine, not dropped.
type Readiness int

const (
	ReadinessUnattached Readiness = iota
	ReadinessAttached
	ReadinessPainted
)

// Engine is the external terminal-rendering and keystroke-capture component.
// The session owns its engine handle for its lifetime and disposes it
// exactly once.
type Engine interface {
	// Open attaches the engine to its display surface.
	Open(s Surface)
	// Write feeds output bytes to the display. Writes before the first
	// paint are buffered by the engine.
	Write(p []byte)
	// Clear resets the engine's display buffer.
	Clear()
	// OnData registers a keystroke/paste listener. The returned function
	// unregisters it.
	OnData(fn func(data string)) (cancel func())
	// OnRender registers a paint listener. The returned function
	// unregisters it. Paint signals are not guaranteed to fire in all
	// embedding contexts.
	OnRender(fn func()) (cancel func())
	// FitResize fits the engine grid to its surface.
	FitResize()
	// Focus directs keyboard input to the engine.
	Focus()
	// Cols and Rows report the current grid size.
	Cols() int
	Rows() int
	// Dispose releases the engine.
	Dispose()
}

// Surface is the container the engine renders into.
type Surface interface {
	// Attached reports whether the surface is connected to a visible
	// display tree.
	Attached() bool
	// Hidden reports whether the surface is hidden via styling even
	// though it is attached.
	Hidden() bool
	// Size returns the surface dimensions in device units.
	Size() (width, height int)
	// OnBoxChange registers a listener for surface box changes.
	OnBoxChange(fn func()) (cancel func())
}

// Environment abstracts ambient host signals so the core is testable
// without a real display host.
type Environment interface {
	// OnViewportResize registers a listener for host viewport resizes.
	OnViewportResize(fn func()) (cancel func())
	// OnBeforeTeardown registers a listener invoked just before the host
	// tears the session down (e.g. process shutdown). Reconnection must
	// be disabled before any pending timers fire.
	OnBeforeTeardown(fn func()) (cancel func())
}

// Channel is an open duplex message transport to the remote PTY endpoint.
type Channel interface {
	Send(data []byte) error
	Close() error
}

// ChannelEvents carries the callbacks a Dialer wires into the channel it
// opens. OnClose fires exactly once, for both clean and errored shutdown.
type ChannelEvents struct {
	OnMessage func(data []byte)
	OnClose   func(err error)
}

// ConnectParams are the session parameters encoded into the connection URL.
type ConnectParams struct {
	SessionID   string
	Resume      bool
	ForceNew    bool
	Provider    ProviderKind
	SessionName string
}

// Dialer opens a channel for the given parameters. Dial blocks until the
// handshake completes or fails.
type Dialer interface {
	Dial(ctx context.Context, params ConnectParams, ev ChannelEvents) (Channel, error)
}

// CacheStore persists scrollback across activations of the same session id.
type CacheStore interface {
	Load(sessionID string) []byte
	Save(sessionID string, data []byte) error
}

// Callbacks are the optional hooks a caller can attach to a session. All
// fields may be nil.
type Callbacks struct {
	// OnData receives every raw output chunk from the channel.
	OnData func(chunk string)
	// OnSessionStarted fires once per activation, on the first successful
	// channel open.
	OnSessionStarted func()
	// OnSessionIDChanged fires when the server assigns a new session id.
	OnSessionIDChanged func(id string)
	// OnResumeMissing fires once per activation when a resume attempt
	// targets a session the server no longer has.
	OnResumeMissing func()
	// OnFirstPrompt fires once per activation with the first completed
	// non-empty input line. Advisory only.
	OnFirstPrompt func(line string)
}
