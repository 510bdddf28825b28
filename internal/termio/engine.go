// Package termio adapts the process's controlling terminal to the rendering
// and host interfaces the bridge core expects: stdout is the display, stdin
// in raw mode is the keystroke source, and SIGWINCH/termination signals are
// the host events.
package termio

import (
	"log"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/boringdata/termbridge/internal/bridge"
)

const clearSequence = "\x1b[2J\x1b[3J\x1b[H"

// Engine renders remote output to a local terminal and captures keystrokes.
// It implements bridge.Engine.
type Engine struct {
	in  *os.File
	out *os.File

	mu        sync.Mutex
	opened    bool
	disposed  bool
	raw       *term.State
	cols      int
	rows      int
	pending   [][]byte
	nextID    int
	dataFns   map[int]func(string)
	renderFns map[int]func()
}

// NewEngine creates an engine over the given terminal files, normally
// os.Stdin and os.Stdout.
func NewEngine(in, out *os.File) *Engine {
	return &Engine{
		in:        in,
		out:       out,
		cols:      80,
		rows:      24,
		dataFns:   make(map[int]func(string)),
		renderFns: make(map[int]func()),
	}
}

// Open switches the input terminal to raw mode and starts the keystroke
// reader. Output written before Open is flushed in order.
func (e *Engine) Open(_ bridge.Surface) {
	e.mu.Lock()
	if e.opened || e.disposed {
		e.mu.Unlock()
		return
	}
	e.opened = true
	if fd := int(e.in.Fd()); term.IsTerminal(fd) {
		st, err := term.MakeRaw(fd)
		if err != nil {
			log.Printf("[termio] raw mode unavailable: %v", err)
		} else {
			e.raw = st
		}
	}
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	e.FitResize()
	for _, p := range pending {
		e.out.Write(p)
	}
	go e.readLoop()
	if len(pending) > 0 {
		e.notifyRender()
	}
}

// Write sends output bytes to the display. Before Open the bytes are
// buffered and flushed when the engine opens.
func (e *Engine) Write(p []byte) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	if !e.opened {
		cp := make([]byte, len(p))
		copy(cp, p)
		e.pending = append(e.pending, cp)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.out.Write(p)
	e.notifyRender()
}

// Clear erases the display, scrollback included.
func (e *Engine) Clear() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	if !e.opened {
		e.pending = nil
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.out.Write([]byte(clearSequence))
}

// OnData registers a keystroke listener.
func (e *Engine) OnData(fn func(data string)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.dataFns[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.dataFns, id)
	}
}

// OnRender registers a paint listener. The terminal has no compositor, so
// a paint signal is emitted after each flushed write.
func (e *Engine) OnRender(fn func()) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.renderFns[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.renderFns, id)
	}
}

// FitResize refreshes the cached grid size from the output terminal.
func (e *Engine) FitResize() {
	if fd := int(e.out.Fd()); term.IsTerminal(fd) {
		if cols, rows, err := term.GetSize(fd); err == nil {
			e.mu.Lock()
			e.cols, e.rows = cols, rows
			e.mu.Unlock()
		}
	}
}

// Focus is a no-op: a foreground terminal already owns keyboard input.
func (e *Engine) Focus() {}

func (e *Engine) Cols() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cols
}

func (e *Engine) Rows() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rows
}

// Dispose restores the terminal mode and drops all listeners.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	raw := e.raw
	e.raw = nil
	e.dataFns = make(map[int]func(string))
	e.renderFns = make(map[int]func())
	e.mu.Unlock()

	if raw != nil {
		term.Restore(int(e.in.Fd()), raw)
		e.out.Write([]byte("\r\n"))
	}
}

func (e *Engine) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := e.in.Read(buf)
		if n > 0 {
			data := string(buf[:n])
			for _, fn := range e.snapshotDataFns() {
				fn(data)
			}
		}
		if err != nil {
			return
		}
		e.mu.Lock()
		done := e.disposed
		e.mu.Unlock()
		if done {
			return
		}
	}
}

func (e *Engine) snapshotDataFns() []func(string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fns := make([]func(string), 0, len(e.dataFns))
	for _, fn := range e.dataFns {
		fns = append(fns, fn)
	}
	return fns
}

func (e *Engine) notifyRender() {
	e.mu.Lock()
	fns := make([]func(), 0, len(e.renderFns))
	for _, fn := range e.renderFns {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
