package termio

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"
)

// Console reports terminal geometry and relays host signals to the bridge.
// It implements bridge.Surface and bridge.Environment: window size changes
// arrive as SIGWINCH, teardown as SIGTERM/SIGINT/SIGHUP.
type Console struct {
	out *os.File

	mu      sync.Mutex
	nextID  int
	boxFns  map[int]func()
	viewFns map[int]func()
	downFns map[int]func()

	pumpOnce sync.Once
	stop     chan struct{}
}

// NewConsole creates a Console over the given output terminal, normally
// os.Stdout.
func NewConsole(out *os.File) *Console {
	return &Console{
		out:     out,
		boxFns:  make(map[int]func()),
		viewFns: make(map[int]func()),
		downFns: make(map[int]func()),
		stop:    make(chan struct{}),
	}
}

// Attached reports whether the output is a real terminal.
func (c *Console) Attached() bool {
	return term.IsTerminal(int(c.out.Fd()))
}

// Hidden always reports false: a controlling terminal is never styled away.
func (c *Console) Hidden() bool { return false }

// Size returns the terminal dimensions, or zeros when the output is not a
// terminal.
func (c *Console) Size() (width, height int) {
	w, h, err := term.GetSize(int(c.out.Fd()))
	if err != nil {
		return 0, 0
	}
	return w, h
}

// OnBoxChange registers a listener for terminal window size changes.
func (c *Console) OnBoxChange(fn func()) (cancel func()) {
	return c.register(&c.boxFns, fn)
}

// OnViewportResize registers a listener for host viewport resizes. On a
// terminal host the viewport and the surface box are the same window, so
// this fires on SIGWINCH as well.
func (c *Console) OnViewportResize(fn func()) (cancel func()) {
	return c.register(&c.viewFns, fn)
}

// OnBeforeTeardown registers a listener for termination signals.
func (c *Console) OnBeforeTeardown(fn func()) (cancel func()) {
	return c.register(&c.downFns, fn)
}

// Close stops the signal pump.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *Console) register(m *map[int]func(), fn func()) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	(*m)[id] = fn
	c.mu.Unlock()

	c.pumpOnce.Do(c.startPump)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(*m, id)
	}
}

func (c *Console) startPump() {
	winch := make(chan os.Signal, 1)
	down := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	signal.Notify(down, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	go func() {
		defer signal.Stop(winch)
		defer signal.Stop(down)
		for {
			select {
			case <-winch:
				c.fire(&c.viewFns)
				c.fire(&c.boxFns)
			case <-down:
				c.fire(&c.downFns)
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *Console) fire(m *map[int]func()) {
	c.mu.Lock()
	fns := make([]func(), 0, len(*m))
	for _, fn := range *m {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
