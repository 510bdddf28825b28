// Package devserver is a development implementation of the remote side of
// the terminal bridge protocol: each session runs a real shell on a local
// PTY, keeps a server-side scrollback for history replay, and survives
// WebSocket disconnects so clients can resume.
//
// It is a development/test double for the production backend, not the
// production backend itself.
package devserver

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/creack/pty"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/boringdata/termbridge/internal/logging"
	"github.com/boringdata/termbridge/internal/logutil"
	"github.com/boringdata/termbridge/internal/protocol"
	"github.com/boringdata/termbridge/internal/scrollback"
)

// Resize clamps, matching what a well-behaved client would ever ask for.
const (
	maxResizeCols = 1000
	maxResizeRows = 1000
)

// Input rate limiting per connection: generous enough for paste bursts,
// tight enough to stop a runaway client.
const (
	inputRateLimit = 200 // messages per second
	inputRateBurst = 200
)

// maxInputMessageSize bounds a single input frame's payload.
const maxInputMessageSize = 64 * 1024

// Config configures the dev server.
type Config struct {
	// Shell is the command run on each session's PTY.
	Shell string
	// ScrollbackCap bounds the per-session server-side history.
	ScrollbackCap int
}

// Server hosts PTY-backed terminal sessions behind the bridge protocol.
type Server struct {
	cfg      Config
	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a Server. Zero-valued config fields get defaults.
func New(cfg Config) *Server {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/bash"
	}
	if cfg.ScrollbackCap <= 0 {
		cfg.ScrollbackCap = scrollback.DefaultCap
	}
	return &Server{cfg: cfg, sessions: make(map[string]*session)}
}

// Routes returns the HTTP routes: the terminal WebSocket plus small
// management endpoints for listing/closing sessions and tailing the log.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/terminal/ws", s.handleWS)
	r.Get("/api/sessions", s.handleList)
	r.Delete("/api/sessions/{id}", s.handleClose)
	r.Get("/api/logs", handleLogs)
	return r
}

// session is one PTY-backed shell. It outlives WebSocket attachments: a
// detached session keeps its shell and scrollback until the shell exits or
// it is closed explicitly.
type session struct {
	id       string
	name     string
	provider string
	cmd      *exec.Cmd
	ptmx     ptyFile
	scroll   *scrollback.Buffer
	done     chan struct{}

	mu       sync.Mutex
	conn     *websocket.Conn
	exited   bool
	exitCode int
}

// ptyFile is the subset of *os.File the session uses, split out so tests
// can fake the PTY.
type ptyFile interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	resume := q.Get("resume") == "1"
	forceNew := q.Get("force_new") == "1"
	provider := q.Get("provider")
	name := q.Get("session_name")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[devserver] websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1024 * 1024)

	ctx := r.Context()

	var sess *session
	if resume && sessionID != "" && !forceNew {
		sess = s.get(sessionID)
		if sess == nil {
			// Tell the client its resume target is gone, then fall
			// through to a fresh session.
			writeFrame(ctx, conn, protocol.EncodeSessionNotFound())
		}
	}

	if sess == nil {
		sess, err = s.createSession(provider, name)
		if err != nil {
			log.Printf("[devserver] session create failed: %v", err)
			conn.Close(4500, "failed to start shell")
			return
		}
		log.Printf("[devserver] session created: id=%s provider=%s name=%s",
			sess.id, logutil.SanitizeForLog(provider), logutil.SanitizeForLog(name))
	} else {
		log.Printf("[devserver] session resumed: id=%s", sess.id)
	}

	// The client learns its (possibly new) id first. History is snapshotted
	// after attach so no output falls between the snapshot and the live
	// stream; the client clears and rewrites when history arrives.
	if err := writeFrame(ctx, conn, protocol.EncodeSessionID(sess.id)); err != nil {
		return
	}

	sess.attach(conn)
	defer sess.detach(conn)

	if history := sess.scroll.Bytes(); len(history) > 0 {
		if err := writeFrame(ctx, conn, protocol.EncodeHistory(string(history))); err != nil {
			return
		}
	}

	// Deliver the shell's exit to the attached client and unblock its read
	// loop. Fires immediately when resuming an already-exited session.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-sess.done:
			sess.mu.Lock()
			code := sess.exitCode
			sess.mu.Unlock()
			writeFrame(context.Background(), conn, protocol.EncodeExit(code))
			conn.Close(websocket.StatusNormalClosure, "session ended")
		case <-stop:
		}
	}()

	limiter := newTokenBucket(inputRateBurst, inputRateLimit)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !limiter.allow() {
			continue
		}

		f := protocol.Decode(data)
		switch f.Type {
		case protocol.TypeInput:
			if len(f.Data) > maxInputMessageSize {
				log.Printf("[devserver] input frame too large: session=%s size=%d", sess.id, len(f.Data))
				continue
			}
			if _, err := sess.ptmx.Write([]byte(f.Data)); err != nil {
				return
			}
		case protocol.TypeResize:
			cols, rows := f.Cols, f.Rows
			if cols <= 0 || rows <= 0 {
				continue
			}
			if cols > maxResizeCols {
				cols = maxResizeCols
			}
			if rows > maxResizeRows {
				rows = maxResizeRows
			}
			sess.resize(cols, rows)
		}
	}
}

// createSession allocates a PTY running the configured shell and starts the
// output relay.
func (s *Server) createSession(provider, name string) (*session, error) {
	cmd := exec.Command(s.cfg.Shell)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	sess := &session{
		id:       uuid.New().String(),
		name:     name,
		provider: provider,
		cmd:      cmd,
		ptmx:     ptmx,
		scroll:   scrollback.NewBuffer(s.cfg.ScrollbackCap),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	go sess.relayOutput()
	return sess, nil
}

func (s *Server) get(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// relayOutput pumps PTY output into the scrollback and to the attached
// client, then reports the shell's exit. Runs for the session lifetime
// regardless of WebSocket attachments.
func (sess *session) relayOutput() {
	buf := make([]byte, 32*1024)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sess.scroll.Append(chunk)
			sess.send(protocol.EncodeOutput(string(chunk)))
		}
		if err != nil {
			code := 0
			if sess.cmd != nil {
				if werr := sess.cmd.Wait(); werr != nil {
					if ee, ok := werr.(*exec.ExitError); ok {
						code = ee.ExitCode()
					}
				}
			}
			sess.mu.Lock()
			sess.exited = true
			sess.exitCode = code
			sess.mu.Unlock()

			close(sess.done)
			log.Printf("[devserver] session %s shell exited with code %d", sess.id, code)
			return
		}
	}
}

// send writes a frame to the attached client, if any. Detached sessions
// just accumulate scrollback.
func (sess *session) send(frame []byte) {
	sess.mu.Lock()
	conn := sess.conn
	sess.mu.Unlock()
	if conn == nil {
		return
	}
	if err := writeFrame(context.Background(), conn, frame); err != nil {
		sess.detach(conn)
	}
}

func (sess *session) attach(conn *websocket.Conn) {
	sess.mu.Lock()
	old := sess.conn
	sess.conn = conn
	sess.mu.Unlock()
	if old != nil && old != conn {
		old.Close(4409, "session attached elsewhere")
	}
}

func (sess *session) detach(conn *websocket.Conn) {
	sess.mu.Lock()
	if sess.conn == conn {
		sess.conn = nil
	}
	sess.mu.Unlock()
}

func (sess *session) resize(cols, rows int) {
	if f, ok := sess.ptmx.(*os.File); ok {
		pty.Setsize(f, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	}
}

// close terminates the shell; relayOutput then observes EOF and finishes
// the session.
func (sess *session) close() {
	sess.mu.Lock()
	exited := sess.exited
	sess.mu.Unlock()
	if exited {
		return
	}
	if sess.cmd != nil && sess.cmd.Process != nil {
		sess.cmd.Process.Kill()
	}
	sess.ptmx.Close()
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, frame)
}

// tokenBucket is a simple token bucket rate limiter for input frames.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

func handleLogs(w http.ResponseWriter, r *http.Request) {
	tail, err := logging.ReadTail(200)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(tail))
}
