package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/boringdata/termbridge/internal/bridge"
	"github.com/boringdata/termbridge/internal/config"
	"github.com/boringdata/termbridge/internal/devserver"
	"github.com/boringdata/termbridge/internal/logging"
	"github.com/boringdata/termbridge/internal/scrollback"
	"github.com/boringdata/termbridge/internal/termio"
	"github.com/boringdata/termbridge/internal/wschannel"
)

// detachKey is Ctrl-], same as telnet. Pressing it ends the local attachment
// without touching the remote session.
const detachKey = "\x1d"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "attach":
		runAttach(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: termbridge <command> [flags]

Commands:
  attach    connect this terminal to a remote session
  serve     run a local PTY-backed dev server

Run "termbridge <command> -h" for command flags.
`)
}

func runAttach(args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	endpoint := fs.String("endpoint", "", "WebSocket endpoint (default from config)")
	profile := fs.String("profile", "", "named profile from profiles.yaml")
	sessionID := fs.String("session", "", "session id to attach to")
	resume := fs.Bool("resume", false, "resume an existing session")
	forceNew := fs.Bool("force-new", false, "force a fresh session even when resumable")
	provider := fs.String("provider", "shell", "session provider (agent or shell)")
	name := fs.String("name", "", "session name hint for new sessions")
	fs.Parse(args)

	config.Load()
	logging.InitFileOnly(config.Cfg.LogPath)

	if *endpoint == "" {
		*endpoint = config.Cfg.Endpoint
	}
	if *profile != "" {
		profiles, err := config.LoadProfiles(config.ProfilesPath())
		if err != nil {
			fatalf("load profiles: %v", err)
		}
		p, ok := profiles[*profile]
		if !ok {
			fatalf("unknown profile %q", *profile)
		}
		if p.Endpoint != "" {
			*endpoint = p.Endpoint
		}
		if p.Provider != "" {
			*provider = p.Provider
		}
		if p.SessionName != "" && *name == "" {
			*name = p.SessionName
		}
	}

	// Resuming without an explicit id targets the last session this host
	// attached to.
	if *resume && *sessionID == "" {
		*sessionID = readLastSessionID()
	}

	console := termio.NewConsole(os.Stdout)
	if !console.Attached() {
		fatalf("attach requires a terminal")
	}
	defer console.Close()

	var cache bridge.CacheStore
	store, err := scrollback.OpenStore(config.CacheDBPath(), config.Cfg.CachePrefix)
	if err != nil {
		log.Printf("scrollback cache unavailable: %v", err)
	} else {
		if ttl, err := time.ParseDuration(config.Cfg.CacheTTL); err == nil {
			store.StartJanitor(ttl)
		}
		defer store.Close()
		cache = store
	}

	engine := termio.NewEngine(os.Stdin, os.Stdout)

	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	session, err := bridge.New(bridge.Options{
		SessionID:   *sessionID,
		Provider:    bridge.ProviderKind(*provider),
		Resume:      *resume,
		ForceNew:    *forceNew,
		SessionName: *name,
		Dialer:      &wschannel.Dialer{Endpoint: *endpoint},
		Engine:      engine,
		Surface:     console,
		Env:         console,
		Cache:       cache,
		CacheCap:    config.Cfg.CacheCapBytes,
		Callbacks: bridge.Callbacks{
			OnSessionStarted: func() {
				log.Printf("attached to %s", *endpoint)
			},
			OnSessionIDChanged: func(id string) {
				writeLastSessionID(id)
			},
			OnResumeMissing: func() {
				log.Printf("resume target missing, server started a fresh session")
			},
		},
	})
	if err != nil {
		fatalf("%v", err)
	}
	if *sessionID != "" {
		writeLastSessionID(*sessionID)
	}

	// Ctrl-] detaches; the remote session keeps running.
	cancelDetach := engine.OnData(func(data string) {
		if strings.Contains(data, detachKey) {
			finish()
		}
	})
	defer cancelDetach()
	cancelDown := console.OnBeforeTeardown(finish)
	defer cancelDown()

	session.Attach()
	<-done

	session.Dispose()
	fmt.Println("Detached.")
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (default from config)")
	shell := fs.String("shell", "", "shell to run per session (default from config)")
	fs.Parse(args)

	config.Load()
	logging.Init(config.Cfg.LogPath)

	if *addr == "" {
		*addr = config.Cfg.ServeAddr
	}
	if *shell == "" {
		*shell = config.Cfg.ServeShell
	}

	ds := devserver.New(devserver.Config{
		Shell:         *shell,
		ScrollbackCap: config.Cfg.CacheCapBytes,
	})

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Mount("/", ds.Routes())

	srv := &http.Server{
		Addr:    *addr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Dev server starting on %s (shell=%s)", *addr, *shell)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "termbridge: "+format+"\n", args...)
	os.Exit(1)
}

func lastSessionPath() string {
	return filepath.Join(config.Cfg.DataPath, "last_session")
}

func readLastSessionID() string {
	data, err := os.ReadFile(lastSessionPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeLastSessionID(id string) {
	if err := os.WriteFile(lastSessionPath(), []byte(id), 0644); err != nil {
		log.Printf("persist last session id: %v", err)
	}
}
