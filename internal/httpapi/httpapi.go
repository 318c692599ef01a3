// Package httpapi wires the Job Execution Core's HTTP surface: the
// per-hook webhook endpoint (internal/webhook), the badge endpoint,
// the live-log websocket (internal/relay), and a health check, on a
// single http.ServeMux-based router with request logging and graceful
// shutdown in the teacher's own server style (core/server.go,
// dispatcher/server.go, server/server.go all build the same
// log.New + http.Server + signal.Notify shutdown shape).
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozmic/kozmic/internal/relay"
	"github.com/kozmic/kozmic/internal/webhook"
)

// HookRegistry resolves a hook id to the secret and Enqueuer a webhook
// delivery for it should use, so one process can serve many projects'
// hooks behind distinct URL paths.
type HookRegistry interface {
	Lookup(hookID int64) (secret []byte, enq webhook.Enqueuer, ok bool)
}

// BuildLookup is the narrow read surface the badge endpoint needs:
// the latest Build status for owner/repo@ref.
type BuildLookup interface {
	LatestStatus(owner, repo, ref string) (status string, ok bool)
}

// badgeAssets maps a Build status to the static asset path the badge
// redirects to, defaulting to "success" when no build exists yet
// (spec.md §6).
var badgeAssets = map[string]string{
	"enqueued": "/static/badges/enqueued.svg",
	"pending":  "/static/badges/pending.svg",
	"success":  "/static/badges/success.svg",
	"failure":  "/static/badges/failure.svg",
	"error":    "/static/badges/error.svg",
}

// Server is the Core's HTTP front door.
type Server struct {
	server *http.Server
	log    *log.Logger
}

// New builds a Server listening on addr. hooks resolves webhook
// deliveries by hook id; builds serves the badge endpoint; bus backs
// the live-log relay.
func New(addr string, l *log.Logger, hooks HookRegistry, builds BuildLookup, bus relay.Bus) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/hooks/", handleWebhook(hooks))
	mux.HandleFunc("/badges/", handleBadge(builds))
	mux.Handle("/", relay.Handler(bus))

	return &Server{
		log: l,
		server: &http.Server{
			Addr:           addr,
			Handler:        logReq(l)(mux),
			ErrorLog:       l,
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   0, // the relay holds connections open indefinitely
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
	}
}

// Run listens until SIGINT/SIGTERM, then drains in-flight requests
// within a 30s grace period, matching every Run() in the teacher's
// server package.
func (s *Server) Run() error {
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		s.log.Println("shutdown requested")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.server.SetKeepAlivesEnabled(false)
		if err := s.server.Shutdown(ctx); err != nil {
			s.log.Printf("graceful shutdown failed: %v", err)
		}
		close(done)
	}()

	s.log.Println("listening on", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: %w", err)
	}
	<-done
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// hookIDFromPath parses the numeric hook id out of /hooks/<id>.
func hookIDFromPath(p string) (int64, bool) {
	const prefix = "/hooks/"
	if len(p) <= len(prefix) {
		return 0, false
	}
	var id int64
	for _, c := range p[len(prefix):] {
		if c < '0' || c > '9' {
			return 0, false
		}
		id = id*10 + int64(c-'0')
	}
	return id, true
}

func handleWebhook(hooks HookRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hookID, ok := hookIDFromPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		secret, enq, ok := hooks.Lookup(hookID)
		if !ok {
			http.NotFound(w, r)
			return
		}
		webhook.Handler(hookID, secret, enq)(w, r)
	}
}

// handleBadge implements GET /badges/<owner>/<repo>/<ref> -> 307 to
// the status-appropriate badge asset, defaulting to success when no
// build exists for ref (spec.md §6).
func handleBadge(builds BuildLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, repo, ref, ok := parseBadgePath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		status, found := builds.LatestStatus(owner, repo, ref)
		if !found {
			status = "success"
		}
		asset, ok := badgeAssets[status]
		if !ok {
			asset = badgeAssets["success"]
		}
		http.Redirect(w, r, asset, http.StatusTemporaryRedirect)
	}
}

// parseBadgePath splits /badges/<owner>/<repo>/<ref> into its three
// path segments.
func parseBadgePath(p string) (owner, repo, ref string, ok bool) {
	const prefix = "/badges/"
	if len(p) <= len(prefix) {
		return "", "", "", false
	}
	rest := p[len(prefix):]
	var parts []string
	start := 0
	for i := 0; i <= len(rest); i++ {
		if i == len(rest) || rest[i] == '/' {
			if i > start {
				parts = append(parts, rest[start:i])
			}
			start = i + 1
		}
	}
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// logReq is the request-logging middleware every server in the
// teacher's codebase wires around its router (core/server.go,
// dispatcher/server.go, server/server.go all reference a logReq of
// this exact shape).
func logReq(l *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			l.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
		})
	}
}
