// Package server exposes the layout engine over HTTP: the layout endpoint,
// the server-sent event stream, the change-event webhook and a health check.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/flowboard/internal/auth"
	"github.com/dyluth/flowboard/internal/cache"
	"github.com/dyluth/flowboard/internal/fanout"
	"github.com/dyluth/flowboard/internal/intake"
	"github.com/dyluth/flowboard/internal/layout"
	"github.com/dyluth/flowboard/pkg/board"
)

// LayoutResolver answers layout requests.
type LayoutResolver interface {
	ResolveLayout(ctx context.Context, userID, projectID string) (*layout.Result, error)
}

// TokenVerifier turns a bearer token into a verified identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Connections is the live connection registry.
type Connections interface {
	Register(userID, projectID string, ch fanout.Channel) (*fanout.Conn, error)
	Unregister(conn *fanout.Conn)
	Stats() fanout.Stats
}

// EventQueue accepts change events for asynchronous processing.
type EventQueue interface {
	Submit(ev *board.ChangeEvent) error
	Stats() intake.QueueStats
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheStats reports the local cache tier.
type CacheStats interface {
	Stats() cache.Stats
}

// Deps are the collaborators of a Server. Redis may be nil when the shared
// cache tier is disabled; Cache may be nil.
type Deps struct {
	Layouts     LayoutResolver
	Tokens      TokenVerifier
	Connections Connections
	Intake      EventQueue
	Database    Pinger
	Redis       Pinger
	Cache       CacheStats
}

// Options configure a Server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	WebhookSecret  string
	SendBuffer     int
}

// Server is the HTTP front of the engine.
type Server struct {
	deps    Deps
	opts    Options
	started time.Time
	server  *http.Server
}

// New creates a Server.
func New(deps Deps, opts Options) *Server {
	return &Server{
		deps:    deps,
		opts:    opts,
		started: time.Now(),
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthCheckHandler)
	mux.Handle("/api/layout", s.withCORS(http.HandlerFunc(s.layoutHandler)))
	mux.Handle("/api/events", s.withCORS(http.HandlerFunc(s.eventsHandler)))
	mux.HandleFunc("/webhooks/changes", s.webhookHandler)
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}

	// No write timeout: event streams stay open indefinitely.
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[Server] HTTP server error: %v", err)
		}
	}()

	log.Printf("[Server] Listening on %s", listener.Addr())
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// allowedOrigin echoes origin when it is allowed and falls back to the first
// configured origin otherwise.
func (s *Server) allowedOrigin(origin string) string {
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == origin {
			return origin
		}
	}
	if len(s.opts.AllowedOrigins) > 0 {
		return s.opts.AllowedOrigins[0]
	}
	return ""
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
