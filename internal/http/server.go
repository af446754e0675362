// Package http serves a small read-only JSON API over the ledger, the saved
// entities and the in-process metrics.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
	"github.com/roelfdiedericks/voxledger/internal/session"
)

// LedgerView is the read side of *ledger.Ledger.
type LedgerView interface {
	Stats() ledger.Stats
	WeeklyCosts() []ledger.DayCost
}

// EntityLister is implemented by *entities.Store.
type EntityLister interface {
	List(ctx context.Context, sessionID string, targets []session.Target, limit int) ([]session.Entity, error)
}

// ProviderLister is implemented by *transcribe.Orchestrator.
type ProviderLister interface {
	Providers() []string
}

// Deps are the components the API reads from.
type Deps struct {
	Ledger    LedgerView
	Entities  EntityLister
	Providers ProviderLister
}

// Server is the status API.
type Server struct {
	server      *http.Server
	cfg         Config
	deps        Deps
	rateLimiter *RateLimiter
	started     time.Time
	wg          sync.WaitGroup
}

// NewServer creates the server. It does not listen until Start.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if cfg.Password == "" {
		return nil, fmt.Errorf("http: a password is required to serve the API")
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultConfig().Listen
	}
	if cfg.Username == "" {
		cfg.Username = DefaultConfig().Username
	}

	s := &Server{
		cfg:         cfg,
		deps:        deps,
		rateLimiter: NewRateLimiter(10 * time.Second),
		started:     time.Now(),
	}
	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.basicAuth(getOnly(h)))
	}

	mux.HandleFunc("/healthz", s.logRequest(getOnly(s.handleHealth)))
	mux.HandleFunc("/api/stats", wrap(s.handleStats))
	mux.HandleFunc("/api/weekly", wrap(s.handleWeekly))
	mux.HandleFunc("/api/providers", wrap(s.handleProviders))
	mux.HandleFunc("/api/entities", wrap(s.handleEntities))
	mux.HandleFunc("/api/metrics", wrap(s.handleMetrics))
	return mux
}

// Start listens in the background.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			L_error("http: server error", "error", err)
		}
	}()
}

// Stop shuts the server down, giving open requests five seconds.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}
	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		L_trace("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

func getOnly(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
