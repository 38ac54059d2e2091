// Package api exposes the sandbox over HTTP: synchronous execution,
// async jobs with websocket watch, session management, artifact
// download, and uploads.
package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/crucible/internal/observability"
	"github.com/harun/crucible/pkg/jobs"
	"github.com/harun/crucible/pkg/sandbox"
	"github.com/harun/crucible/pkg/storage"
	"github.com/harun/crucible/pkg/uploads"
)

// Options holds server configuration.
type Options struct {
	Host         string
	Port         int
	AuthToken    string
	RateLimitRPS int
}

// Server is the HTTP API server.
type Server struct {
	options        Options
	server         *http.Server
	executor       *sandbox.Executor
	queue          *jobs.Queue
	store          *storage.Store
	uploads        *uploads.Store
	rateLimiter    *RateLimiter
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new API server. queue, store, and uploadStore may
// be nil; the matching endpoints then report 404.
func NewServer(options Options, executor *sandbox.Executor, queue *jobs.Queue, store *storage.Store, uploadStore *uploads.Store, logger zerolog.Logger) (*Server, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if options.Port == 0 {
		options.Port = 8196
	}
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}

	return &Server{
		options:     options,
		executor:    executor,
		queue:       queue,
		store:       store,
		uploads:     uploadStore,
		rateLimiter: NewRateLimiter(options.RateLimitRPS),
		upgrader:    websocket.Upgrader{},
		logger:      logger,
		startTime:   time.Now(),
	}, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", observability.MetricsHandler())

	mux.HandleFunc("POST /api/v1/execute", s.guarded(s.handleExecute))

	mux.HandleFunc("POST /api/v1/jobs", s.guarded(s.handleSubmitJob))
	mux.HandleFunc("GET /api/v1/jobs", s.guarded(s.handleListJobs))
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.guarded(s.handleGetJob))
	mux.HandleFunc("GET /api/v1/jobs/{id}/watch", s.guarded(s.handleWatchJob))

	mux.HandleFunc("POST /api/v1/sessions", s.guarded(s.handleCreateSession))
	mux.HandleFunc("GET /api/v1/sessions", s.guarded(s.handleListSessions))
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.guarded(s.handleGetSession))
	mux.HandleFunc("POST /api/v1/sessions/{id}/reset", s.guarded(s.handleResetSession))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.guarded(s.handleRemoveSession))
	mux.HandleFunc("GET /api/v1/sessions/{id}/files", s.guarded(s.handleListFiles))
	mux.HandleFunc("GET /api/v1/sessions/{id}/files/{name...}", s.guarded(s.handleReadFile))

	mux.HandleFunc("GET /api/v1/artifacts/{handle}", s.guarded(s.handleGetArtifact))

	mux.HandleFunc("GET /api/v1/uploads", s.guarded(s.handleListUploads))
	mux.HandleFunc("PUT /api/v1/uploads/{name}", s.guarded(s.handleSaveUpload))

	return mux
}

// Start starts the API server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")

	// Wait for in-flight requests with timeout
	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}

// guarded wraps an API handler with shutdown, auth, rate limit, and
// metrics recording.
func (s *Server) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		if !s.authorize(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ip := s.clientIP(r)
		if !s.rateLimiter.CheckLimit(ip) {
			retryAfter := s.rateLimiter.RetryAfter(ip)
			s.logger.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Int("retry_after", retryAfter).
				Msg("Rate limit exceeded")

			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		observability.RecordHTTPRequest(route, r.Method, rec.status, time.Since(startTime))
	}
}

// authorize checks the bearer token when one is configured.
func (s *Server) authorize(r *http.Request) bool {
	if s.options.AuthToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && token == s.options.AuthToken
}

// clientIP extracts the client IP from the request.
func (s *Server) clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// statusRecorder captures the response status for metrics. Hijack is
// forwarded so websocket upgrades keep working through the wrapper.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(p)
}
