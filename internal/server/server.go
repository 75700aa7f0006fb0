package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kirikou/kirikou/internal/models"
	"github.com/kirikou/kirikou/internal/ratelimit"
)

// Agent answers a conversation, either as an event stream or to completion
type Agent interface {
	ModelName() string
	ToolNames() []string
	StreamLog(ctx context.Context, input string, history []models.Message) <-chan models.LogChunk
	Invoke(ctx context.Context, input string, history []models.Message) (*models.Outcome, error)
}

// HealthCheck reports whether a backing service is reachable
type HealthCheck func(ctx context.Context) error

// Config holds HTTP server configuration
type Config struct {
	ListenAddr              string
	TrustProxy              bool // take identity from X-Forwarded-For
	ReturnIntermediateSteps bool // answer every request in structured mode
	ReadHeaderTimeout       time.Duration
	ShutdownTimeout         time.Duration
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}
}

// Server is the chat HTTP server
type Server struct {
	config    *Config
	agent     Agent
	limiter   ratelimit.Limiter
	health    HealthCheck
	logger    *zap.SugaredLogger
	mux       *http.ServeMux
	server    *http.Server
	startTime time.Time
}

// Option configures the Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHealthCheck sets the dependency probe used by /healthz
func WithHealthCheck(check HealthCheck) Option {
	return func(s *Server) { s.health = check }
}

// NewServer creates the server and registers its routes
func NewServer(config *Config, agent Agent, limiter ratelimit.Limiter, opts ...Option) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		config:    config,
		agent:     agent,
		limiter:   limiter,
		logger:    zap.NewNop().Sugar(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/guru", s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux = mux

	// Built up front so Shutdown reaches it even before ListenAndServe runs.
	s.server = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return s
}

// Handler returns the HTTP handler for use with httptest or custom servers
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe starts the HTTP server and blocks until it stops. It returns
// nil once Shutdown has been called, even if Shutdown came first.
func (s *Server) ListenAndServe() error {
	s.logger.Infow("Server starting", "addr", s.config.ListenAddr, "model", s.agent.ModelName())

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	}

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["error"] = err.Error()
		}
	}
	writeJSON(w, status, body)
}

// statusRecorder captures the response status for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			s.logger.Debugw("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.bytes,
				"duration", time.Since(start),
			)
		}()
		next.ServeHTTP(rec, r)
	})
}
