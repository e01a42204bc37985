package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pkdindustries/voicerag/internal/chat"
	"pkdindustries/voicerag/internal/config"
	"pkdindustries/voicerag/internal/core"
	"pkdindustries/voicerag/internal/metrics"
	"pkdindustries/voicerag/internal/session"
)

// SessionHeader selects the conversation a request belongs to.
const SessionHeader = "X-Session-ID"

const defaultLockWait = 30 * time.Second

// Transcriber turns raw PCM into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Chatter runs one user turn against a session.
type Chatter interface {
	Turn(ctx context.Context, s *session.Session, text string) (chat.Reply, error)
}

// Synthesizer renders text to audio and never fails; failures yield no audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) []byte
}

// Deps are the collaborators the HTTP adapter drives.
type Deps struct {
	Sessions    *session.Store
	Transcriber Transcriber
	Chat        Chatter
	Speech      Synthesizer
	Metrics     *metrics.Metrics
	Logger      *zap.SugaredLogger
}

// Server is the thin HTTP adapter over the voice pipeline.
type Server struct {
	server   *http.Server
	deps     Deps
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	maxBody  int64
	lockWait time.Duration

	startTime time.Time
}

// New builds the server and its routes. A zero rate limit disables limiting.
func New(cfg *config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = core.GetLogger()
	}
	s := &Server{
		deps:      deps,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		maxBody:   cfg.MaxBodyBytes,
		lockWait:  defaultLockWait,
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if s.maxBody <= 0 {
		s.maxBody = 25 << 20
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /transcribe", s.wrap("/transcribe", s.handleTranscribe))
	mux.HandleFunc("POST /chat", s.wrap("/chat", s.handleChat))
	mux.HandleFunc("POST /synthesize", s.wrap("/synthesize", s.handleSynthesize))
	mux.HandleFunc("POST /clear", s.wrap("/clear", s.handleClear))
	mux.HandleFunc("GET /healthz", s.withMetrics("/healthz", s.handleHealth))

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Infow("Starting HTTP API server", "address", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		s.logger.Info("Stopping HTTP API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// wrap applies metrics and rate limiting to an API handler.
func (s *Server) wrap(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return s.withMetrics(endpoint, s.withRateLimit(handler))
}

func (s *Server) withRateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		handler(w, r)
	}
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), time.Since(start))
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			s.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
