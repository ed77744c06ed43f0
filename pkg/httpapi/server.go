package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intervox-ai/intervox/internal/metrics"
	"github.com/intervox-ai/intervox/pkg/conversation"
	"github.com/intervox-ai/intervox/pkg/lifecycle"
	"github.com/intervox-ai/intervox/pkg/speech"
)

// SpeechService is the slice of the speech client the API needs
type SpeechService interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (*speech.TranscriptionResult, error)
	Synthesize(ctx context.Context, req speech.SynthesizeRequest) ([]byte, error)
}

// Pinger reports whether the durable store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the API server
type Options struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	RequestTimeout     time.Duration
	MaxBodySize        int64
}

// Server exposes the interview backend over HTTP: conversation log
// operations, session lifecycle transitions, the speech proxy, and the
// websocket event stream.
type Server struct {
	options        Options
	server         *http.Server
	log            *conversation.Log
	tracker        *lifecycle.Tracker
	speech         SpeechService
	store          Pinger
	stream         *Streamer
	rateLimiter    *RateLimiter
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(options Options, log *conversation.Log, tracker *lifecycle.Tracker, speechClient SpeechService, store Pinger, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 8080
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 120
	}
	if options.RequestTimeout == 0 {
		options.RequestTimeout = 30 * time.Second
	}
	if options.MaxBodySize == 0 {
		options.MaxBodySize = 32 << 20 // audio uploads
	}

	if log == nil {
		return nil, fmt.Errorf("conversation log is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("session tracker is required")
	}

	return &Server{
		options:     options,
		log:         log,
		tracker:     tracker,
		speech:      speechClient,
		store:       store,
		stream:      NewStreamer(logger),
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		metrics:     m,
		logger:      logger.With().Str("component", "httpapi").Logger(),
		startTime:   time.Now(),
	}, nil
}

// Start starts the API server and blocks until shutdown
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/conversation", s.wrap(s.handleConversation))
	mux.HandleFunc("/session", s.wrap(s.handleSession))
	mux.HandleFunc("/voice/stt", s.wrap(s.handleTranscribe))
	mux.HandleFunc("/voice/tts", s.wrap(s.handleSynthesize))
	mux.HandleFunc("/events", s.stream.HandleWebSocket)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: mux,
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

// Stop gracefully stops the server, letting in-flight requests drain
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")

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
	s.stream.Close()

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

// wrap applies the shared request plumbing: shutdown refusal, in-flight
// tracking, rate limiting, request IDs, body caps, per-request timeout, and
// HTTP metrics.
func (s *Server) wrap(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		ip := s.getClientIP(r)

		if !s.rateLimiter.CheckLimit(ip) {
			retryAfter := s.rateLimiter.GetRetryAfter(ip)
			s.logger.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Int("retry_after", retryAfter).
				Msg("Rate limit exceeded")

			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		requestID := uuid.New().String()
		w.Header().Set("X-Request-ID", requestID)
		r.Body = http.MaxBytesReader(w, r.Body, s.options.MaxBodySize)

		ctx, cancel := context.WithTimeout(r.Context(), s.options.RequestTimeout)
		defer cancel()

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r.WithContext(ctx))

		duration := time.Since(startTime)
		if s.metrics != nil {
			s.metrics.HTTPRequestsTotal.WithLabelValues(r.URL.Path, r.Method, fmt.Sprintf("%d", recorder.status)).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(r.URL.Path, r.Method).Observe(duration.Seconds())
		}

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", ip).
			Int("status", recorder.status).
			Dur("duration", duration).
			Msg("Request completed")
	}
}

// statusRecorder captures the response status for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// getClientIP extracts the client IP from the request
func (s *Server) getClientIP(r *http.Request) string {
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
