// Package server exposes the dispatcher over HTTP: job submission, progress
// lookup, cancellation and a websocket progress stream.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/batch-dispatcher/pkg/dispatch"
	"github.com/Sternrassler/batch-dispatcher/pkg/logging"
	"github.com/Sternrassler/batch-dispatcher/pkg/metrics"
	"github.com/Sternrassler/batch-dispatcher/pkg/progress"
)

// maxRequestBody bounds the size of a submission body.
const maxRequestBody = 1 << 20

// Config configures the HTTP surface.
type Config struct {
	// Limits are applied to every submitted job.
	Limits dispatch.Limits

	// Policy is built fresh for every job.
	Policy dispatch.PolicyConfig

	// CORSAllowedOrigin is sent as Access-Control-Allow-Origin.
	CORSAllowedOrigin string

	// StreamInterval is how often streams poll for a new snapshot.
	StreamInterval time.Duration

	// Retention keeps finished jobs in memory when no store is configured.
	Retention time.Duration

	// PersistTimeout bounds each progress store write.
	PersistTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Limits:            dispatch.DefaultLimits(),
		CORSAllowedOrigin: "*",
		StreamInterval:    250 * time.Millisecond,
		Retention:         time.Hour,
		PersistTimeout:    2 * time.Second,
	}
}

// Server handles dispatcher HTTP requests.
type Server struct {
	cfg      Config
	exec     *dispatch.Executor
	store    *progress.Store
	jobs     *registry
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	// baseCtx is cancelled on shutdown and cancels every job context.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New creates a server. store may be nil, in which case progress lives only
// in memory.
func New(cfg Config, exec *dispatch.Executor, store *progress.Store) *Server {
	if exec == nil {
		panic("executor cannot be nil")
	}

	def := DefaultConfig()
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = def.CORSAllowedOrigin
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = def.StreamInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &Server{
		cfg:   cfg,
		exec:  exec,
		store: store,
		jobs:  newRegistry(cfg.Retention),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return cfg.CORSAllowedOrigin == "*" || origin == "" || origin == cfg.CORSAllowedOrigin
			},
		},
		logger:     logging.NewLogger(logging.ComponentServer),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /share", s.handleShare)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleCancelJob)
	mux.HandleFunc("GET /jobs/{id}/stream", s.handleStream)

	var handler http.Handler = mux
	handler = cors(s.cfg.CORSAllowedOrigin)(handler)
	handler = s.recovery(handler)
	handler = s.instrument(handler)
	return handler
}

// Shutdown cancels all running jobs and waits for them to drain their
// in-flight batch and persist their final snapshot, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.baseCancel()
	s.jobs.cancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All jobs drained")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Int("running", s.jobs.running()).Msg("Shutdown timed out with jobs still running")
		return ctx.Err()
	}
}

// persist writes snap to the store if one is configured. Store errors are
// logged and never affect the run.
func (s *Server) persist(snap dispatch.ProgressSnapshot) error {
	if s.store == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()

	if err := s.store.Save(ctx, snap); err != nil {
		s.logger.Warn().Err(err).Str("job_id", snap.JobID).Msg("Failed to persist progress snapshot")
		return err
	}
	return nil
}
