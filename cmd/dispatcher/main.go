package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/batch-dispatcher/internal/config"
	"github.com/Sternrassler/batch-dispatcher/internal/server"
	"github.com/Sternrassler/batch-dispatcher/pkg/dispatch"
	"github.com/Sternrassler/batch-dispatcher/pkg/logging"
	"github.com/Sternrassler/batch-dispatcher/pkg/progress"
	"github.com/Sternrassler/batch-dispatcher/pkg/ratelimit"
	"github.com/Sternrassler/batch-dispatcher/pkg/transport"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Dispatcher failed")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger(logging.ComponentServer)

	app, cleanup, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr()).
			Str("version", version).
			Str("user_agent", cfg.UserAgent).
			Bool("redis", cfg.RedisEnabled()).
			Msg("Starting dispatcher")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal, initiating graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Jobs first: synchronous submissions hold their request open until the run ends.
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Jobs did not drain before the shutdown deadline")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("Dispatcher stopped")
	return nil
}

// build wires the dispatcher components. Redis-backed parts are only created
// when a Redis server is configured.
func build(ctx context.Context, cfg config.Config) (*server.Server, func(), error) {
	transportCfg := transport.DefaultConfig(cfg.UserAgent)
	transportCfg.Timeout = cfg.CallTimeout
	transportCfg.Retry = cfg.Retry

	var (
		store   *progress.Store
		cleanup = func() {}
	)

	if cfg.RedisEnabled() {
		opts, err := cfg.RedisOptions()
		if err != nil {
			return nil, nil, err
		}
		redisClient := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")

		transportCfg.Gate = ratelimit.NewTracker(redisClient, logging.NewLogger(logging.ComponentRateLimit))
		store = progress.NewStore(redisClient, cfg.ProgressTTL)
		cleanup = func() { redisClient.Close() }
	}

	client, err := transport.New(transportCfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create transport: %w", err)
	}

	exec := dispatch.NewExecutor(client, dispatch.ExecutorConfig{CallTimeout: cfg.CallTimeout})

	serverCfg := server.DefaultConfig()
	serverCfg.Limits = cfg.Limits
	serverCfg.Policy = cfg.Policy
	serverCfg.CORSAllowedOrigin = cfg.CORSAllowedOrigin

	return server.New(serverCfg, exec, store), cleanup, nil
}
