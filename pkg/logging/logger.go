// Package logging configures the process-wide zerolog logger and hands out
// component loggers for the dispatcher.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Component names used in the "component" field.
const (
	ComponentServer     = "server"
	ComponentDispatcher = "dispatcher"
	ComponentExecutor   = "executor"
	ComponentTransport  = "transport"
	ComponentRateLimit  = "ratelimit"
	ComponentProgress   = "progress"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to a zerolog.Level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// NewLogger creates a logger tagged with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForJob returns a dispatcher logger tagged with a job id.
func ForJob(jobID string) zerolog.Logger {
	return log.With().
		Str("component", ComponentDispatcher).
		Str("job_id", jobID).
		Logger()
}

// Log Level Guidelines:
//
// Debug: pacing waits, budget updates for healthy hosts, individual call
// failures, websocket subscriptions.
//
// Info: job start and completion, every finished batch without failures,
// server startup and shutdown.
//
// Warn: batches with failed calls, cancelled jobs, retry attempts,
// throttled calls, progress store errors.
//
// Error: aborted jobs, recovered panics, blocked calls on a critical
// budget, configuration errors.
//
// Context Fields:
//   - component: emitting subsystem (server, dispatcher, executor, transport, ratelimit)
//   - job_id: job identifier
//   - batch: zero-based batch index
//   - succeeded, failed, completed, total: call counters
//   - progress_pct: completion percentage
//   - host: target host
//   - status_code: HTTP status code of a call
//   - error_class: client, server, rate_limit or network
//   - duration: elapsed time
