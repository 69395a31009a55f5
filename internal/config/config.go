// Package config loads dispatcher settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/batch-dispatcher/pkg/dispatch"
	"github.com/Sternrassler/batch-dispatcher/pkg/logging"
	"github.com/Sternrassler/batch-dispatcher/pkg/transport"
)

// Config holds all runtime settings.
type Config struct {
	Port string

	// RedisURL is either a host:port address or a redis:// URL.
	// Empty disables the progress store and the shared remote budget.
	RedisURL      string
	RedisPassword string
	RedisDB       int

	LogLevel  string
	LogPretty bool

	UserAgent string

	Limits      dispatch.Limits
	CallTimeout time.Duration
	Retry       transport.RetryConfig
	Policy      dispatch.PolicyConfig

	ProgressTTL       time.Duration
	CORSAllowedOrigin string
	ShutdownTimeout   time.Duration
}

// Load reads the configuration from environment variables.
func Load() (Config, error) {
	var errs []error

	intEnv := func(key string, def int) int {
		v, err := getIntEnv(key, def)
		errs = append(errs, err)
		return v
	}
	secondsEnv := func(key string, def time.Duration) time.Duration {
		v, err := getDurationEnv(key, def, time.Second)
		errs = append(errs, err)
		return v
	}
	boolEnv := func(key string, def bool) bool {
		v, err := getBoolEnv(key, def)
		errs = append(errs, err)
		return v
	}

	retry := transport.DefaultRetryConfig()
	retry.MaxAttempts = intEnv("TRANSPORT_MAX_ATTEMPTS", retry.MaxAttempts)
	backoff, err := getDurationEnv("TRANSPORT_INITIAL_BACKOFF_MS", retry.InitialBackoff, time.Millisecond)
	errs = append(errs, err)
	retry.InitialBackoff = backoff

	ratio, err := getFloatEnv("ABORT_FAILURE_RATIO", 0)
	errs = append(errs, err)

	limits := dispatch.DefaultLimits()

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       intEnv("REDIS_DB", 0),
		LogLevel:      getEnv("LOG_LEVEL", string(logging.LevelInfo)),
		LogPretty:     boolEnv("LOG_PRETTY", false),
		UserAgent:     getEnv("USER_AGENT", "batch-dispatcher/0.1.0"),
		Limits: dispatch.Limits{
			MaxTotalCount:    intEnv("MAX_TOTAL_COUNT", limits.MaxTotalCount),
			DefaultBatchSize: intEnv("DEFAULT_BATCH_SIZE", limits.DefaultBatchSize),
			MaxBatchSize:     intEnv("MAX_BATCH_SIZE", limits.MaxBatchSize),
		},
		CallTimeout: secondsEnv("CALL_TIMEOUT_SEC", dispatch.DefaultExecutorConfig().CallTimeout),
		Retry:       retry,
		Policy: dispatch.PolicyConfig{
			ConsecutiveFailedBatches: intEnv("ABORT_CONSECUTIVE_FAILED_BATCHES", 0),
			FailureRatio:             ratio,
			FailFast:                 boolEnv("ABORT_FAIL_FAST", false),
		},
		ProgressTTL:       secondsEnv("PROGRESS_TTL_SEC", 24*time.Hour),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "*"),
		ShutdownTimeout:   secondsEnv("SHUTDOWN_TIMEOUT_SEC", 15*time.Second),
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the dispatcher cannot run with.
func (c Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port))
	}
	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0, got %d", c.RedisDB))
	}
	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel))
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		errs = append(errs, errors.New("USER_AGENT must not be empty"))
	}
	if c.Limits.MaxTotalCount < 1 {
		errs = append(errs, fmt.Errorf("MAX_TOTAL_COUNT must be >= 1, got %d", c.Limits.MaxTotalCount))
	}
	if c.Limits.MaxBatchSize < 1 {
		errs = append(errs, fmt.Errorf("MAX_BATCH_SIZE must be >= 1, got %d", c.Limits.MaxBatchSize))
	}
	if c.Limits.DefaultBatchSize < 1 || c.Limits.DefaultBatchSize > c.Limits.MaxBatchSize {
		errs = append(errs, fmt.Errorf("DEFAULT_BATCH_SIZE must be between 1 and MAX_BATCH_SIZE, got %d", c.Limits.DefaultBatchSize))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CALL_TIMEOUT_SEC must be > 0, got %v", c.CallTimeout))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("TRANSPORT_MAX_ATTEMPTS must be >= 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialBackoff < 0 {
		errs = append(errs, fmt.Errorf("TRANSPORT_INITIAL_BACKOFF_MS must be >= 0, got %v", c.Retry.InitialBackoff))
	}
	if c.Policy.ConsecutiveFailedBatches < 0 {
		errs = append(errs, fmt.Errorf("ABORT_CONSECUTIVE_FAILED_BATCHES must be >= 0, got %d", c.Policy.ConsecutiveFailedBatches))
	}
	if c.Policy.FailureRatio < 0 || c.Policy.FailureRatio > 1 {
		errs = append(errs, fmt.Errorf("ABORT_FAILURE_RATIO must be between 0 and 1, got %v", c.Policy.FailureRatio))
	}
	if c.ProgressTTL <= 0 {
		errs = append(errs, fmt.Errorf("PROGRESS_TTL_SEC must be > 0, got %v", c.ProgressTTL))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT_SEC must be > 0, got %v", c.ShutdownTimeout))
	}

	return errors.Join(errs...)
}

// RedisEnabled reports whether a Redis server is configured.
func (c Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// RedisOptions builds client options from RedisURL. A redis:// or rediss://
// URL is parsed as such; anything else is used as the address.
func (c Config) RedisOptions() (*redis.Options, error) {
	if !c.RedisEnabled() {
		return nil, errors.New("redis is not configured")
	}

	var opts *redis.Options
	if strings.HasPrefix(c.RedisURL, "redis://") || strings.HasPrefix(c.RedisURL, "rediss://") {
		parsed, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: c.RedisURL}
	}

	if c.RedisPassword != "" {
		opts.Password = c.RedisPassword
	}
	if c.RedisDB != 0 {
		opts.DB = c.RedisDB
	}
	return opts, nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getBoolEnv(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// getDurationEnv reads a non-negative integer count of unit.
func getDurationEnv(key string, defaultValue, unit time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	if n < 0 {
		return defaultValue, fmt.Errorf("%s: must be >= 0, got %d", key, n)
	}
	return time.Duration(n) * unit, nil
}
