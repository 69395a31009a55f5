// Package transport provides the HTTP implementation of the dispatcher's
// call capability, with error classification, optional retries and remote
// rate-budget gating.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/batch-dispatcher/pkg/dispatch"
	"github.com/Sternrassler/batch-dispatcher/pkg/logging"
)

// maxDrainBytes bounds how much of a response body is read before closing.
const maxDrainBytes = 64 << 10

// Gate decides whether a call to host may proceed and learns from responses.
// ratelimit.Tracker implements it.
type Gate interface {
	ShouldAllowRequest(ctx context.Context, host string) (bool, error)
	UpdateFromHeaders(ctx context.Context, host string, headers http.Header) error
}

// Config holds the transport configuration.
type Config struct {
	// UserAgent header sent with every call (REQUIRED).
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry configures retries of server, rate-limit and network errors.
	Retry RetryConfig

	// Gate is consulted before every attempt (optional).
	Gate Gate

	// HTTPClient overrides the default client (optional).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// Client sends dispatcher calls over HTTP.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

var _ dispatch.Sender = (*Client)(nil)

// New creates a new transport client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Retry = cfg.Retry.normalize()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentTransport),
	}, nil
}

// Send performs one logical call (possibly several attempts) against target.
// header is sent as the Cookie header. Any status >= 400 is a failure.
func (c *Client) Send(ctx context.Context, target dispatch.Target, header string) error {
	u, err := url.Parse(target.URL)
	if err != nil {
		return &CallError{ErrorClass: ErrorClassClient, Message: "invalid target url", Err: err}
	}
	host := u.Host

	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	return retryWithBackoff(ctx, c.config.Retry, func() error {
		return c.attempt(ctx, target, host, header)
	})
}

// attempt performs a single HTTP request.
func (c *Client) attempt(ctx context.Context, target dispatch.Target, host, header string) error {
	if c.config.Gate != nil {
		allowed, err := c.config.Gate.ShouldAllowRequest(ctx, host)
		if err != nil {
			c.logger.Error().Err(err).Str("host", host).Msg("Rate budget check failed")
			return fmt.Errorf("rate budget check: %w", err)
		}
		if !allowed {
			requestsTotal.WithLabelValues("rate_limited").Inc()
			errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return &CallError{
				ErrorClass: ErrorClassRateLimit,
				Message:    "blocked by remote rate budget",
				Err:        ErrBudgetExhausted,
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, target.RequestMethod(), target.URL, bytes.NewReader(target.Payload()))
	if err != nil {
		return &CallError{ErrorClass: ErrorClassClient, Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if header != "" {
		req.Header.Set("Cookie", header)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("host", host).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return &CallError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if c.config.Gate != nil {
		if err := c.config.Gate.UpdateFromHeaders(ctx, host, resp.Header); err != nil {
			c.logger.Warn().Err(err).Str("host", host).Msg("Failed to update rate budget from headers")
		}
	}

	requestsTotal.WithLabelValues(statusLabel(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		errClass := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Debug().
			Str("host", host).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Remote call rejected")
		return &CallError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	return nil
}
