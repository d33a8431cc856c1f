package resilience

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPDoer is an interface for executing HTTP requests.
// Both *http.Client and *Client satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client in logs.
	Name string

	// Timeout is the request timeout for individual HTTP calls.
	// Default: 10 seconds
	Timeout time.Duration

	// Retry is the retry policy. If nil, uses DefaultRetryConfig.
	// Only network failures and 5xx responses are retried.
	Retry *RetryConfig

	// Breaker optionally guards every attempt. A CIRCUIT_OPEN rejection is not retried.
	Breaker *CircuitBreaker

	// Retrier supplies the clock and jitter source. Optional.
	Retrier *Retrier

	// Transport overrides the underlying round tripper. Optional.
	Transport http.RoundTripper

	Logger zerolog.Logger
}

// DefaultClientConfig returns sensible defaults for the resilient client.
func DefaultClientConfig(name string) ClientConfig {
	retry := DefaultRetryConfig()
	return ClientConfig{
		Name:    name,
		Timeout: 10 * time.Second,
		Retry:   &retry,
		Logger:  zerolog.Nop(),
	}
}

// Client is an HTTP client that retries transient failures with backoff.
type Client struct {
	name       string
	httpClient *http.Client
	retry      RetryConfig
	breaker    *CircuitBreaker
	retrier    *Retrier
	logger     zerolog.Logger
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if len(retry.RetryableErrors) == 0 {
		retry.RetryableErrors = []Code{CodeExecution}
	}

	retrier := cfg.Retrier
	if retrier == nil {
		retrier = NewRetrier(WithRetryLogger(cfg.Logger))
	}

	return &Client{
		name: cfg.Name,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		retry:   retry,
		breaker: cfg.Breaker,
		retrier: retrier,
		logger:  cfg.Logger,
	}
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.name
}

// Do executes an HTTP request with retry logic, and with breaker protection when a
// breaker is configured. Network errors and 5xx responses are retried; other responses
// are returned as-is. When retries are exhausted on a 5xx, the last response is
// returned with a nil error so the caller can inspect it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes an HTTP request with the given context.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastResp *http.Response

	attempt := func(ctx context.Context) (*http.Response, error) {
		reqClone := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, NewError(CodeValidation, "request body cannot be replayed")
			}
			reqClone.Body = body
		}

		resp, err := c.httpClient.Do(reqClone)
		if err != nil {
			return nil, err
		}

		// Treat 5xx as errors so they are retried and counted by the breaker
		if resp.StatusCode >= 500 {
			if lastResp != nil {
				lastResp.Body.Close()
			}
			lastResp = resp
			return nil, &ServerError{StatusCode: resp.StatusCode}
		}
		return resp, nil
	}

	operation := attempt
	if c.breaker != nil {
		operation = func(ctx context.Context) (*http.Response, error) {
			return Execute(ctx, c.breaker, attempt)
		}
	}

	result, err := RetryWithBackoff(ctx, c.retrier, c.retry, operation)
	if err != nil {
		if lastResp != nil && !HasCode(err, CodeCircuitOpen) {
			c.logger.Warn().
				Str("client", c.name).
				Int("attempts", result.Attempts).
				Int("status", lastResp.StatusCode).
				Msg("retries exhausted on server error")
			return lastResp, nil
		}
		if lastResp != nil {
			lastResp.Body.Close()
		}
		return nil, err
	}

	if lastResp != nil && lastResp != result.Value {
		lastResp.Body.Close()
	}
	return result.Value, nil
}

// ServerError represents an HTTP 5xx server error.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}
