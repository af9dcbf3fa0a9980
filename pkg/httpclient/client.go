// Package httpclient provides a rate-limit aware HTTP client with
// exponential backoff. The LLM providers use it with retries enabled;
// the tool transports construct it with WithMaxRetries(0) because retrying
// a side-effect-bearing tool call belongs to the caller, not this layer.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryStrategy selects how aggressively a failed request is retried.
type RetryStrategy int

const (
	// NoRetry returns the response to the caller immediately.
	NoRetry RetryStrategy = iota

	// ConservativeRetry performs at most two quick retries for transient
	// server errors.
	ConservativeRetry

	// SmartRetry honors rate-limit headers and backs off exponentially.
	SmartRetry
)

// RateLimitInfo is what a header parser extracted from a 429/503 response.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

// HeaderParser extracts rate-limit info from provider-specific headers.
type HeaderParser func(http.Header) RateLimitInfo

// StrategyFunc maps an HTTP status code to a retry strategy.
type StrategyFunc func(statusCode int) RetryStrategy

// Client wraps *http.Client with retry behavior.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser HeaderParser
	strategyFunc StrategyFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithMaxRetries sets the retry budget. Zero disables retries entirely.
func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

// WithBaseDelay sets the base backoff delay.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

// WithHeaderParser installs a provider-specific rate-limit header parser.
func WithHeaderParser(parser HeaderParser) Option {
	return func(c *Client) { c.headerParser = parser }
}

// WithStrategy replaces the status-code-to-strategy mapping.
func WithStrategy(fn StrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = fn }
}

// New builds a Client. Defaults: 60s timeout, 3 retries, 2s base delay.
func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   3,
		baseDelay:    2 * time.Second,
		strategyFunc: DefaultStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultStrategy retries rate limits smartly and transient server errors
// conservatively.
func DefaultStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying per the configured strategy. The
// request context governs the total wall time including backoff sleeps.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, strategy, info, err := c.attempt(req)
		if strategy == NoRetry || err == nil {
			return resp, err
		}

		delay := c.delay(strategy, attempt, info)
		if attempt >= c.maxRetries || delay <= 0 {
			if resp != nil {
				return resp, &RetryableError{
					StatusCode: resp.StatusCode,
					Message:    fmt.Sprintf("retry budget (%d) exhausted", c.maxRetries),
					RetryAfter: delay,
					Err:        err,
				}
			}
			return nil, &RetryableError{
				Message:    fmt.Sprintf("retry budget (%d) exhausted", c.maxRetries),
				RetryAfter: c.baseDelay,
				Err:        err,
			}
		}

		if resp != nil {
			resp.Body.Close()
			slog.Debug("retrying HTTP request",
				"status", resp.StatusCode,
				"delay", delay,
				"attempt", attempt+1,
				"max", c.maxRetries,
			)
		}

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) attempt(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var info RateLimitInfo
	if c.headerParser != nil {
		info = c.headerParser(resp.Header)
	}
	return resp, c.strategyFunc(resp.StatusCode), info, fmt.Errorf("HTTP %d", resp.StatusCode)
}

func (c *Client) delay(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if d := time.Until(time.Unix(info.ResetTime, 0)); d > 0 {
				return d
			}
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		return backoff + time.Duration(float64(backoff)*0.1)

	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(2+attempt) * time.Second

	default:
		return 0
	}
}
