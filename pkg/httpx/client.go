// Package httpx provides an HTTP client with bounded retries and exponential
// backoff for idempotent requests.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 8 * time.Second
)

// retryableStatus reports whether a response status is worth retrying.
// Matches the classic transient set: 429 and the 5xx gateway family.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client wraps an http.Client with retry and backoff for GET and HEAD
// requests. Non-idempotent methods are intentionally not offered.
type Client struct {
	http       *http.Client
	maxRetries int
	minBackoff time.Duration
	maxBackoff time.Duration
}

// Option mutates client configuration.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxRetries int, minBackoff, maxBackoff time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if minBackoff > 0 {
			c.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			c.maxBackoff = maxBackoff
		}
	}
}

// NewClient creates a retrying client with the given per-request timeout.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	client := &Client{
		http:       &http.Client{Timeout: timeout},
		maxRetries: defaultMaxRetries,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Get issues a GET request, retrying transport errors and transient statuses.
// The caller owns the response body. A non-2xx status on the final attempt is
// returned as a response, not an error.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, url)
}

// Head issues a HEAD request with the same retry behavior as Get.
func (c *Client) Head(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodHead, url)
}

func (c *Client) do(ctx context.Context, method, url string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if retryableStatus(resp.StatusCode) && attempt < c.maxRetries {
			drain(resp)
			lastErr = fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%s %s after %d attempts: %w", method, url, c.maxRetries+1, lastErr)
}

// sleep waits out the backoff for the given attempt, doubling from minBackoff
// and capping at maxBackoff. Cancellation cuts the wait short.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	backoff := c.minBackoff << (attempt - 1)
	if backoff > c.maxBackoff || backoff <= 0 {
		backoff = c.maxBackoff
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
