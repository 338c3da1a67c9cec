// Package timeapi fetches the current UTC time from public time APIs.
//
// Two response shapes are understood: worldtimeapi.org ("utc_datetime") and
// timeapi.io ("dateTime"). Anything else falls back to the HTTP Date header.
package timeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"bricklayer/pkg/httpx"
)

const (
	// DefaultURL is a reliable free endpoint returning UTC time as JSON.
	DefaultURL = "https://worldtimeapi.org/api/timezone/Etc/UTC"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
	snippetBytes   = 500
)

var (
	// ErrRequestFailed covers transport failures and non-2xx statuses.
	ErrRequestFailed = errors.New("time request failed")
	// ErrUnparseableResponse means the endpoint answered but no timestamp
	// could be extracted.
	ErrUnparseableResponse = errors.New("could not parse UTC time from response")
)

// Config is the runtime configuration of the time client, read from the
// environment.
type Config struct {
	URL     string
	Timeout time.Duration
}

// ConfigFromEnv reads TIME_URL and HTTP_TIMEOUT (seconds), applying the
// defaults of the original deployment.
func ConfigFromEnv() (Config, error) {
	cfg := Config{URL: DefaultURL, Timeout: defaultTimeout}

	if url := os.Getenv("TIME_URL"); url != "" {
		cfg.URL = url
	}
	if raw := os.Getenv("HTTP_TIMEOUT"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid HTTP_TIMEOUT %q", raw)
		}
		cfg.Timeout = time.Duration(seconds * float64(time.Second))
	}

	return cfg, nil
}

// Client fetches timestamps with retry on transient failures.
type Client struct {
	url    string
	client *httpx.Client
}

// NewClient creates a time client for the configured endpoint.
func NewClient(cfg Config, opts ...httpx.Option) *Client {
	return &Client{
		url:    cfg.URL,
		client: httpx.NewClient(cfg.Timeout, opts...),
	}
}

// Now fetches the current UTC time as an ISO 8601 string.
func (c *Client) Now(ctx context.Context) (string, error) {
	resp, err := c.client.Get(ctx, c.url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s returned status %d", ErrRequestFailed, c.url, resp.StatusCode)
	}

	if ts, ok := parseBody(body); ok {
		return ts, nil
	}
	if ts, ok := parseDateHeader(resp.Header.Get("Date")); ok {
		return ts, nil
	}

	return "", fmt.Errorf("%w: status %d, body %q", ErrUnparseableResponse, resp.StatusCode, snippet(body))
}

// parseBody extracts the timestamp from a known JSON shape.
func parseBody(body []byte) (string, bool) {
	var payload struct {
		UTCDatetime string `json:"utc_datetime"` // worldtimeapi.org
		DateTime    string `json:"dateTime"`     // timeapi.io
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}

	if payload.UTCDatetime != "" {
		return payload.UTCDatetime, true
	}
	if payload.DateTime != "" {
		return payload.DateTime, true
	}
	return "", false
}

// parseDateHeader converts an RFC 1123 Date header to ISO 8601 UTC.
func parseDateHeader(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	t, err := http.ParseTime(header)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func snippet(body []byte) string {
	if len(body) > snippetBytes {
		return string(body[:snippetBytes])
	}
	return string(body)
}
