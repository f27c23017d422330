// Package api implements the resilient HTTP client for the remote trip API.
//
// Every call attaches the stored bearer credential, retries transient
// failures (timeouts, resets, DNS errors, 502/503/504) with exponential
// backoff, and on a 401 performs exactly one session-refresh-and-retry.
// Failures are surfaced as *Error values carrying the HTTP status so the
// sync engine can classify outcomes without string matching.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/minex/haulsync/internal/credentials"
)

// Backoff schedule for transient failures: 250ms, 500ms, 1000ms between
// the four total attempts.
const (
	backoffBase = 250 * time.Millisecond
	maxRetries  = 3
)

// Client calls the remote trip API.
type Client struct {
	baseURL string
	http    *http.Client
	creds   credentials.Store
	loc     *time.Location
	log     *slog.Logger

	// now is stubbed in tests that pin the day window.
	now func() time.Time
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithClock overrides the clock used to compute the "today" trip window.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New constructs a Client.
//
// baseURL is the API root without a trailing slash. timeout applies to
// every outbound request; a timed-out call counts as a transient failure.
// loc is the mine site's timezone, used for the day-window query. A nil
// logger falls back to slog.Default().
func New(baseURL string, timeout time.Duration, creds credentials.Store, loc *time.Location, log *slog.Logger, opts ...Option) *Client {
	if log == nil {
		log = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		creds:   creds,
		loc:     loc,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs one logical API call: transient-retried, bearer-attached,
// with the single 401 refresh-and-retry. retryNotFound additionally treats
// 404 as retryable, absorbing read-after-write lag on the server
// (GetTripByToken only).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, retryNotFound bool) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api: marshal request: %w", err)
		}
	}

	data, err := c.doRetry(ctx, method, path, query, payload, retryNotFound)
	if StatusOf(err) != http.StatusUnauthorized {
		return data, err
	}

	// One refresh-and-retry. On refresh failure, clear all credentials and
	// propagate the original 401 so the caller forces re-authentication.
	if refreshErr := c.refreshSession(ctx); refreshErr != nil {
		c.log.Warn("session refresh failed, clearing credentials", "error", refreshErr)
		if clearErr := c.creds.Clear(ctx); clearErr != nil {
			c.log.Error("failed to clear credentials", "error", clearErr)
		}
		return nil, err
	}
	return c.doRetry(ctx, method, path, query, payload, retryNotFound)
}

// doRetry runs the request through the exponential backoff schedule.
func (c *Client) doRetry(ctx context.Context, method, path string, query url.Values, payload []byte, retryNotFound bool) ([]byte, error) {
	var out []byte
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(backoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		data, err := c.roundTrip(ctx, method, path, query, payload)
		if err != nil {
			if isTransient(err) || (retryNotFound && StatusOf(err) == http.StatusNotFound) {
				c.log.Debug("retrying transient failure", "method", method, "path", path, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		out = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// roundTrip executes exactly one HTTP exchange. Non-2xx responses become
// *Error values with the parsed body message.
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.creds.AuthToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb) // best effort; body may not be JSON
		msg := eb.Error
		if msg == "" {
			msg = eb.Message
		}
		return nil, &Error{StatusCode: resp.StatusCode, Message: msg, TripToken: eb.TripToken}
	}
	return data, nil
}
