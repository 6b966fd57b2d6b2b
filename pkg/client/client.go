package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/campuscode/harvest/pkg/core"
	"github.com/campuscode/harvest/pkg/metrics"
	"github.com/campuscode/harvest/pkg/ratelimit"
	"github.com/campuscode/harvest/pkg/security"
)

// Headers the remote API uses to report its own quota accounting.
const (
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
)

// Client executes GraphQL queries against the external API, gated by a rate
// budget. Local budget rejections surface as RateLimitedError without
// touching the network; server-signaled throttling (403/429) is retried a
// bounded number of times with backoff, then surfaces as
// RemoteThrottledError.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	budget     *ratelimit.Budget
	retry      RetryConfig
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig sets the throttling retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) {
		cfg.MaxAttempts = security.ClampRetries(cfg.MaxAttempts)
		c.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a gated client for the API at baseURL.
func New(baseURL, token string, budget *ratelimit.Budget, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		token:      token,
		budget:     budget,
		retry:      DefaultRetryConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// graphQLRequest is the wire shape of one query.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLEnvelope carries the response data plus any query-level errors.
type graphQLEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query runs one GraphQL query and unmarshals the response data into out.
// Every successful call is recorded against the budget, and the budget is
// reconciled from the response's quota headers when present.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	adm := c.budget.TryAdmit()
	c.metrics.RecordAdmission(adm.Admitted)
	if !adm.Admitted {
		return core.RateLimited(adm.RetryAfter)
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("client: failed to marshal query: %w", err)
	}

	var data json.RawMessage
	err = retryWithBackoff(ctx, c.retry, func() error {
		var attemptErr error
		data, attemptErr = c.doRequest(ctx, body)
		return attemptErr
	})
	if err != nil {
		var throttled *throttledAttempt
		if errors.As(err, &throttled) {
			c.logger.Warn("remote throttling persisted after retries", "status", throttled.status)
			return core.RemoteThrottled(throttled)
		}
		return err
	}

	c.budget.RecordSuccess()

	if out != nil && data != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("client: failed to decode response: %w", err)
		}
	}
	return nil
}

// Remaining exposes the budget's current remaining quota.
func (c *Client) Remaining() int {
	return c.budget.Remaining()
}

// QuotaResetAt exposes when the budget's current window ends.
func (c *Client) QuotaResetAt() time.Time {
	return c.budget.ResetAt()
}

func (c *Client) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.observeQuotaHeaders(resp)

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &throttledAttempt{status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, permanent(fmt.Errorf("client: unexpected status %d: %s", resp.StatusCode, raw))
	}

	var envelope graphQLEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("client: failed to decode envelope: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return nil, permanent(fmt.Errorf("client: query error: %s", envelope.Errors[0].Message))
	}
	return envelope.Data, nil
}

// observeQuotaHeaders reconciles the local budget with the server's own
// accounting when the response reports it.
func (c *Client) observeQuotaHeaders(resp *http.Response) {
	remainingStr := resp.Header.Get(headerRateRemaining)
	resetStr := resp.Header.Get(headerRateReset)
	if remainingStr == "" || resetStr == "" {
		return
	}

	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return
	}
	resetEpoch, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return
	}

	c.budget.ObserveServerQuota(remaining, time.Unix(resetEpoch, 0))
}

// throttledAttempt marks one 403/429 response inside the retry loop.
type throttledAttempt struct {
	status int
}

func (e *throttledAttempt) Error() string {
	return fmt.Sprintf("server throttled request (status %d)", e.status)
}
