// Package portal implements the PortalClient port against the university
// portal's GraphQL API.
package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
	"github.com/ericfisherdev/gradewatch/internal/metrics"
)

// Compile-time interface satisfaction check.
var _ driven.PortalClient = (*Client)(nil)

// maxResponseBytes caps how much of a portal response is read.
const maxResponseBytes = 8 << 20

// errUnauthorized marks a 401/403 answer. It never trips the breaker.
var errUnauthorized = errors.New("portal rejected credentials")

// Config holds the portal connection settings.
type Config struct {
	Endpoint          string
	LoginEndpoint     string
	Terms             []string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	UserAgent         string
}

// Client implements driven.PortalClient. Every request passes through a
// shared rate limiter and circuit breaker so a struggling portal is not
// hammered by a full fan-out.
type Client struct {
	http    *http.Client
	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]

	// retryInterval is the first login retry delay.
	retryInterval time.Duration
}

// NewClient creates a portal client with its own http.Client.
func NewClient(cfg Config) *Client {
	return NewClientWithHTTPClient(&http.Client{Timeout: cfg.Timeout}, cfg)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// Tests use it to point the client at an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, cfg Config) *Client {
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	return &Client{
		http:          httpClient,
		cfg:           cfg,
		limiter:       rate.NewLimiter(limit, burst),
		breaker:       newBreaker("portal"),
		retryInterval: time.Second,
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errUnauthorized)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("portal circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// post sends one GraphQL request and returns the raw response body.
// Non-2xx answers and transport failures wrap driven.ErrPortalUnavailable;
// 401/403 wrap errUnauthorized.
func (c *Client) post(ctx context.Context, url, operation string, req graphqlRequest, token string) ([]byte, error) {
	start := time.Now()
	body, err := c.doPost(ctx, url, req, token)
	metrics.RecordPortalRequest(operation, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return body, nil
}

func (c *Client) doPost(ctx context.Context, url string, req graphqlRequest, token string) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", driven.ErrPortalUnavailable, err)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")
		if c.cfg.UserAgent != "" {
			httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", driven.ErrPortalUnavailable, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %w", driven.ErrPortalUnavailable, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("%w: status %d", errUnauthorized, resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return nil, fmt.Errorf("%w: status %d", driven.ErrPortalUnavailable, resp.StatusCode)
		case len(bytes.TrimSpace(data)) == 0:
			return nil, fmt.Errorf("%w: empty response body", driven.ErrPortalUnavailable)
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", driven.ErrPortalUnavailable, err)
	}
	return body, err
}

// decode unmarshals a GraphQL response body, reporting JSON errors as
// malformed data.
func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", driven.ErrMalformedData, err)
	}
	return nil
}

func joinErrors(errs []graphqlError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
