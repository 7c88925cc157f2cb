package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// HTTPOptions configures the transport shared by HTTP-backed connectors.
type HTTPOptions struct {
	Timeout    time.Duration
	RPS        float64
	Burst      int
	MaxRetries int
	Client     *http.Client
}

// UpstreamError reports a non-2xx response. The body is deliberately not kept.
type UpstreamError struct {
	Op     string
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Op, e.Status)
}

type httpClient struct {
	client     *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	logger     *observability.Logger
}

func newHTTPClient(opts HTTPOptions, logger *observability.Logger) *httpClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &httpClient{
		client:     client,
		limiter:    rate.NewLimiter(limit, opts.Burst),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		logger:     logger,
	}
}

// getJSON issues a rate limited GET and decodes the JSON body into out.
// The whole exchange, retries included, is bounded by the client timeout.
func (c *httpClient) getJSON(ctx context.Context, op, endpoint string, query url.Values, headers map[string]string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackoff(), uint64(c.maxRetries)), ctx)

	start := time.Now()
	err := backoff.Retry(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			upstream := &UpstreamError{Op: op, Status: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return upstream
			}
			return backoff.Permanent(upstream)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("%s: decode response: %w", op, err))
		}
		return nil
	}, policy)

	c.logger.Debug().
		Str("op", op).
		Dur("elapsed", time.Since(start)).
		Bool("ok", err == nil).
		Msg("Provider request finished")

	return err
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.RandomizationFactor = 0.1
	return b
}

// logFailure logs an upstream failure with its status but never its body.
func logFailure(logger *observability.Logger, provider, op string, err error) {
	evt := logger.Warn().Str("provider", provider).Str("op", op)
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		evt = evt.Int("upstream_status", upstream.Status)
	} else {
		evt = evt.Err(err)
	}
	evt.Msg("Provider call failed, returning empty result")
}
