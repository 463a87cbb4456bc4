package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

const (
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseBody caps response bodies at 10 MB.
	DefaultMaxResponseBody int64 = 10 << 20
)

// ClientOptions configures a JSONClient. Zero values select defaults.
type ClientOptions struct {
	Timeout    time.Duration
	Limiter    *RateLimiter
	Retry      *RetryConfig
	Header     http.Header
	HTTPClient *http.Client
	Logger     LogWriter
	Observer   Observer
}

// Observer receives the outcome of every remote call, retries included.
type Observer interface {
	RecordRPCCall(service string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) RecordRPCCall(string, time.Duration, error) {}

// JSONClient issues JSON requests to one remote service with per-request
// timeouts, per-host rate limits, retries and a circuit breaker.
type JSONClient struct {
	name     string
	http     *http.Client
	timeout  time.Duration
	limiter  *RateLimiter
	retry    RetryConfig
	header   http.Header
	breaker  *gobreaker.CircuitBreaker
	logger   LogWriter
	observer Observer
}

// NewJSONClient creates a client for the service called name.
func NewJSONClient(name string, opts *ClientOptions) *JSONClient {
	if opts == nil {
		opts = &ClientOptions{}
	}
	c := &JSONClient{
		name:     name,
		http:     opts.HTTPClient,
		timeout:  opts.Timeout,
		limiter:  opts.Limiter,
		retry:    DefaultRetryConfig(),
		header:   opts.Header,
		breaker:  NewBreaker(name),
		logger:   opts.Logger,
		observer: opts.Observer,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.limiter == nil {
		c.limiter = DefaultRateLimiter()
	}
	if opts.Retry != nil {
		c.retry = *opts.Retry
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	return c
}

// Name returns the service name.
func (c *JSONClient) Name() string { return c.name }

// Do sends in (if non-nil) as JSON and decodes the response into out (if
// non-nil).
func (c *JSONClient) Do(ctx context.Context, method, endpoint string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return walleterr.Wrap(err, "encoding %s request", c.name)
		}
	}

	return c.Call(ctx, method, endpoint, func(ctx context.Context) error {
		return c.once(ctx, method, endpoint, payload, out)
	})
}

// Call runs op under the client's rate limit, retry policy, circuit breaker
// and per-attempt timeout. endpoint keys the rate limit and log lines; op
// returns the same error kinds as Do.
func (c *JSONClient) Call(ctx context.Context, method, endpoint string, op func(ctx context.Context) error) error {
	start := time.Now()
	_, err := RetryWithConfig(ctx, c.retry, func() (struct{}, error) {
		if err := c.limiter.Wait(ctx, endpoint); err != nil {
			return struct{}{}, err
		}
		_, err := c.breaker.Execute(func() (any, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return nil, op(attemptCtx)
		})
		if err != nil {
			c.logger.Debug("%s: %s %s: %v", c.name, method, endpoint, err)
		}
		return struct{}{}, breakerError(c.name, err)
	})
	c.observer.RecordRPCCall(c.name, time.Since(start), err)
	return err
}

func (c *JSONClient) once(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrInvalidInput, "building request: %v", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return walleterr.WithCause(walleterr.ErrTimeout, err)
		}
		return walleterr.WithCause(walleterr.ErrNetworkError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	limited := io.LimitReader(resp.Body, DefaultMaxResponseBody)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(limited)
		err := StatusError(resp.StatusCode, bytes.TrimSpace(raw))
		if wait := ParseRetryAfter(resp.Header.Get("Retry-After")); wait > 0 {
			err = walleterr.WithContext(err, map[string]string{"retry_after": wait.String()})
		}
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, limited)
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return walleterr.WithContext(walleterr.Wrap(ErrRejected, "decoding %s response: %v", c.name, err),
			map[string]string{"endpoint": endpoint})
	}
	return nil
}
