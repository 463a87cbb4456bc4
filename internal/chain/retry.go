package chain

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Retry sentinels. Timeouts and network failures from pkg/errors are
// retried as well.
var (
	ErrRetryable = walleterr.New("RETRYABLE_ERROR", "retryable error")

	ErrRateLimited = walleterr.New("RATE_LIMITED", "rate limited by remote service")

	// ErrRejected is a final answer from the remote side.
	ErrRejected = &walleterr.WalletError{
		Code:        "REMOTE_REJECTED",
		Description: "request rejected by remote service",
		Category:    walleterr.CategoryExternal,
		ExitCode:    walleterr.ExitGeneral,
	}
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts int           // including the first
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration
}

// DefaultRetryConfig retries three times after 250ms, 500ms and 1s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    time.Second,
	}
}

// Retry runs operation with DefaultRetryConfig.
func Retry[T any](ctx context.Context, operation func() (T, error)) (T, error) {
	return RetryWithConfig(ctx, DefaultRetryConfig(), operation)
}

// RetryWithConfig runs operation until it succeeds, returns a non-retryable
// error, runs out of attempts, or ctx is done.
func RetryWithConfig[T any](ctx context.Context, cfg RetryConfig, operation func() (T, error)) (T, error) {
	var result T
	var err error
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err = operation()
		if err == nil || !IsRetryable(err) {
			return result, err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(backoff(attempt, cfg.BaseDelay, cfg.MaxDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, walleterr.WithCause(walleterr.ErrTimeout, ctx.Err())
		case <-timer.C:
		}
	}

	return result, walleterr.WithContext(err, map[string]string{"attempts": strconv.Itoa(cfg.MaxAttempts)})
}

// backoff doubles the delay per attempt and picks a point in [d/2, d).
func backoff(attempt int, base, limit time.Duration) time.Duration {
	delay := base << attempt
	if delay > limit || delay <= 0 {
		delay = limit
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half) //nolint:gosec // jitter only
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil || IsBreakerOpen(err) {
		return false
	}
	return errors.Is(err, ErrRetryable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, walleterr.ErrTimeout) ||
		errors.Is(err, walleterr.ErrNetworkError) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ParseRetryAfter parses a Retry-After header given in seconds.
func ParseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// ResponseError carries an unexpected HTTP response. Status is zero when
// the failure came from an SDK that only reports the response text.
type ResponseError struct {
	Status int
	Body   []byte
}

func (e *ResponseError) Error() string {
	if e.Status == 0 {
		return string(e.Body)
	}
	if len(e.Body) == 0 {
		return "status " + strconv.Itoa(e.Status)
	}
	return "status " + strconv.Itoa(e.Status) + ": " + string(e.Body)
}

// StatusError classifies an unexpected HTTP response: 429 and 5xx are
// retryable, anything else is final.
func StatusError(status int, body []byte) error {
	resp := &ResponseError{Status: status, Body: body}
	ctx := map[string]string{"status": strconv.Itoa(status)}
	switch {
	case status == http.StatusTooManyRequests:
		return walleterr.WithContext(walleterr.WithCause(ErrRateLimited, resp), ctx)
	case status >= http.StatusInternalServerError:
		return walleterr.WithContext(walleterr.WithCause(walleterr.ErrNetworkError, resp), ctx)
	default:
		return walleterr.WithContext(walleterr.WithCause(ErrRejected, resp), ctx)
	}
}
