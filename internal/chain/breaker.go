package chain

import (
	"errors"

	"github.com/sony/gobreaker"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Breaker trip thresholds.
//
//nolint:gochecknoglobals // tweakable
var (
	MinRequestsToTrip = uint32(10)
	FailureRatio      = 0.6
)

// NewBreaker returns a circuit breaker that opens once at least
// MinRequestsToTrip requests were seen and FailureRatio of them failed.
// Only network-level failures count; final answers from the remote side
// (4xx) do not.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < MinRequestsToTrip {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
	})
}

// IsBreakerOpen reports whether err came from an open or saturated breaker.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// breakerError maps breaker rejections onto NETWORK_ERROR.
func breakerError(name string, err error) error {
	if IsBreakerOpen(err) {
		return walleterr.WithContext(walleterr.WithCause(walleterr.ErrNetworkError, err),
			map[string]string{"service": name})
	}
	return err
}
