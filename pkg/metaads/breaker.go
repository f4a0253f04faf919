package metaads

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/metasync/pkg/metrics"
)

const breakerName = "meta-graph-api"

// newBreaker builds the circuit breaker guarding Graph API round trips.
// It opens after threshold consecutive failures and probes again with a
// single request once timeout has elapsed.
func newBreaker(threshold uint32, timeout time.Duration, logger *zap.Logger) *gobreaker.CircuitBreaker[interface{}] {
	if threshold == 0 {
		threshold = 20
	}
	metrics.BreakerState.WithLabelValues(breakerName).Set(stateToFloat(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// a cancelled caller says nothing about the API's health
			return err == nil || errors.Is(err, errCancelled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
