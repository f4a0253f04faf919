// Package retry implements exponential backoff for transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/metasync/pkg/config"
)

// Policy defines retry behavior. The delay before retry n (0-based) is
// InitialDelay * Multiplier^n, capped at MaxDelay.
type Policy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// FromConfig builds a policy from the retry section of the configuration.
func FromConfig(cfg config.RetryConfig) *Policy {
	p := &Policy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
	}
	if cfg.Jitter {
		p.RandomizeFactor = 0.25
	}
	return p
}

// Default returns the policy used for Graph API requests: five attempts,
// one second base delay doubling each time, no jitter.
func Default() *Policy {
	return FromConfig(config.Default().Retry)
}

// Attempt describes a failed try passed to the OnRetry hook.
type Attempt struct {
	Number int // 1-based number of the attempt that failed
	Delay  time.Duration
	Err    error
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the inner error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a Permanent error, the attempts are
// exhausted or ctx is done. onRetry, when non-nil, is called before each
// backoff sleep.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(Attempt)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(Attempt{Number: attempt + 1, Delay: delay, Err: err})
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: attempts, Last: lastErr}
}

// Delay returns the backoff for a given 0-based retry number.
func (p *Policy) Delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.RandomizeFactor > 0 {
		delta := delay * p.RandomizeFactor
		delay = delay - delta + rand.Float64()*(2*delta) //nolint:gosec // jitter only
	}

	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
