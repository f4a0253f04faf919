package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) *Policy {
	return &Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDelay_Exponential(t *testing.T) {
	p := &Policy{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, time.Minute, p.Delay(10))
}

func TestDelay_JitterWithinBounds(t *testing.T) {
	p := &Policy{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0, RandomizeFactor: 0.25}
	for i := 0; i < 20; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retries []Attempt

	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(a Attempt) { retries = append(retries, a) })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, retries, 2)
	assert.Equal(t, 1, retries[0].Number)
	assert.Equal(t, 2, retries[1].Number)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	last := errors.New("still failing")

	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return last
	}, nil)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Equal(t, 5, calls)
	assert.ErrorIs(t, err, last)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("bad request")

	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(fatal)
	}, nil)

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Policy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2.0}

	err := p.Do(ctx, func(context.Context) error {
		cancel()
		return errors.New("fail")
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Zero(t, p.RandomizeFactor)
}
