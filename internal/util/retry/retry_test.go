package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithMaxAttempts(5), WithDelay(time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		return boom
	}, WithMaxAttempts(3), WithDelay(time.Millisecond))

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnFatal(t *testing.T) {
	t.Parallel()

	credentials := errors.New("bad credentials")
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		return Fatal(credentials)
	}, WithMaxAttempts(5), WithDelay(time.Millisecond))

	require.ErrorIs(t, err, credentials)
	assert.Equal(t, 1, attempts)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func() error {
		return errors.New("transient")
	}, WithMaxAttempts(10), WithDelay(time.Minute))

	require.ErrorIs(t, err, context.Canceled)
}

func TestWithFixedInterval(t *testing.T) {
	t.Parallel()

	cfg := &Config{Multiplier: 2.0}
	WithFixedInterval(5 * time.Millisecond)(cfg)
	assert.Equal(t, 5*time.Millisecond, cfg.Delay)
	assert.Equal(t, 5*time.Millisecond, cfg.MaxDelay)
	assert.Equal(t, 1.0, cfg.Multiplier)
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	assert.False(t, IsFatal(errors.New("plain")))
	assert.True(t, IsFatal(Fatal(errors.New("plain"))))
}
