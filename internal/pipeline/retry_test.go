package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	delays := backoff{initial: 100 * time.Millisecond, limit: time.Second}

	assert.Equal(t, 100*time.Millisecond, delays.delay(1))
	assert.Equal(t, 200*time.Millisecond, delays.delay(2))
	assert.Equal(t, 400*time.Millisecond, delays.delay(3))
	assert.Equal(t, 800*time.Millisecond, delays.delay(4))
	assert.Equal(t, time.Second, delays.delay(5))
	assert.Equal(t, time.Second, delays.delay(50))
}

func TestSleepObservesCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, sleep(context.Background(), time.Millisecond))
}

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := Options{}.withDefaults()

	assert.Equal(t, DefaultConcurrency, opts.Concurrency)
	assert.Equal(t, DefaultExtractionAttempts, opts.ExtractionAttempts)
	assert.Equal(t, DefaultSynthesisAttempts, opts.SynthesisAttempts)
	assert.Equal(t, DefaultBackoffInitial, opts.BackoffInitial)
	assert.Equal(t, DefaultBackoffMax, opts.BackoffMax)
	assert.Zero(t, opts.SynthesisTimeout)
}
