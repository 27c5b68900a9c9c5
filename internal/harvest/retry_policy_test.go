package harvest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)

	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(errors.New("bad request"), 1))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))

	transient := &TransientError{Err: errors.New("status 502")}
	require.True(t, p.ShouldRetry(transient, 1))
	require.True(t, p.ShouldRetry(fmt.Errorf("search: %w", transient), 2))
	require.False(t, p.ShouldRetry(transient, 3), "attempts exhausted")
}

func TestBackoffBounded(t *testing.T) {
	t.Parallel()

	base := 10 * time.Millisecond
	max := 80 * time.Millisecond
	p := NewExponentialRetryPolicy(5, base, max)

	for attempt := 0; attempt < 8; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, max)
	}
}

func TestBackoffGrowsWithAttempts(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, time.Hour)

	// Jitter keeps half the delay random; the deterministic half still
	// guarantees a later attempt's floor exceeds an earlier attempt's ceiling
	// two steps apart.
	require.Greater(t, p.Backoff(3), p.Backoff(0))
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	inner := errors.New("connection refused")
	require.False(t, IsTransient(inner))
	require.True(t, IsTransient(&TransientError{Err: inner}))
	require.True(t, IsTransient(fmt.Errorf("fetch: %w", &TransientError{Err: inner})))
}

func TestPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(0, 0, 0)
	require.False(t, p.ShouldRetry(&TransientError{Err: errors.New("x")}, 3))
	require.True(t, p.ShouldRetry(&TransientError{Err: errors.New("x")}, 2))
}
