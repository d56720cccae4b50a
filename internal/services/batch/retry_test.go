package batch

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return NewRetryPolicy(common.BatchConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: common.Duration(time.Millisecond),
		MaxBackoff:     common.Duration(50 * time.Millisecond),
	})
}

func TestRetryPolicy_TransientStatusThenSuccess(t *testing.T) {
	policy := fastPolicy(3)

	calls := 0
	status, err := policy.ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		if calls <= 2 {
			return 503, nil
		}
		return 200, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, 3, calls, "two 503s then success must take exactly three calls")
}

func TestRetryPolicy_ClientErrorFailsImmediately(t *testing.T) {
	policy := fastPolicy(3)

	calls := 0
	status, _ := policy.ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		return 404, errors.New("not found")
	})

	assert.Equal(t, 404, status)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	policy := fastPolicy(2)

	calls := 0
	status, err := policy.ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		return 503, errors.New("service unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 503, status)
	assert.Equal(t, 3, calls, "MaxRetries=2 means three attempts total")
}

func TestRetryPolicy_ExhaustsOnRetryableStatusAlone(t *testing.T) {
	policy := fastPolicy(2)

	calls := 0
	status, err := policy.ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		return 503, nil
	})

	require.Error(t, err, "a run that never got past 503 must not report success")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 503, status)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := fastPolicy(3)

	var timeoutErr net.Error = &net.DNSError{IsTimeout: true}

	tests := []struct {
		name     string
		attempt  int
		status   int
		err      error
		expected bool
	}{
		{"429 rate limited", 0, 429, nil, true},
		{"503 unavailable", 0, 503, nil, true},
		{"408 timeout", 0, 408, nil, true},
		{"404 permanent", 0, 404, nil, false},
		{"401 permanent", 0, 401, nil, false},
		{"network timeout", 0, 0, timeoutErr, true},
		{"deadline exceeded", 0, 0, context.DeadlineExceeded, true},
		{"plain error", 0, 0, errors.New("boom"), false},
		{"attempts exhausted", 4, 503, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.ShouldRetry(tt.attempt, tt.status, tt.err))
		})
	}
}

func TestRetryPolicy_BackoffGrowsAndCaps(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:       10,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	// Jitter is ±25%, so successive attempts still never shrink and the cap
	// is never exceeded by more than the jitter margin.
	prev := time.Duration(0)
	for attempt := 0; attempt < 8; attempt++ {
		backoff := policy.CalculateBackoff(attempt)
		assert.GreaterOrEqual(t, backoff, prev, "backoff must not shrink at attempt %d", attempt)
		assert.LessOrEqual(t, backoff, time.Duration(float64(policy.MaxBackoff)*1.25))
		if attempt < 3 {
			prev = backoff
		} else {
			prev = time.Duration(float64(policy.MaxBackoff) * 0.75)
		}
	}
}

func TestRetryPolicy_ContextCancelDuringBackoff(t *testing.T) {
	policy := NewRetryPolicy(common.BatchConfig{
		MaxRetries:     3,
		InitialBackoff: common.Duration(time.Second),
		MaxBackoff:     common.Duration(time.Second),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := policy.ExecuteWithRetry(ctx, arbor.NewLogger(), func() (int, error) {
		calls++
		return 503, nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls, "cancellation during backoff must not dispatch again")
}
