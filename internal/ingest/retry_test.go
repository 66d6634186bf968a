package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicySucceedsAfterFailures(t *testing.T) {
	calls := 0
	policy := RetryPolicy{Attempts: 5, Delay: time.Millisecond}

	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("still locked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	calls := 0
	policy := RetryPolicy{Attempts: 4, Delay: time.Millisecond}
	cause := errors.New("still locked")

	err := policy.Do(context.Background(), func() error {
		calls++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "after 4 attempts")
}

func TestRetryPolicyZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := RetryPolicy{}.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := RetryPolicy{Attempts: 100, Delay: 10 * time.Millisecond}

	err := policy.Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("still locked")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
