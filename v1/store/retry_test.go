package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetryTransaction_SucceedsAfterConflicts(t *testing.T) {
	calls := 0
	err := RetryTransaction(context.Background(), fastPolicy(5), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: m1", ErrConflict)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryTransaction_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := RetryTransaction(context.Background(), fastPolicy(4), func() error {
		calls++
		return ErrConflict
	})

	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 4, calls)
}

func TestRetryTransaction_OtherErrorsStopImmediately(t *testing.T) {
	boom := errors.New("disk full")
	calls := 0
	err := RetryTransaction(context.Background(), fastPolicy(5), func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryTransaction_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryTransaction(ctx, fastPolicy(10), func() error {
		calls++
		cancel()
		return ErrConflict
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryTransaction_ZeroPolicyUsesDefault(t *testing.T) {
	calls := 0
	err := RetryTransaction(context.Background(), RetryPolicy{}, func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}
