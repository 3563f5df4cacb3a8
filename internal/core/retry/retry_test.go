package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeErr struct {
	retry bool
}

func (e *fakeErr) Error() string   { return "fake" }
func (e *fakeErr) Retryable() bool { return e.retry }

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2, Jitter: false}
	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return &fakeErr{retry: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(context.Context) error {
		calls++
		return &fakeErr{retry: false}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, Jitter: false}
	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return &fakeErr{retry: true}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}
