package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("fails twice then succeeds", func(t *testing.T) {
		calls := 0
		res, err := retry.Do(context.Background(), retry.Policy{Attempts: 3, Backoff: time.Millisecond, Name: "test"},
			func(context.Context) (string, error) {
				calls++
				if calls < 3 {
					return "", errBoom
				}
				return "ok", nil
			})
		require.NoError(t, err)
		assert.Equal(t, "ok", res)
		assert.Equal(t, 3, calls)
	})

	t.Run("always fails", func(t *testing.T) {
		calls := 0
		var last error
		_, err := retry.Do(context.Background(), retry.Policy{Attempts: 3, Backoff: time.Millisecond},
			func(context.Context) (int, error) {
				calls++
				last = errors.Newf("attempt %d", calls)
				return 0, last
			})
		assert.Equal(t, 3, calls)
		// the final error, unmodified
		assert.Same(t, last, err)
		assert.EqualError(t, err, "attempt 3")
	})

	t.Run("zero policy runs once", func(t *testing.T) {
		calls := 0
		_, err := retry.Do(context.Background(), retry.Policy{}, func(context.Context) (int, error) {
			calls++
			return 0, errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, calls)
	})

	t.Run("success first", func(t *testing.T) {
		calls := 0
		res, err := retry.Do(context.Background(), retry.Policy{Attempts: 5}, func(context.Context) (int, error) {
			calls++
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, res)
		assert.Equal(t, 1, calls)
	})
}

func TestDo_BackoffDoubles(t *testing.T) {
	var stamps []time.Time
	_, _ = retry.Do(context.Background(), retry.Policy{Attempts: 3, Backoff: 20 * time.Millisecond},
		func(context.Context) (int, error) {
			stamps = append(stamps, time.Now())
			return 0, errors.New("x")
		})
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 40*time.Millisecond)
}

func TestDo_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	_, err := retry.Do(ctx, retry.Policy{Attempts: 3, Backoff: time.Minute}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("x")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(started), 10*time.Second)
}
