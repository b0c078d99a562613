package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func failTwice(calls *int, final error) func(context.Context) (string, error) {
	first := errors.New("transient 1")
	second := errors.New("transient 2")
	return func(context.Context) (string, error) {
		*calls++
		switch *calls {
		case 1:
			return "", first
		case 2:
			return "", second
		default:
			return "ok", final
		}
	}
}

func TestDo(t *testing.T) {
	t.Run("SucceedsOnThirdAttempt", func(t *testing.T) {
		rec := &recorder{}
		var retried []int
		calls := 0

		got, err := Do(context.Background(), Options{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			OnRetry:      func(_ error, attempt int) { retried = append(retried, attempt) },
			Sleep:        rec.sleep,
		}, failTwice(&calls, nil))

		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
		assert.Equal(t, []int{1, 2}, retried)
	})

	t.Run("ReturnsLastErrorUnchanged", func(t *testing.T) {
		rec := &recorder{}
		calls := 0

		_, err := Do(context.Background(), Options{
			MaxAttempts:  2,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Sleep:        rec.sleep,
		}, failTwice(&calls, nil))

		require.Error(t, err)
		assert.Equal(t, "transient 2", err.Error())
		assert.Equal(t, 2, calls)
		assert.Len(t, rec.delays, 1)
	})

	t.Run("PreservesErrorIdentity", func(t *testing.T) {
		sentinel := &errdefs.UploadError{Backend: "s3", Err: errors.New("503")}
		_, err := Do(context.Background(), Options{MaxAttempts: 2, Sleep: (&recorder{}).sleep},
			func(context.Context) (int, error) { return 0, sentinel })
		assert.Same(t, sentinel, err)
	})

	t.Run("CapsDelay", func(t *testing.T) {
		rec := &recorder{}
		_, _ = Do(context.Background(), Options{
			MaxAttempts:  5,
			InitialDelay: 3 * time.Second,
			MaxDelay:     10 * time.Second,
			Sleep:        rec.sleep,
		}, func(context.Context) (int, error) { return 0, errors.New("fail") })

		assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second, 10 * time.Second, 10 * time.Second}, rec.delays)
	})

	t.Run("DoesNotRetryValidation", func(t *testing.T) {
		calls := 0
		_, err := Do(context.Background(), Options{MaxAttempts: 3, Sleep: (&recorder{}).sleep},
			func(context.Context) (int, error) {
				calls++
				return 0, &errdefs.InvalidNameError{Name: "CON", Reason: "reserved"}
			})
		assert.ErrorIs(t, err, errdefs.ErrValidation)
		assert.Equal(t, 1, calls)
	})

	t.Run("StopsWhenContextCancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := Do(ctx, Options{MaxAttempts: 3, InitialDelay: time.Hour},
			func(context.Context) (int, error) {
				calls++
				cancel()
				return 0, errors.New("fail")
			})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("SleepFailureStops", func(t *testing.T) {
		interrupted := errors.New("interrupted")
		calls := 0
		_, err := Do(context.Background(), Options{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			Sleep:        func(context.Context, time.Duration) error { return interrupted },
		}, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("fail")
		})
		assert.Same(t, interrupted, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("UncappedWhenMaxDelayUnset", func(t *testing.T) {
		rec := &recorder{}
		_, _ = Do(context.Background(), Options{
			MaxAttempts:  4,
			InitialDelay: time.Second,
			Sleep:        rec.sleep,
		}, func(context.Context) (int, error) { return 0, errors.New("fail") })

		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.delays)
	})

	t.Run("SingleAttemptWhenUnset", func(t *testing.T) {
		calls := 0
		_, err := Do(context.Background(), Options{}, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("fail")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
