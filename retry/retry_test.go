package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// recordAfter returns an After func that records the requested delays and
// fires immediately.
func recordAfter(delays *[]time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*delays = append(*delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	var delays []time.Duration
	cfg := DefaultConfig()
	cfg.After = recordAfter(&delays)

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestDo_ReturnsLastError(t *testing.T) {
	var delays []time.Duration
	cfg := Fixed(3, 5*time.Second)
	cfg.After = recordAfter(&delays)

	var attempts []int
	cfg.OnError = func(attempt int, err error) { attempts = append(attempts, attempt) }

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		return errors.New("fail " + string(rune('0'+calls)))
	})

	assert.EqualError(t, err, "fail 3")
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, delays, "no wait after the last attempt")
}

func TestDo_DelayCappedAtMax(t *testing.T) {
	var delays []time.Duration
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     3 * time.Second,
		Multiplier:   2,
		After:        recordAfter(&delays),
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("x") })

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, delays)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := Fixed(5, 0)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnContextErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(3, 0), func() error {
		calls++
		return context.DeadlineExceeded
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Fixed(3, time.Hour)
	calls = 0
	err = Do(ctx, cfg, func() error {
		calls++
		cancel()
		return errors.New("temporary")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Config{}, func() error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	tests := map[int]bool{
		http.StatusOK:                  false,
		http.StatusBadRequest:          false,
		http.StatusUnauthorized:        false,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
	for status, want := range tests {
		assert.Equal(t, want, IsRetryableHTTPStatus(status), "status %d", status)
	}
}
