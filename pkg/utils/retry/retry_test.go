package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opst/modelsync/pkg/utils/retry"
)

func TestBackoff(t *testing.T) {
	t.Run("it doubles interval on each failure up to max, and resets on success", func(t *testing.T) {
		testee := retry.New(retry.Policy{
			Initial: 100 * time.Millisecond,
			Max:     500 * time.Millisecond,
		})

		expected := []time.Duration{
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for nth, e := range expected {
			if actual := testee.Fail(); actual != e {
				t.Errorf("#%d: (actual, expected) = (%s, %s)", nth, actual, e)
			}
		}
		if testee.Failures() != len(expected) {
			t.Errorf("failures: %d", testee.Failures())
		}

		if actual := testee.Succeed(); actual != 100*time.Millisecond {
			t.Errorf("after success: %s", actual)
		}
		if testee.Failures() != 0 {
			t.Errorf("failures after success: %d", testee.Failures())
		}
	})

	t.Run("it tolerates failures at an interval before backing off", func(t *testing.T) {
		testee := retry.New(retry.Policy{
			Initial:   time.Second,
			Max:       10 * time.Second,
			Tolerance: 2,
		})

		expected := []time.Duration{
			time.Second, 2 * time.Second, 2 * time.Second, 4 * time.Second,
		}
		for nth, e := range expected {
			if actual := testee.Fail(); actual != e {
				t.Errorf("#%d: (actual, expected) = (%s, %s)", nth, actual, e)
			}
		}
	})

	t.Run("when max is smaller than initial, interval never grows", func(t *testing.T) {
		testee := retry.New(retry.Policy{Initial: time.Second})
		testee.Fail()
		if actual := testee.Fail(); actual != time.Second {
			t.Errorf("unexpected interval: %s", actual)
		}
	})
}

func TestWait(t *testing.T) {
	t.Run("it waits for the duration", func(t *testing.T) {
		before := time.Now()
		if err := retry.Wait(context.Background(), 10*time.Millisecond); err != nil {
			t.Fatal(err)
		}
		if time.Since(before) < 10*time.Millisecond {
			t.Error("it returns too early")
		}
	})

	t.Run("when context is done, it returns the error of the context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := retry.Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
