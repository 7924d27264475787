// Package poll implements a bounded-attempt readiness wait.
//
// The VM substrate is eventually consistent: DHCP leases and the guest SSH
// daemon appear some unknown time after the domain starts. Both readiness
// conditions share this loop, which turns "check until it holds or the
// budget is exhausted" into a typed result.
package poll

import (
	"context"
	"fmt"
	"time"
)

// CheckFunc probes a condition once. It returns (value, true, nil) when the
// condition holds, (zero, false, nil) when it does not hold yet, and a
// non-nil error to abort the wait immediately.
type CheckFunc[T any] func(ctx context.Context) (T, bool, error)

// TimeoutError reports an exhausted attempt budget.
type TimeoutError struct {
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("condition not met after %d attempts (%s)", e.Attempts, e.Elapsed.Round(time.Millisecond))
}

// Until runs check up to maxAttempts times, sleeping interval between
// attempts. The first successful check returns its value immediately with no
// further attempts or sleeps. If every attempt reports not-ready, Until
// returns a *TimeoutError after exactly maxAttempts checks. Context
// cancellation aborts the wait between attempts.
func Until[T any](ctx context.Context, check CheckFunc[T], interval time.Duration, maxAttempts int) (T, error) {
	var zero T
	if maxAttempts < 1 {
		return zero, fmt.Errorf("maxAttempts must be >= 1, got %d", maxAttempts)
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		v, ok, err := check(ctx)
		if err != nil {
			return zero, err
		}
		if ok {
			return v, nil
		}
		if attempt >= maxAttempts {
			return zero, &TimeoutError{Attempts: attempt, Elapsed: time.Since(start)}
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("wait cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(interval):
		}
	}
}
