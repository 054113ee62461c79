package gateway

import (
	"context"
	"fmt"
	"time"
)

// DefaultRetryInterval is the pause between reconnect attempts.
const DefaultRetryInterval = time.Second

// RetryPolicy repeats an operation at a fixed interval.
type RetryPolicy struct {
	// Interval between attempts. Zero means DefaultRetryInterval.
	Interval time.Duration

	// MaxAttempts bounds the number of attempts; 0 means unbounded.
	MaxAttempts int

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called after every failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Do calls op until it succeeds, the attempts run out or ctx is done.
//
// Returns:
//   - error: nil on success, ErrRetriesExhausted wrapping the last failure,
//     or the context error
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
