package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when every allowed retry was spent on retryable
// failures.
var ErrExhausted = errors.New("retry budget exhausted")

type RetryConfig struct {
	// Retries is the number of extra attempts after the first call.
	Retries int
	// Delay is used when Classify gives no wait hint.
	Delay   time.Duration
	Backoff bool // Linear backoff on the default delay

	// Classify reports whether err may be retried and, optionally, how long
	// the remote side asked us to wait. Nil treats every error as retryable.
	Classify func(err error) (retryable bool, wait time.Duration)

	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls fn until it succeeds, returns a non-retryable error, or the retry
// budget runs out. At most Retries+1 calls are made.
func Do(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	sleep := config.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		retryable, wait := true, time.Duration(0)
		if config.Classify != nil {
			retryable, wait = config.Classify(err)
		}
		if !retryable {
			return err
		}
		if attempt >= config.Retries {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt+1, err)
		}

		if wait <= 0 {
			wait = config.Delay
			if config.Backoff {
				wait = time.Duration(attempt+1) * config.Delay
			}
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
