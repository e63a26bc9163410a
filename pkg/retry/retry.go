// Package retry retries a single fallible operation a fixed number of
// times with a fixed delay between attempts. The DHT scheduler's only
// use of it is riding out one dropped ping datagram, which doesn't need
// backoff curves or per-call tuning, just a bounded number of tries.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do runs op, retrying up to attempts times total (attempts-1 retries)
// with delay between tries. It returns as soon as op succeeds, stops
// early if ctx is canceled, and otherwise returns the last error op
// produced once attempts are exhausted.
func Do(ctx context.Context, op func(ctx context.Context) error, attempts int, delay time.Duration) error {
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled before attempt %d: %w", attempt, err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf(
				"context canceled during retry wait (attempt %d): %w (last error: %v)",
				attempt,
				ctx.Err(),
				lastErr,
			)

		case <-timer.C:
			// continue
		}
	}

	return lastErr
}
