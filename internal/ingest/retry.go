package ingest

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy is a bounded retry loop: a fixed number of attempts with a
// fixed delay between them. It exists as a standalone utility so the
// file-stability guard is testable without sleeping through real
// download races.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Do invokes fn until it succeeds, the attempts are exhausted, or ctx is
// canceled. The last failure is returned wrapped with the attempt count.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
