// Package backoff provides exponential backoff utilities for retry logic.
package backoff

import (
	"context"
	"fmt"
	"time"
)

type Strategy struct {
	Delays []time.Duration
}

var (
	// Storage is the retry policy for transient database failures:
	// one retry after 100ms, a second after 1s, then give up.
	Storage = Strategy{
		Delays: []time.Duration{
			100 * time.Millisecond,
			1 * time.Second,
		},
	}

	Quick = Strategy{
		Delays: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
		},
	}
)

type RetryFunc func(ctx context.Context, attempt int) error

func Retry(ctx context.Context, strategy Strategy, fn RetryFunc) error {
	var lastErr error

	for i := 0; i <= len(strategy.Delays); i++ {
		if err := fn(ctx, i+1); err != nil {
			lastErr = err
			if i == len(strategy.Delays) {
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(strategy.Delays[i]):
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", len(strategy.Delays)+1, lastErr)
}
