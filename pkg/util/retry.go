package util

import (
	"context"
	"time"
)

// RetryPolicy is a fixed-delay retry budget
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Retry invokes op up to p.Attempts times, sleeping p.Delay between attempts.
// A result for which failed reports false is returned at once. Errors count as
// failures. When every attempt fails, or ctx ends, the last result is returned
// (the zero value if that attempt errored), so callers must inspect it.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error), failed func(T) bool) T {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last T
	for i := 0; i < attempts; i++ {
		result, err := op(ctx)
		if err != nil {
			var zero T
			result = zero
		} else if !failed(result) {
			return result
		}
		last = result

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return last
		case <-time.After(p.Delay):
		}
	}
	return last
}
