package connector

import (
	"context"
	"fmt"
	"time"
)

// callWithTimeout runs fn under a deadline of d. It returns when fn returns
// or the deadline passes, whichever is first, so a backend that ignores its
// context cannot hold the caller past d. d <= 0 disables the deadline.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{val: v, err: err}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("deadline %s exceeded: %w", d, ctx.Err())
	}
}
