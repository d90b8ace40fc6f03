// Package blocking runs native, non-interruptible work off the caller's
// goroutine so context cancellation stays responsive.
package blocking

import "context"

// Do runs fn on its own goroutine and waits for its result or for ctx to be
// done, whichever comes first. A cancelled wait returns ctx.Err(); fn still
// runs to completion on its goroutine and its result is discarded, so
// abandonment never leaves shared state half-written. The result channel is
// buffered, letting the worker goroutine exit unobserved.
func Do[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	ch := make(chan result, 1)
	go func() {
		value, err := fn()
		ch <- result{value: value, err: err}
	}()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
