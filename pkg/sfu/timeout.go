package sfu

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type engineResult[T any] struct {
	v   T
	err error
}

// callEngine runs one engine call under a deadline. The call runs on its own
// goroutine so an engine that ignores ctx cannot hold the caller past the
// deadline. A result that arrives after the deadline is handed to discard
// and the call reports ErrTimeout.
func callEngine[T any](parent context.Context, d time.Duration, call func(ctx context.Context) (T, error), discard func(T)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()

	done := make(chan engineResult[T], 1)
	go func() {
		v, err := call(ctx)
		done <- engineResult[T]{v, err}
	}()

	select {
	case r := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			discardResult(r, discard)
			return zero, deadlineError(ctxErr)
		}
		if r.err != nil {
			return zero, engineError(r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		go func() { discardResult(<-done, discard) }()
		return zero, deadlineError(ctx.Err())
	}
}

func discardResult[T any](r engineResult[T], discard func(T)) {
	if r.err == nil && discard != nil {
		discard(r.v)
	}
}

func deadlineError(ctxErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, ctxErr)
	}
	return ctxErr
}

// callEngineErr is callEngine for calls that return no object
func callEngineErr(parent context.Context, d time.Duration, call func(ctx context.Context) error) error {
	_, err := callEngine(parent, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	}, nil)
	return err
}
