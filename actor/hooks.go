package actor

import (
	"context"
	"time"

	"github.com/teranos/actorcore/errors"
)

// Hook is a user-supplied lifecycle callback. Every lifecycle hook in
// this package (createState, onConnect, onStop, ...) is this shape or a
// typed variant that also returns a value; Go has no separate
// sync/async hook form, so a plain synchronous function plays both
// roles — WithDeadline below still races it against a context deadline
// the same way an async hook would be awaited with a timeout.
type Hook func(ctx context.Context) error

// ErrDeadlineExceeded is wrapped around the error returned when a hook
// exceeds its configured timeout.
var ErrDeadlineExceeded = errors.NewKind(KindDeadlineExceeded, "hook deadline exceeded")

// WithDeadline runs fn in its own goroutine and returns whichever of
// fn's completion or ctx's deadline happens first. On timeout the
// goroutine is not cancelled (fn may still be running and mutating
// state); the timeout is best-effort — arbitrary user code cannot be
// forcibly stopped.
func WithDeadline(ctx context.Context, d time.Duration, fn Hook) error {
	if d <= 0 {
		return fn(ctx)
	}
	dctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-dctx.Done():
		return errors.Wrap(ErrDeadlineExceeded, "hook timed out")
	}
}

// WithDeadlineValue is the typed-return variant used by createState,
// createVars, and createConnState, which must hand back the value they
// produced in addition to an error.
func WithDeadlineValue[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn(ctx)
	}
	dctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-dctx.Done():
		return zero, errors.Wrap(ErrDeadlineExceeded, "hook timed out")
	}
}
