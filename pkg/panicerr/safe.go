package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

// Safe wraps a function that returns an error, catching any panics and returning them as an error.
func Safe(fn func() error) func() error {
	return func() error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn()
		})
		if err != nil {
			return err
		}
		return catcher.Recovered().AsError()
	}
}

// SafeContext wraps a function that takes a context and returns an error.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return Safe(func() error { return fn(ctx) })()
	}
}

// SafeValue is SafeContext for functions that also return a value. The zero
// value is returned when fn panics.
func SafeValue[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var v T
	err := Safe(func() error {
		var err error
		v, err = fn(ctx)
		return err
	})()
	return v, err
}
