package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when the goroutine count exceeds threshold.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// PingFunc adapts a ping method of a connection pool or client.
type PingFunc func(ctx context.Context) error

// PingCheck fails when ping fails, prefixing the error with name.
func PingCheck(name string, ping PingFunc) CheckFunc {
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.Wrapf(err, "%s ping", name)
		}
		return nil
	}
}
