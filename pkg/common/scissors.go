package common

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/crossgate/crossgate/pkg/supervisor"
)

var ScissorsErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "crossgate_scissor_errors_caught",
		Help: "Total number of unhandled errors caught",
	})

// RunWithScissors starts a goroutine that converts a panic into an error on
// errC instead of taking the process down with it.
func RunWithScissors(ctx context.Context, errC chan error, name string, runnable supervisor.Runnable) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				switch x := r.(type) {
				case error:
					errC <- fmt.Errorf("%s: %w", name, x)
				default:
					errC <- fmt.Errorf("%s: %v", name, x)
				}
				ScissorsErrors.Inc()
			}
		}()
		if err := runnable(ctx); err != nil {
			errC <- err
		}
	}()
}

// WrapWithScissors turns a panic in the wrapped runnable into a returned
// error, letting the supervisor treat it as an ordinary failure.
func WrapWithScissors(runnable supervisor.Runnable) supervisor.Runnable {
	return func(ctx context.Context) (result error) {
		defer func() {
			if r := recover(); r != nil {
				switch x := r.(type) {
				case error:
					result = x
				default:
					result = fmt.Errorf("%v", x)
				}
				ScissorsErrors.Inc()
			}
		}()
		return runnable(ctx)
	}
}
