// Package supervisor runs the daemon's long-lived services as named,
// supervised goroutines. A service that returns an error or panics is
// restarted with exponential backoff; a service that signals done is left
// alone. Cancelling the root context stops the whole tree.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// A Runnable is a function run in its own supervised goroutine. The context
// passed to it stays live for as long as the runnable should keep serving and
// is cancelled when the supervisor wants it to exit, so it is safe to use for
// blocking operations. Runnables may start children with Run.
type Runnable func(ctx context.Context) error

type SignalType int

const (
	// SignalHealthy tells the supervisor that setup is complete and the
	// runnable is serving. It resets the restart backoff.
	SignalHealthy SignalType = iota
	// SignalDone tells the supervisor the runnable has finished its work
	// and a clean return must not trigger a restart.
	SignalDone
)

type worker struct {
	name string
	sup  *supervisor

	mu      sync.Mutex
	done    bool
	healthy bool
}

type contextKeyType struct{}

var contextKey contextKeyType

type supervisor struct {
	logger         *zap.Logger
	propagatePanic bool

	wg sync.WaitGroup
}

type SupervisorOpt func(s *supervisor)

// WithPropagatePanic prevents the supervisor from catching panics in
// runnables, so tests and local debugging see the original stack.
var WithPropagatePanic = func(s *supervisor) {
	s.propagatePanic = true
}

// New starts rootRunnable under a fresh supervisor. The returned function
// blocks until every runnable in the tree has exited; cancel ctx to shut the
// tree down.
func New(ctx context.Context, logger *zap.Logger, rootRunnable Runnable, opts ...SupervisorOpt) func() {
	sup := &supervisor{logger: logger}
	for _, o := range opts {
		o(sup)
	}

	sup.start(ctx, &worker{name: "root", sup: sup}, rootRunnable)
	return sup.wg.Wait
}

// Run starts a named runnable as a child of the calling runnable. The ctx
// must be one handed to a Runnable by this package.
func Run(ctx context.Context, name string, runnable Runnable) error {
	w, ok := ctx.Value(contextKey).(*worker)
	if !ok {
		return fmt.Errorf("context not associated with a supervised runnable")
	}
	w.sup.start(ctx, &worker{name: w.name + "." + name, sup: w.sup}, runnable)
	return nil
}

// Signal reports a lifecycle transition of the calling runnable.
func Signal(ctx context.Context, signal SignalType) {
	w, ok := ctx.Value(contextKey).(*worker)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	switch signal {
	case SignalHealthy:
		w.healthy = true
	case SignalDone:
		w.done = true
	}
}

// Logger returns a zap logger named after the runnable's dotted path in the
// supervision tree.
func Logger(ctx context.Context) *zap.Logger {
	w, ok := ctx.Value(contextKey).(*worker)
	if !ok {
		return zap.NewNop()
	}
	return w.sup.logger.Named(w.name)
}

func (s *supervisor) start(ctx context.Context, w *worker, runnable Runnable) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx, w, runnable)
	}()
}

func (s *supervisor) supervise(ctx context.Context, w *worker, runnable Runnable) {
	logger := s.logger.Named("supervisor")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		w.mu.Lock()
		w.healthy = false
		w.done = false
		w.mu.Unlock()

		err := s.runOnce(ctx, w, runnable)

		if ctx.Err() != nil {
			return
		}

		w.mu.Lock()
		healthy, done := w.healthy, w.done
		w.mu.Unlock()

		if err == nil && done {
			return
		}
		if err == nil {
			err = fmt.Errorf("returned without signalling done")
		}

		// A run that reached healthy earns a fresh backoff schedule.
		if healthy {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		logger.Error("runnable died, restarting",
			zap.String("name", w.name),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *supervisor) runOnce(ctx context.Context, w *worker, runnable Runnable) (err error) {
	if !s.propagatePanic {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()
	}

	runCtx, cancel := context.WithCancel(context.WithValue(ctx, contextKey, w))
	defer cancel()
	return runnable(runCtx)
}
