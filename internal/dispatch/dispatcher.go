package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/cubic/internal/errors"
	"github.com/Iron-Ham/cubic/internal/logging"
)

// ErrClosed is returned when work is submitted after Shutdown.
var ErrClosed = errors.New("dispatcher is shut down")

// DefaultGrace is how long Shutdown waits for in-flight work by default.
const DefaultGrace = 5 * time.Second

// Work is a unit of background work.
type Work func(ctx context.Context) error

// Dispatcher runs work on fresh goroutines. The pool is unbounded; callers
// that need bounded concurrency use the download queue instead.
type Dispatcher struct {
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	active atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	front     *Front
	ownsFront bool
	grace     time.Duration
	logger    *logging.Logger

	shutdownOnce sync.Once
	drained      bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithGrace sets how long Shutdown waits before cancelling in-flight work.
func WithGrace(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d >= 0 {
			disp.grace = d
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithFront sets the notification context used by RunNotify. The caller
// keeps ownership and closes it. Without it the dispatcher creates and
// closes its own.
func WithFront(f *Front) Option {
	return func(d *Dispatcher) {
		d.front = f
	}
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		ctx:    ctx,
		cancel: cancel,
		grace:  DefaultGrace,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.front == nil {
		d.front = NewFront(d.logger)
		d.ownsFront = true
	}
	return d
}

// Front returns the notification context.
func (d *Dispatcher) Front() *Front {
	return d.front
}

// Active returns the number of tasks currently executing.
func (d *Dispatcher) Active() int {
	return int(d.active.Load())
}

// spawn starts fn on a new goroutine, tracking it for Shutdown.
func (d *Dispatcher) spawn(fn func(ctx context.Context)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	d.wg.Add(1)
	d.active.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.active.Add(-1)
		fn(d.ctx)
	}()
	return nil
}

// execute runs work, converting a panic into an error.
func execute(ctx context.Context, work Work) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = work(ctx) })
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("task panicked: %w", r.AsError())
	}
	return err
}

// Run executes work in the background and returns immediately. Errors are
// logged and otherwise discarded.
func (d *Dispatcher) Run(work Work) error {
	return d.spawn(func(ctx context.Context) {
		if err := execute(ctx, work); err != nil {
			d.logger.Warn("background task failed", "error", err.Error())
		}
	})
}

// RunNotify executes work in the background and posts exactly one of
// onSuccess or onFailure to the notification context when it finishes.
// onFailure receives the error with its cause chain intact. Nil callbacks
// are skipped.
func (d *Dispatcher) RunNotify(work Work, onSuccess func(), onFailure func(error)) error {
	return d.spawn(func(ctx context.Context) {
		err := execute(ctx, work)
		switch {
		case err == nil && onSuccess != nil:
			d.post(onSuccess)
		case err != nil && onFailure != nil:
			d.post(func() { onFailure(err) })
		case err != nil:
			d.logger.Warn("background task failed", "error", err.Error())
		}
	})
}

func (d *Dispatcher) post(fn func()) {
	if !d.front.Post(fn) {
		d.logger.Debug("notification dropped, front is closed")
	}
}

// Call executes work in the background and returns a future for its result.
// If the dispatcher is shut down the future fails with ErrClosed.
func Call[T any](d *Dispatcher, work func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	err := d.spawn(func(ctx context.Context) {
		var v T
		err := execute(ctx, func(ctx context.Context) error {
			var werr error
			v, werr = work(ctx)
			return werr
		})
		if err != nil {
			var zero T
			v = zero
		}
		f.complete(v, err)
	})
	if err != nil {
		var zero T
		f.complete(zero, err)
	}
	return f
}

// Then runs fn on the dispatcher once f succeeds. A failure of f propagates
// to the returned future without calling fn.
func Then[T, U any](d *Dispatcher, f *Future[T], fn func(ctx context.Context, v T) (U, error)) *Future[U] {
	return Call(d, func(ctx context.Context) (U, error) {
		v, err := f.Await(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(ctx, v)
	})
}

// Shutdown stops accepting work, waits up to the grace period for in-flight
// tasks, then cancels their context and closes the notification context if
// the dispatcher owns it.
// It reports whether all tasks finished within the grace period. Safe to
// call more than once; later calls return the first result.
func (d *Dispatcher) Shutdown() bool {
	d.shutdownOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		finished := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(finished)
		}()

		timer := time.NewTimer(d.grace)
		defer timer.Stop()

		select {
		case <-finished:
			d.drained = true
		case <-timer.C:
			d.logger.Warn("shutdown grace period expired, cancelling tasks",
				"active", d.Active(),
				"grace", d.grace.String())
		}
		d.cancel()
		if d.ownsFront {
			d.front.Close()
		}
	})
	return d.drained
}
