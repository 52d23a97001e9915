package dispatch

import (
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/cubic/internal/logging"
)

// Front is the notification context: a single goroutine draining an
// unbounded FIFO of callbacks. Callbacks never run concurrently with one
// another, and Post never blocks.
type Front struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
	logger *logging.Logger
}

// NewFront starts a notification context. A nil logger discards output.
func NewFront(logger *logging.Logger) *Front {
	if logger == nil {
		logger = logging.NopLogger()
	}
	f := &Front{
		done:   make(chan struct{}),
		logger: logger,
	}
	f.cond = sync.NewCond(&f.mu)
	go f.loop()
	return f
}

// Post enqueues fn. Returns false if the Front is closed.
func (f *Front) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.queue = append(f.queue, fn)
	f.cond.Signal()
	return true
}

func (f *Front) loop() {
	defer close(f.done)
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.closed {
			f.cond.Wait()
		}
		if len(f.queue) == 0 {
			f.mu.Unlock()
			return
		}
		fn := f.queue[0]
		f.queue[0] = nil
		f.queue = f.queue[1:]
		f.mu.Unlock()

		f.invoke(fn)
	}
}

func (f *Front) invoke(fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		f.logger.Error("notification callback panicked",
			"panic", fmt.Sprint(r.Value),
			"stack", string(r.Stack))
	}
}

// Close stops accepting callbacks, runs everything already posted and
// waits for the loop to exit. Safe to call more than once.
func (f *Front) Close() {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
	<-f.done
}

// Done is closed once the loop has exited.
func (f *Front) Done() <-chan struct{} {
	return f.done
}
