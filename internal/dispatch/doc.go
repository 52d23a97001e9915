// Package dispatch runs background work off the caller's goroutine and
// hands results back through futures or through a single-threaded
// notification context.
//
// # Main Types
//
//   - [Dispatcher]: Unbounded pool; every task gets its own goroutine
//   - [Future]: Result slot that can be awaited, polled or selected on
//   - [Front]: Notification context that runs posted callbacks one at a
//     time, in posting order
//
// Work functions receive a context that is cancelled when [Dispatcher.Shutdown]
// gives up waiting. Cancellation is cooperative: work that ignores its
// context runs to completion.
//
// Panics in work are recovered and surface as errors, so a failing task never
// takes the process down.
//
//	d := dispatch.New(dispatch.WithGrace(5 * time.Second))
//	defer d.Shutdown()
//
//	f := dispatch.Call(d, func(ctx context.Context) (int, error) {
//	    return compute(ctx)
//	})
//	n, err := f.Await(ctx)
package dispatch
