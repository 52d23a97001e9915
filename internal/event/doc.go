// Package event provides a pub-sub event bus for decoupled inter-component
// communication in cubic.
//
// The download queue, instance store and orchestrator publish events; the
// CLI (or any other front end) subscribes to them without either side
// knowing about the other.
//
// # Main Types
//
//   - [Event]: Immutable kind, key-value payload and timestamp
//   - [Kind]: Closed enumeration of event kinds
//   - [Bus]: Synchronous pub-sub dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Kinds
//
// Downloads:
//   - download.started, download.progress, download.completed, download.failed
//
// Instances:
//   - instance.created, instance.deleted, instance.versionMissing
//
// Game process:
//   - game.started, game.stopped, game.crashed
//
// Instance-scoped events carry the instance name under [KeyInstance].
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publishing goroutine and protected against panics.
// Unsubscribing takes effect for every invocation that has not yet started,
// even within a Publish already in progress.
//
// # Basic Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//
//	id, err := bus.Subscribe(event.GameStarted, func(e event.Event) {
//	    fmt.Printf("%s started (pid %d)\n", e.Instance(), e.Int64(event.KeyPID))
//	})
//
//	bus.Publish(event.NewGameStarted("Demo", "1.20.1", 4242))
//	bus.Unsubscribe(id)
package event
