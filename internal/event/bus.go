package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/cubic/internal/errors"
	"github.com/Iron-Ham/cubic/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// SubscriptionID identifies a registered handler.
type SubscriptionID string

// wildcard is the internal key for handlers registered via SubscribeAll.
const wildcard Kind = "*"

// subscription represents a registered event handler. The active flag is
// cleared on unsubscribe and checked right before every invocation, so a
// removal also skips calls from a Publish that already snapshotted it.
type subscription struct {
	id      SubscriptionID
	kind    Kind
	handler Handler
	active  atomic.Bool
}

// Bus is a synchronous pub-sub event bus.
// Handlers run on the publishing goroutine; delivery to a UI or other
// single-threaded context is the subscriber's job.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[Kind][]*subscription
	nextID        atomic.Uint64
	logger        *logging.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report dropped events and handler panics.
func WithLogger(logger *logging.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates a new event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscriptions: make(map[Kind][]*subscription),
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a specific event kind.
// Returns an ID that can be used to unsubscribe, or a validation error if
// kind is not one of [Kinds].
func (b *Bus) Subscribe(kind Kind, handler Handler) (SubscriptionID, error) {
	if !kind.Valid() {
		return "", errors.NewValidationError("unknown event kind").
			WithField("kind").
			WithValue(string(kind))
	}
	if handler == nil {
		return "", errors.NewValidationError("handler must not be nil").WithField("handler")
	}
	return b.add(kind, handler), nil
}

// SubscribeAll registers a handler for all event kinds. Wildcard handlers
// run after the kind-specific handlers of each event.
func (b *Bus) SubscribeAll(handler Handler) SubscriptionID {
	return b.add(wildcard, handler)
}

func (b *Bus) add(kind Kind, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      SubscriptionID(fmt.Sprintf("sub-%d", b.nextID.Add(1))),
		kind:    kind,
		handler: handler,
	}
	sub.active.Store(true)

	b.subscriptions[kind] = append(b.subscriptions[kind], sub)
	return sub.id
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for kind, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}
			sub.active.Store(false)
			// Copy instead of re-slicing in place: a concurrent Publish may
			// still be iterating over the old backing array.
			remaining := make([]*subscription, 0, len(subs)-1)
			remaining = append(remaining, subs[:i]...)
			remaining = append(remaining, subs[i+1:]...)
			b.subscriptions[kind] = remaining
			return true
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers.
// Specific handlers are called first, followed by wildcard handlers.
// Within each group, handlers are called in registration order.
// If a handler panics, the panic is logged, recovered, and publishing
// continues to remaining handlers. Events of unknown kinds are dropped.
func (b *Bus) Publish(e Event) {
	if !e.Kind().Valid() {
		b.logger.Warn("dropping event of unknown kind", "kind", string(e.Kind()))
		return
	}

	b.mu.RLock()
	specific := b.subscriptions[e.Kind()]
	all := b.subscriptions[wildcard]
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub, e)
	}
	for _, sub := range all {
		b.safeCall(sub, e)
	}
}

// safeCall invokes a handler and recovers from any panics.
func (b *Bus) safeCall(sub *subscription, e Event) {
	if !sub.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"kind", string(e.Kind()),
				"subscription", string(sub.id),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	sub.handler(e)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.active.Store(false)
		}
	}
	b.subscriptions = make(map[Kind][]*subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
