// Package orchestrator starts instances.
//
// Starting an instance is a small state machine run as a background task:
//
//	Idle → CheckingInstalled → (Downloading) → Launching → Updating → Idle
//
// Any failure moves the instance to Errored for the rest of that attempt.
// The caller gets a [dispatch.Future] and never blocks; progress and
// outcomes are published on the event bus.
//
// Concurrent starts of the same instance are not deduplicated. Each call
// performs its own attempt, and the reported State is that of whichever
// attempt transitioned last.
package orchestrator
