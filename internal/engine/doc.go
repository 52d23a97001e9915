// Package engine defines the contract cubic uses to install and run game
// versions, and a local implementation of it.
//
// The orchestrator only talks to the [Engine] interface. [Local] keeps
// versions under <gameRoot>/versions/<id>/<id>.jar, fetches missing ones
// through the download queue and starts the game as a child process.
// Package enginetest provides a scripted engine for tests.
package engine
