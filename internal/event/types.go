package event

import (
	"maps"
	"time"
)

// Kind identifies an event. The set of kinds is closed; see [Kinds].
// Convention: "category.action" (e.g., "download.progress", "game.started").
type Kind string

const (
	DownloadStarted        Kind = "download.started"
	DownloadProgress       Kind = "download.progress"
	DownloadCompleted      Kind = "download.completed"
	DownloadFailed         Kind = "download.failed"
	InstanceCreated        Kind = "instance.created"
	InstanceDeleted        Kind = "instance.deleted"
	InstanceVersionMissing Kind = "instance.versionMissing"
	GameStarted            Kind = "game.started"
	GameStopped            Kind = "game.stopped"
	GameCrashed            Kind = "game.crashed"
)

// Kinds returns every known event kind.
func Kinds() []Kind {
	return []Kind{
		DownloadStarted,
		DownloadProgress,
		DownloadCompleted,
		DownloadFailed,
		InstanceCreated,
		InstanceDeleted,
		InstanceVersionMissing,
		GameStarted,
		GameStopped,
		GameCrashed,
	}
}

// Valid reports whether k belongs to the closed set of kinds.
func (k Kind) Valid() bool {
	switch k {
	case DownloadStarted, DownloadProgress, DownloadCompleted, DownloadFailed,
		InstanceCreated, InstanceDeleted, InstanceVersionMissing,
		GameStarted, GameStopped, GameCrashed:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Payload keys.
const (
	KeyInstance    = "instance"
	KeyVersion     = "version"
	KeyPID         = "pid"
	KeyExitCode    = "exitCode"
	KeyMessage     = "message"
	KeyType        = "type"
	KeyCurrent     = "current"
	KeyTotal       = "total"
	KeyFileName    = "fileName"
	KeyID          = "id"
	KeyURL         = "url"
	KeyDestination = "destination"
	KeyRetryable   = "retryable"
)

// Event is an immutable notification: a kind, a key-value payload and the
// time it was created. The payload is copied on construction and on read.
type Event struct {
	kind      Kind
	payload   map[string]any
	timestamp time.Time
}

// New creates an Event stamped with the current time.
func New(kind Kind, payload map[string]any) Event {
	return Event{
		kind:      kind,
		payload:   maps.Clone(payload),
		timestamp: time.Now(),
	}
}

// Kind returns the event kind.
func (e Event) Kind() Kind { return e.kind }

// Timestamp returns when the event was created.
func (e Event) Timestamp() time.Time { return e.timestamp }

// Payload returns a copy of the payload.
func (e Event) Payload() map[string]any {
	if e.payload == nil {
		return map[string]any{}
	}
	return maps.Clone(e.payload)
}

// Get returns the payload value for key.
func (e Event) Get(key string) (any, bool) {
	v, ok := e.payload[key]
	return v, ok
}

// String returns the payload value for key as a string, or "" if absent
// or not a string.
func (e Event) String(key string) string {
	s, _ := e.payload[key].(string)
	return s
}

// Int64 returns an integer payload value for key, or 0 if absent.
func (e Event) Int64(key string) int64 {
	switch v := e.payload[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	}
	return 0
}

// Instance returns the instance name carried by instance-scoped events.
func (e Event) Instance() string { return e.String(KeyInstance) }

// -----------------------------------------------------------------------------
// Download Events
// -----------------------------------------------------------------------------

// NewDownloadProgress reports engine-level progress for an instance's
// version download.
func NewDownloadProgress(instance, progressType string, current, total int64, fileName string) Event {
	return New(DownloadProgress, map[string]any{
		KeyInstance: instance,
		KeyType:     progressType,
		KeyCurrent:  current,
		KeyTotal:    total,
		KeyFileName: fileName,
	})
}

// NewDownloadCompleted reports that a version finished installing.
func NewDownloadCompleted(instance, version string) Event {
	return New(DownloadCompleted, map[string]any{
		KeyInstance: instance,
		KeyVersion:  version,
	})
}

// NewDownloadFailed reports that a version could not be installed.
func NewDownloadFailed(instance, message string) Event {
	return New(DownloadFailed, map[string]any{
		KeyInstance: instance,
		KeyMessage:  message,
	})
}

// -----------------------------------------------------------------------------
// Instance Events
// -----------------------------------------------------------------------------

// NewInstanceCreated is emitted after an instance is persisted.
func NewInstanceCreated(instance, version string) Event {
	return New(InstanceCreated, map[string]any{
		KeyInstance: instance,
		KeyVersion:  version,
	})
}

// NewInstanceDeleted is emitted after an instance directory is removed.
func NewInstanceDeleted(instance string) Event {
	return New(InstanceDeleted, map[string]any{
		KeyInstance: instance,
	})
}

// NewInstanceVersionMissing is emitted when a start finds the instance's
// version not installed.
func NewInstanceVersionMissing(instance, version string) Event {
	return New(InstanceVersionMissing, map[string]any{
		KeyInstance: instance,
		KeyVersion:  version,
	})
}

// -----------------------------------------------------------------------------
// Game Events
// -----------------------------------------------------------------------------

// NewGameStarted is emitted once the game process is running.
func NewGameStarted(instance, version string, pid int) Event {
	return New(GameStarted, map[string]any{
		KeyInstance: instance,
		KeyVersion:  version,
		KeyPID:      pid,
	})
}

// NewGameStopped is emitted when the game process exits normally.
func NewGameStopped(instance, version string, exitCode int) Event {
	return New(GameStopped, map[string]any{
		KeyInstance: instance,
		KeyVersion:  version,
		KeyExitCode: exitCode,
	})
}

// NewGameCrashed is emitted when a start fails or the process exits abnormally.
func NewGameCrashed(instance, message string) Event {
	return New(GameCrashed, map[string]any{
		KeyInstance: instance,
		KeyMessage:  message,
	})
}
