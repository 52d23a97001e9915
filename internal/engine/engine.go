package engine

import (
	"context"
)

// Progress reports download progress for one file of a version.
type Progress struct {
	// Type names the unit of Current and Total, e.g. "bytes".
	Type    string
	Current int64
	Total   int64
	// Name is the file being fetched.
	Name string
}

// DownloadCallbacks receive the outcome of DownloadVersion. Exactly one of
// OnComplete and OnError is called, exactly once. Nil callbacks are skipped.
type DownloadCallbacks struct {
	OnProgress func(Progress)
	OnComplete func()
	OnError    func(message string)
}

func (c DownloadCallbacks) progress(p Progress) {
	if c.OnProgress != nil {
		c.OnProgress(p)
	}
}

func (c DownloadCallbacks) complete() {
	if c.OnComplete != nil {
		c.OnComplete()
	}
}

func (c DownloadCallbacks) fail(message string) {
	if c.OnError != nil {
		c.OnError(message)
	}
}

// LaunchRequest is everything needed to start one game session.
type LaunchRequest struct {
	Version  string
	GameRoot string
	// WorkDir is the instance directory the game runs in.
	WorkDir     string
	Username    string
	JavaPath    string
	MinMemoryMB int
	MaxMemoryMB int
	Width       int
	Height      int
	Fullscreen  bool
}

// Process is a running game.
type Process interface {
	PID() int
	// Wait blocks until the process exits. The error is non-nil when the
	// process could not be waited for or was killed by a signal.
	Wait() (exitCode int, err error)
}

// Engine installs and launches game versions.
type Engine interface {
	// ListInstalledVersions returns the ids of versions ready to launch.
	ListInstalledVersions(ctx context.Context) ([]string, error)
	// DownloadVersion starts installing version and reports through cb.
	// It may return before the download finishes.
	DownloadVersion(ctx context.Context, version string, cb DownloadCallbacks)
	// Launch starts the game and returns once the process is running.
	Launch(ctx context.Context, req LaunchRequest) (Process, error)
}
