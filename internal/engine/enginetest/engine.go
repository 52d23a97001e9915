// Package enginetest provides a scripted engine.Engine that records every
// call in order.
package enginetest

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/cubic/internal/engine"
)

// Method names recorded in Call.Method.
const (
	MethodList     = "ListInstalledVersions"
	MethodDownload = "DownloadVersion"
	MethodLaunch   = "Launch"
)

// Call is one recorded engine call.
type Call struct {
	Method  string
	Version string
}

// Engine is a scripted engine.Engine. The zero value is not usable; call New.
type Engine struct {
	mu        sync.Mutex
	installed []string
	calls     []Call
	launches  []engine.LaunchRequest

	listErr       error
	downloadErr   string
	downloadSteps []engine.Progress
	launchErr     error
	launchHook    func(engine.LaunchRequest)

	exitCode int
	exitErr  error
	hold     chan struct{}

	nextPID atomic.Int64
}

// New creates an engine with the given versions installed.
func New(installed ...string) *Engine {
	e := &Engine{installed: slices.Clone(installed)}
	e.nextPID.Store(1000)
	return e
}

// SetListError makes ListInstalledVersions fail.
func (e *Engine) SetListError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listErr = err
}

// SetDownloadError makes DownloadVersion report message through OnError.
func (e *Engine) SetDownloadError(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.downloadErr = message
}

// SetDownloadProgress scripts the progress reported before completion.
func (e *Engine) SetDownloadProgress(steps ...engine.Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.downloadSteps = slices.Clone(steps)
}

// SetLaunchError makes Launch fail with err.
func (e *Engine) SetLaunchError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launchErr = err
}

// SetLaunchHook runs fn inside Launch, before it returns.
func (e *Engine) SetLaunchHook(fn func(engine.LaunchRequest)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launchHook = fn
}

// SetExit sets what launched processes report from Wait.
func (e *Engine) SetExit(code int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exitCode, e.exitErr = code, err
}

// Hold keeps processes launched from now on running until the returned
// release function is called.
func (e *Engine) Hold() (release func()) {
	ch := make(chan struct{})
	e.mu.Lock()
	e.hold = ch
	e.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns the recorded calls in order.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

// Count returns how many times method was called.
func (e *Engine) Count(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Launches returns every launch request received.
func (e *Engine) Launches() []engine.LaunchRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.launches)
}

// Installed returns the currently installed versions.
func (e *Engine) Installed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.installed)
}

func (e *Engine) record(method, version string) {
	e.calls = append(e.calls, Call{Method: method, Version: version})
}

// ListInstalledVersions implements engine.Engine.
func (e *Engine) ListInstalledVersions(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(MethodList, "")
	if e.listErr != nil {
		return nil, e.listErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(e.installed), nil
}

// DownloadVersion implements engine.Engine. Callbacks run on a new
// goroutine; a successful download installs the version.
func (e *Engine) DownloadVersion(_ context.Context, version string, cb engine.DownloadCallbacks) {
	e.mu.Lock()
	e.record(MethodDownload, version)
	failure := e.downloadErr
	steps := slices.Clone(e.downloadSteps)
	e.mu.Unlock()

	go func() {
		for _, p := range steps {
			if cb.OnProgress != nil {
				cb.OnProgress(p)
			}
		}
		if failure != "" {
			if cb.OnError != nil {
				cb.OnError(failure)
			}
			return
		}
		e.mu.Lock()
		if !slices.Contains(e.installed, version) {
			e.installed = append(e.installed, version)
		}
		e.mu.Unlock()
		if cb.OnComplete != nil {
			cb.OnComplete()
		}
	}()
}

// Launch implements engine.Engine.
func (e *Engine) Launch(_ context.Context, req engine.LaunchRequest) (engine.Process, error) {
	e.mu.Lock()
	e.record(MethodLaunch, req.Version)
	e.launches = append(e.launches, req)
	hook, err := e.launchHook, e.launchErr
	proc := &Process{
		pid:  int(e.nextPID.Add(1)),
		code: e.exitCode,
		err:  e.exitErr,
		hold: e.hold,
	}
	e.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// Process is a fake game process.
type Process struct {
	pid  int
	code int
	err  error
	hold chan struct{}
}

// PID implements engine.Process.
func (p *Process) PID() int { return p.pid }

// Wait implements engine.Process.
func (p *Process) Wait() (int, error) {
	if p.hold != nil {
		<-p.hold
	}
	return p.code, p.err
}
