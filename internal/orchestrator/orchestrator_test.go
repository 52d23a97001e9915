package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/cubic/internal/config"
	"github.com/Iron-Ham/cubic/internal/dispatch"
	"github.com/Iron-Ham/cubic/internal/engine"
	"github.com/Iron-Ham/cubic/internal/engine/enginetest"
	"github.com/Iron-Ham/cubic/internal/errors"
	"github.com/Iron-Ham/cubic/internal/event"
	"github.com/Iron-Ham/cubic/internal/instance"
)

// recorder collects published events from any goroutine.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) handle(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []event.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind())
	}
	return out
}

func (r *recorder) find(kind event.Kind) (event.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind() == kind {
			return e, true
		}
	}
	return event.Event{}, false
}

func (r *recorder) waitFor(t *testing.T, kind event.Kind) event.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e, ok := r.find(kind); ok {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s event; got %v", kind, r.kinds())
	return event.Event{}
}

type fixture struct {
	store  *instance.Store
	engine *enginetest.Engine
	disp   *dispatch.Dispatcher
	events *recorder
	orch   *Orchestrator
}

func newFixture(t *testing.T, eng *enginetest.Engine, opts ...Option) *fixture {
	t.Helper()

	bus := event.NewBus()
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)

	store, err := instance.Open(afero.NewMemMapFs(), "/instances", instance.WithBus(bus))
	if err != nil {
		t.Fatal(err)
	}

	d := dispatch.New(dispatch.WithGrace(time.Second))
	t.Cleanup(func() { d.Shutdown() })

	launch := config.Default().Launch
	launch.Username = "Tester"
	opts = append([]Option{
		WithBus(bus),
		WithGameRoot("/game"),
		WithLaunchConfig(launch),
	}, opts...)

	return &fixture{
		store:  store,
		engine: eng,
		disp:   d,
		events: rec,
		orch:   New(store, eng, d, opts...),
	}
}

func (f *fixture) create(t *testing.T, name, version string) {
	t.Helper()
	if _, err := f.store.Create(name, version); err != nil {
		t.Fatal(err)
	}
}

func await(t *testing.T, fut *dispatch.Future[Launch]) (Launch, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l, err := fut.Await(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("start did not finish")
	}
	return l, err
}

func TestStart_DownloadsMissingVersionBeforeLaunch(t *testing.T) {
	eng := enginetest.New("1.19.4")
	eng.SetDownloadProgress(
		engine.Progress{Type: "bytes", Current: 512, Total: 1024, Name: "1.20.1.jar"},
		engine.Progress{Type: "bytes", Current: 1024, Total: 1024, Name: "1.20.1.jar"},
	)
	f := newFixture(t, eng)
	f.create(t, "Demo", "1.20.1")

	var playedAtLaunch time.Time
	var downloadsAtLaunch int
	eng.SetLaunchHook(func(engine.LaunchRequest) {
		inst, _ := f.store.Get("Demo")
		playedAtLaunch = inst.LastPlayed
		downloadsAtLaunch = eng.Count(enginetest.MethodDownload)
	})

	launch, err := await(t, f.orch.Start("Demo"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	want := []enginetest.Call{
		{Method: enginetest.MethodList},
		{Method: enginetest.MethodDownload, Version: "1.20.1"},
		{Method: enginetest.MethodLaunch, Version: "1.20.1"},
	}
	if diff := cmp.Diff(want, eng.Calls()); diff != "" {
		t.Errorf("engine calls mismatch (-want +got):\n%s", diff)
	}
	if downloadsAtLaunch != 1 {
		t.Errorf("%d downloads before launch, want 1", downloadsAtLaunch)
	}
	if !playedAtLaunch.IsZero() {
		t.Errorf("LastPlayed was %v before launch returned", playedAtLaunch)
	}

	inst, _ := f.store.Get("Demo")
	if !inst.Played() {
		t.Error("LastPlayed not updated after a successful launch")
	}
	if !launch.Downloaded || launch.Version != "1.20.1" || launch.Instance != "Demo" || launch.PID == 0 {
		t.Errorf("Launch = %+v", launch)
	}
	if got := f.orch.State("Demo"); got != StateIdle {
		t.Errorf("State() = %s, want idle", got)
	}

	req := eng.Launches()[0]
	if req.WorkDir != f.store.Dir("Demo") || req.GameRoot != "/game" || req.Username != "Tester" {
		t.Errorf("LaunchRequest = %+v", req)
	}

	wantKinds := []event.Kind{
		event.InstanceCreated,
		event.InstanceVersionMissing,
		event.DownloadProgress,
		event.DownloadProgress,
		event.DownloadCompleted,
		event.GameStarted,
	}
	if diff := cmp.Diff(wantKinds, f.events.kinds()[:len(wantKinds)]); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	started, _ := f.events.find(event.GameStarted)
	if started.String(event.KeyVersion) != "1.20.1" || started.Int64(event.KeyPID) != int64(launch.PID) {
		t.Errorf("game.started payload = %v", started.Payload())
	}
	progress, _ := f.events.find(event.DownloadProgress)
	if progress.Instance() != "Demo" || progress.String(event.KeyFileName) != "1.20.1.jar" {
		t.Errorf("download.progress payload = %v", progress.Payload())
	}
}

func TestStart_InstalledVersionSkipsDownload(t *testing.T) {
	eng := enginetest.New("1.20.1")
	f := newFixture(t, eng)
	f.create(t, "Demo", "1.20.1")

	launch, err := await(t, f.orch.Start("Demo"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if launch.Downloaded {
		t.Error("Launch.Downloaded = true for an installed version")
	}
	if n := eng.Count(enginetest.MethodDownload); n != 0 {
		t.Errorf("%d downloads, want 0", n)
	}
	if _, ok := f.events.find(event.InstanceVersionMissing); ok {
		t.Error("instance.versionMissing published for an installed version")
	}
}

func TestStart_StateTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	eng := enginetest.New()
	f := newFixture(t, eng, WithStateCallback(func(name string, _, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, to)
	}))
	f.create(t, "Demo", "1.20.1")

	if _, err := await(t, f.orch.Start("Demo")); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateCheckingInstalled, StateDownloading, StateLaunching, StateUpdating, StateIdle}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestStart_MissingInstance(t *testing.T) {
	eng := enginetest.New("1.20.1")
	f := newFixture(t, eng)

	fut := f.orch.Start("Ghost")
	select {
	case <-fut.Done():
	default:
		t.Fatal("future for a missing instance is not already failed")
	}

	_, err := fut.Poll()
	var lerr *errors.LifecycleError
	if !errors.As(err, &lerr) {
		t.Fatalf("Start() error = %v, want LifecycleError", err)
	}
	var nerr *errors.NotFoundError
	if !errors.As(err, &nerr) {
		t.Errorf("Start() error does not wrap NotFoundError: %v", err)
	}
	crashed, ok := f.events.find(event.GameCrashed)
	if !ok || crashed.Instance() != "Ghost" || crashed.String(event.KeyMessage) == "" {
		t.Errorf("game.crashed = %v, %v", crashed.Payload(), ok)
	}
	if calls := eng.Calls(); len(calls) != 0 {
		t.Errorf("engine was called: %v", calls)
	}
}

func TestStart_Failures(t *testing.T) {
	tests := []struct {
		name         string
		installed    []string
		setup        func(*enginetest.Engine)
		wantErr      error
		wantEvents   []event.Kind
		wantCalls    int
		wantSeverity errors.Severity
	}{
		{
			name:         "download fails",
			setup:        func(e *enginetest.Engine) { e.SetDownloadError("server responded 503") },
			wantErr:      errors.ErrVersionDownloadFailed,
			wantEvents:   []event.Kind{event.DownloadFailed, event.GameCrashed},
			wantCalls:    2,
			wantSeverity: errors.SeverityError,
		},
		{
			name:         "launch fails",
			installed:    []string{"1.20.1"},
			setup:        func(e *enginetest.Engine) { e.SetLaunchError(errors.New("exec: java not found")) },
			wantErr:      errors.ErrLaunchFailed,
			wantEvents:   []event.Kind{event.GameCrashed},
			wantCalls:    2,
			wantSeverity: errors.SeverityError,
		},
		{
			name:         "listing fails",
			setup:        func(e *enginetest.Engine) { e.SetListError(errors.New("game root unreadable")) },
			wantEvents:   []event.Kind{event.GameCrashed},
			wantCalls:    1,
			wantSeverity: errors.SeverityError,
		},
		{
			name:      "engine panics",
			installed: []string{"1.20.1"},
			setup: func(e *enginetest.Engine) {
				e.SetLaunchHook(func(engine.LaunchRequest) { panic("boom") })
			},
			wantEvents:   []event.Kind{event.GameCrashed},
			wantCalls:    2,
			wantSeverity: errors.SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := enginetest.New(tt.installed...)
			tt.setup(eng)
			f := newFixture(t, eng)
			f.create(t, "Demo", "1.20.1")

			_, err := await(t, f.orch.Start("Demo"))

			var lerr *errors.LifecycleError
			if !errors.As(err, &lerr) {
				t.Fatalf("Start() error = %v, want LifecycleError", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() error = %v, want %v", err, tt.wantErr)
			}
			if got := errors.GetSeverity(err); got != tt.wantSeverity {
				t.Errorf("GetSeverity() = %s, want %s", got, tt.wantSeverity)
			}
			if got := f.orch.State("Demo"); got != StateErrored {
				t.Errorf("State() = %s, want errored", got)
			}
			if inst, _ := f.store.Get("Demo"); inst.Played() {
				t.Error("LastPlayed updated by a failed start")
			}
			if n := eng.Count(enginetest.MethodLaunch) + eng.Count(enginetest.MethodDownload) +
				eng.Count(enginetest.MethodList); n != tt.wantCalls {
				t.Errorf("%d engine calls, want %d: %v", n, tt.wantCalls, eng.Calls())
			}
			for _, kind := range tt.wantEvents {
				if _, ok := f.events.find(kind); !ok {
					t.Errorf("no %s event; got %v", kind, f.events.kinds())
				}
			}
			if _, ok := f.events.find(event.GameStarted); ok {
				t.Error("game.started published for a failed start")
			}
		})
	}
}

func TestStart_ReportsProcessExit(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		waitErr  error
		wantKind event.Kind
	}{
		{"clean exit", 0, nil, event.GameStopped},
		{"non-zero exit", 1, nil, event.GameCrashed},
		{"killed", -1, errors.New("signal: killed"), event.GameCrashed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := enginetest.New("1.20.1")
			eng.SetExit(tt.code, tt.waitErr)
			release := eng.Hold()
			f := newFixture(t, eng)
			f.create(t, "Demo", "1.20.1")

			launch, err := await(t, f.orch.Start("Demo"))
			if err != nil {
				t.Fatal(err)
			}

			select {
			case <-launch.Exited():
				t.Fatal("Exited() closed while the process is running")
			default:
			}

			release()
			select {
			case <-launch.Exited():
			case <-time.After(3 * time.Second):
				t.Fatal("Exited() not closed after the process ended")
			}

			e, ok := f.events.find(tt.wantKind)
			if !ok {
				t.Fatalf("no %s event; got %v", tt.wantKind, f.events.kinds())
			}
			if tt.wantKind == event.GameStopped && e.String(event.KeyVersion) != "1.20.1" {
				t.Errorf("game.stopped payload = %v", e.Payload())
			}
		})
	}
}

func TestStart_ConcurrentStartsAreNotDeduplicated(t *testing.T) {
	eng := enginetest.New("1.20.1")
	f := newFixture(t, eng)
	f.create(t, "Demo", "1.20.1")

	first := f.orch.Start("Demo")
	second := f.orch.Start("Demo")
	for _, fut := range []*dispatch.Future[Launch]{first, second} {
		if _, err := await(t, fut); err != nil {
			t.Fatal(err)
		}
	}

	if n := eng.Count(enginetest.MethodLaunch); n != 2 {
		t.Errorf("%d launches, want 2", n)
	}
}

func TestStart_AfterShutdown(t *testing.T) {
	eng := enginetest.New("1.20.1")
	f := newFixture(t, eng)
	f.create(t, "Demo", "1.20.1")
	f.disp.Shutdown()

	_, err := await(t, f.orch.Start("Demo"))
	if !errors.Is(err, dispatch.ErrClosed) {
		t.Fatalf("Start() error = %v, want ErrClosed", err)
	}
	var lerr *errors.LifecycleError
	if !errors.As(err, &lerr) {
		t.Errorf("Start() error = %v, want LifecycleError", err)
	}
	f.events.waitFor(t, event.GameCrashed)
}

func TestStart_DoesNotBlockCaller(t *testing.T) {
	eng := enginetest.New()
	gate := make(chan struct{})
	eng.SetLaunchHook(func(engine.LaunchRequest) { <-gate })
	f := newFixture(t, eng)
	f.create(t, "Demo", "1.20.1")

	fut := f.orch.Start("Demo")
	if _, err := fut.Poll(); !errors.Is(err, dispatch.ErrPending) {
		t.Fatalf("Poll() right after Start() = %v, want ErrPending", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for f.orch.State("Demo") != StateLaunching && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if busy := f.orch.Busy(); len(busy) != 1 || busy[0] != "Demo" {
		t.Errorf("Busy() = %v, want [Demo]", busy)
	}

	close(gate)
	if _, err := await(t, fut); err != nil {
		t.Fatal(err)
	}
}
