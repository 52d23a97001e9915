package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/cubic/internal/config"
	"github.com/Iron-Ham/cubic/internal/dispatch"
	"github.com/Iron-Ham/cubic/internal/engine"
	"github.com/Iron-Ham/cubic/internal/errors"
	"github.com/Iron-Ham/cubic/internal/event"
	"github.com/Iron-Ham/cubic/internal/instance"
	"github.com/Iron-Ham/cubic/internal/logging"
)

// Launch describes a successful start.
type Launch struct {
	Instance string
	Version  string
	PID      int
	// Downloaded is set when the version had to be installed first.
	Downloaded bool

	exited chan struct{}
}

// Exited is closed once the game process has exited and game.stopped or
// game.crashed has been published.
func (l Launch) Exited() <-chan struct{} {
	return l.exited
}

// StateChangeFunc observes state transitions. It runs synchronously on the
// goroutine performing the transition.
type StateChangeFunc func(name string, from, to State)

// Orchestrator runs start attempts for the instances of one store.
type Orchestrator struct {
	store      *instance.Store
	engine     engine.Engine
	dispatcher *dispatch.Dispatcher
	bus        *event.Bus
	logger     *logging.Logger
	launch     config.LaunchConfig
	gameRoot   string

	onStateChange StateChangeFunc

	mu     sync.Mutex
	states map[string]State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBus sets the bus lifecycle events are published on.
func WithBus(bus *event.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLaunchConfig sets the options passed to the engine on launch.
func WithLaunchConfig(cfg config.LaunchConfig) Option {
	return func(o *Orchestrator) { o.launch = cfg }
}

// WithGameRoot sets the game root passed to the engine on launch.
func WithGameRoot(root string) Option {
	return func(o *Orchestrator) { o.gameRoot = root }
}

// WithStateCallback registers fn for every state transition.
func WithStateCallback(fn StateChangeFunc) Option {
	return func(o *Orchestrator) { o.onStateChange = fn }
}

// New creates an orchestrator. Start attempts run on d.
func New(store *instance.Store, eng engine.Engine, d *dispatch.Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		engine:     eng,
		dispatcher: d,
		logger:     logging.NopLogger(),
		launch:     config.Default().Launch,
		states:     make(map[string]State),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the state of the named instance's latest start attempt.
func (o *Orchestrator) State(name string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[name]; ok {
		return s
	}
	return StateIdle
}

// States returns the state of every instance that has been started.
func (o *Orchestrator) States() map[string]State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return maps.Clone(o.states)
}

// Busy returns the names of instances with a start in progress, sorted.
func (o *Orchestrator) Busy() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var names []string
	for name, s := range o.states {
		if s.IsBusy() {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (o *Orchestrator) setState(name string, to State) {
	o.mu.Lock()
	from, ok := o.states[name]
	if !ok {
		from = StateIdle
	}
	o.states[name] = to
	o.mu.Unlock()

	if from != to {
		o.logger.WithInstance(name).Debug("state changed", "from", from.String(), "to", to.String())
	}
	if o.onStateChange != nil {
		o.onStateChange(name, from, to)
	}
}

// Start launches the named instance in the background, installing its
// version first when the engine does not have it. It never blocks.
//
// Every failure is logged, published as game.crashed and returned through
// the future as a *errors.LifecycleError. Nothing is retried.
func (o *Orchestrator) Start(name string) *dispatch.Future[Launch] {
	inst, ok := o.store.Get(name)
	if !ok {
		err := errors.NewLifecycleError("cannot start instance",
			errors.NewNotFoundError("instance", name)).
			WithInstance(name).
			WithState(StateIdle.String())
		o.fail(name, err)
		return dispatch.Failed[Launch](err)
	}

	f := dispatch.Call(o.dispatcher, func(ctx context.Context) (Launch, error) {
		return o.attempt(ctx, inst)
	})
	if _, err := f.Poll(); errors.Is(err, dispatch.ErrClosed) {
		lerr := errors.NewLifecycleError("cannot start instance while shutting down", err).
			WithInstance(name).
			WithState(StateIdle.String())
		o.fail(name, lerr)
		return dispatch.Failed[Launch](lerr)
	}
	return f
}

// attempt runs one start sequence, converting failures and panics into a
// LifecycleError at this boundary.
func (o *Orchestrator) attempt(ctx context.Context, inst instance.Instance) (launch Launch, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		launch, err = o.run(ctx, inst)
	})
	if r := pc.Recovered(); r != nil {
		err = errors.NewLifecycleError("start panicked", r.AsError()).
			WithInstance(inst.Name).
			WithState(o.State(inst.Name).String()).
			WithSeverity(errors.SeverityCritical)
	}
	if err != nil {
		o.fail(inst.Name, err)
		return Launch{}, err
	}
	return launch, nil
}

func (o *Orchestrator) run(ctx context.Context, inst instance.Instance) (Launch, error) {
	log := o.logger.WithInstance(inst.Name)
	stepErr := func(state State, msg string, cause error) error {
		return errors.NewLifecycleError(msg, cause).
			WithInstance(inst.Name).
			WithState(state.String())
	}

	o.setState(inst.Name, StateCheckingInstalled)
	installed, err := o.engine.ListInstalledVersions(ctx)
	if err != nil {
		return Launch{}, stepErr(StateCheckingInstalled, "failed to list installed versions", err)
	}

	launch := Launch{
		Instance: inst.Name,
		Version:  inst.Version,
		exited:   make(chan struct{}),
	}

	if !slices.Contains(installed, inst.Version) {
		log.Info("version not installed, downloading", "version", inst.Version)
		o.publish(event.NewInstanceVersionMissing(inst.Name, inst.Version))

		o.setState(inst.Name, StateDownloading)
		if err := o.download(ctx, inst); err != nil {
			o.publish(event.NewDownloadFailed(inst.Name, errors.Message(err)))
			return Launch{}, stepErr(StateDownloading, "failed to install version "+inst.Version,
				fmt.Errorf("%w: %w", errors.ErrVersionDownloadFailed, err))
		}
		o.publish(event.NewDownloadCompleted(inst.Name, inst.Version))
		launch.Downloaded = true
	}

	o.setState(inst.Name, StateLaunching)
	proc, err := o.engine.Launch(ctx, o.launchRequest(inst))
	if err != nil {
		return Launch{}, stepErr(StateLaunching, "failed to launch game",
			fmt.Errorf("%w: %w", errors.ErrLaunchFailed, err))
	}
	launch.PID = proc.PID()

	o.setState(inst.Name, StateUpdating)
	if !o.store.TouchLastPlayed(inst.Name) {
		// The game is already running; a stale timestamp does not undo that.
		log.Warn("failed to record last played time")
	}
	log.Info("game started", "version", inst.Version, "pid", launch.PID)
	o.publish(event.NewGameStarted(inst.Name, inst.Version, launch.PID))

	go o.watch(inst, proc, launch.exited)

	o.setState(inst.Name, StateIdle)
	return launch, nil
}

// download asks the engine for the instance's version and blocks this task
// until the engine reports an outcome or ctx is cancelled.
func (o *Orchestrator) download(ctx context.Context, inst instance.Instance) error {
	result := make(chan error, 1)
	report := func(err error) {
		select {
		case result <- err:
		default:
		}
	}

	o.engine.DownloadVersion(ctx, inst.Version, engine.DownloadCallbacks{
		OnProgress: func(p engine.Progress) {
			o.publish(event.NewDownloadProgress(inst.Name, p.Type, p.Current, p.Total, p.Name))
		},
		OnComplete: func() { report(nil) },
		OnError:    func(message string) { report(errors.New(message)) },
	})

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) launchRequest(inst instance.Instance) engine.LaunchRequest {
	return engine.LaunchRequest{
		Version:     inst.Version,
		GameRoot:    o.gameRoot,
		WorkDir:     o.store.Dir(inst.Name),
		Username:    o.launch.Username,
		JavaPath:    o.launch.JavaPath,
		MinMemoryMB: o.launch.MinMemoryMB,
		MaxMemoryMB: o.launch.MaxMemoryMB,
		Width:       o.launch.Width,
		Height:      o.launch.Height,
		Fullscreen:  o.launch.Fullscreen,
	}
}

// watch waits for the game to exit. It runs outside the dispatcher so that
// a long session does not hold up shutdown.
func (o *Orchestrator) watch(inst instance.Instance, proc engine.Process, exited chan struct{}) {
	defer close(exited)
	log := o.logger.WithInstance(inst.Name)

	var code int
	var err error
	var pc panics.Catcher
	pc.Try(func() { code, err = proc.Wait() })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}

	switch {
	case err != nil:
		log.Error("game process ended abnormally", "error", err.Error())
		o.publish(event.NewGameCrashed(inst.Name, "game process ended abnormally: "+err.Error()))
	case code != 0:
		log.Warn("game exited with error", "exit_code", code)
		o.publish(event.NewGameCrashed(inst.Name, fmt.Sprintf("game exited with code %d", code)))
	default:
		log.Info("game stopped", "exit_code", code)
		o.publish(event.NewGameStopped(inst.Name, inst.Version, code))
	}
}

// fail records a failed attempt and publishes it.
func (o *Orchestrator) fail(name string, err error) {
	o.setState(name, StateErrored)
	o.logger.WithInstance(name).Error("start failed",
		"error", err.Error(),
		"severity", errors.GetSeverity(err).String())
	o.publish(event.NewGameCrashed(name, errors.Message(err)))
}

func (o *Orchestrator) publish(e event.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}
