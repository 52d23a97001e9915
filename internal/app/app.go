// Package app wires cubic's components together.
//
// An App is built once at startup and handed to whatever needs the bus,
// dispatcher, download queue, instance store or orchestrator. Tests build
// isolated Apps with an in-memory filesystem and a scripted engine.
package app

import (
	"net/http"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/cubic/internal/config"
	"github.com/Iron-Ham/cubic/internal/dispatch"
	"github.com/Iron-Ham/cubic/internal/download"
	"github.com/Iron-Ham/cubic/internal/engine"
	"github.com/Iron-Ham/cubic/internal/event"
	"github.com/Iron-Ham/cubic/internal/instance"
	"github.com/Iron-Ham/cubic/internal/logging"
	"github.com/Iron-Ham/cubic/internal/orchestrator"
)

// App holds the components of a running launcher.
type App struct {
	Config       *config.Config
	Logger       *logging.Logger
	Bus          *event.Bus
	Front        *dispatch.Front
	Dispatcher   *dispatch.Dispatcher
	Downloads    *download.Queue
	Store        *instance.Store
	Engine       engine.Engine
	Orchestrator *orchestrator.Orchestrator
	// Watcher is nil unless instances.watch is enabled.
	Watcher *instance.Watcher

	closers   []func()
	closeOnce sync.Once
}

type options struct {
	fs     afero.Fs
	engine engine.Engine
	logger *logging.Logger
	source download.Source
	states orchestrator.StateChangeFunc
}

// Option customizes New.
type Option func(*options)

// WithFs replaces the OS filesystem for instances and versions.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithEngine replaces the local engine.
func WithEngine(e engine.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSource replaces the HTTP download source.
func WithSource(s download.Source) Option {
	return func(o *options) { o.source = s }
}

// WithStateCallback observes the orchestrator's state transitions.
func WithStateCallback(fn orchestrator.StateChangeFunc) Option {
	return func(o *options) { o.states = fn }
}

// New builds an App from cfg. On error everything already started is
// closed again.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = newLogger(cfg)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = logger.Close() })
	}
	a.Logger = logger

	a.Bus = event.NewBus(event.WithLogger(logger.WithComponent("bus")))

	a.Front = dispatch.NewFront(logger.WithComponent("front"))
	a.onClose(a.Front.Close)

	a.Dispatcher = dispatch.New(
		dispatch.WithGrace(cfg.Dispatch.ShutdownGrace()),
		dispatch.WithLogger(logger.WithComponent("dispatch")),
		dispatch.WithFront(a.Front),
	)

	source := o.source
	if source == nil {
		source = download.NewHTTPSource(&http.Client{})
	}
	a.Downloads = download.NewQueue(
		download.Config{
			Workers:        cfg.Download.Workers,
			ChunkSize:      cfg.Download.ChunkSize(),
			MaxBytesPerSec: cfg.Download.MaxBytesPerSec,
		},
		download.WithFs(o.fs),
		download.WithSource(source),
		download.WithBus(a.Bus),
		download.WithLogger(logger.WithComponent("download")),
	)
	a.onClose(a.Downloads.Close)
	// Registered after the queue so that it closes first and in-flight
	// starts can still finish their downloads.
	a.onClose(func() { a.Dispatcher.Shutdown() })

	store, err := instance.Open(o.fs, cfg.Paths.ResolveInstancesDir(),
		instance.WithBus(a.Bus),
		instance.WithLogger(logger.WithComponent("instances")))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	gameRoot := cfg.Paths.ResolveGameRoot()
	a.Engine = o.engine
	if a.Engine == nil {
		a.Engine = engine.NewLocal(gameRoot, a.Downloads,
			engine.WithFs(o.fs),
			engine.WithBaseURL(cfg.Download.BaseURL),
			engine.WithLogger(logger.WithComponent("engine")))
	}

	a.Orchestrator = orchestrator.New(a.Store, a.Engine, a.Dispatcher,
		orchestrator.WithBus(a.Bus),
		orchestrator.WithLogger(logger.WithComponent("orchestrator")),
		orchestrator.WithLaunchConfig(cfg.Launch),
		orchestrator.WithGameRoot(gameRoot),
		orchestrator.WithStateCallback(o.states))

	if cfg.Instances.Watch {
		if _, isOS := o.fs.(*afero.OsFs); !isOS {
			logger.Warn("instances.watch needs the OS filesystem, watcher disabled")
		} else {
			w, err := instance.NewWatcher(a.Store,
				instance.WithWatcherLogger(logger.WithComponent("watcher")))
			if err != nil {
				a.Close()
				return nil, err
			}
			w.Start()
			a.Watcher = w
			a.onClose(w.Stop)
		}
	}

	logger.Info("cubic started",
		"instances_root", a.Store.Root(),
		"game_root", gameRoot,
		"instances", a.Store.Len())
	return a, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLogger(cfg.Paths.ResolveLogDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close stops every component in reverse construction order. In-flight
// starts get the dispatcher grace period to finish. Safe to call twice.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.Logger != nil {
			a.Logger.Info("cubic shutting down", "active_tasks", a.activeTasks())
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	})
}

func (a *App) activeTasks() int {
	if a.Dispatcher == nil {
		return 0
	}
	return a.Dispatcher.Active()
}
