package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/cubic/internal/config"
	"github.com/Iron-Ham/cubic/internal/engine/enginetest"
	"github.com/Iron-Ham/cubic/internal/event"
	"github.com/Iron-Ham/cubic/internal/logging"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Paths.DataDir = "/data"
	cfg.Logging.Enabled = false
	cfg.Dispatch.ShutdownGraceSeconds = 1
	return cfg
}

func TestNew_WiresComponents(t *testing.T) {
	fs := afero.NewMemMapFs()
	eng := enginetest.New("1.20.1")

	a, err := New(testConfig(), WithFs(fs), WithEngine(eng), WithLogger(logging.NopLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Store.Root() != "/data/instances" {
		t.Errorf("Store.Root() = %q, want /data/instances", a.Store.Root())
	}
	if ok, _ := afero.DirExists(fs, "/data/instances"); !ok {
		t.Error("instances root not created")
	}
	if a.Watcher != nil {
		t.Error("watcher started although instances.watch is off")
	}
	if a.Downloads.Workers() != 3 {
		t.Errorf("Downloads.Workers() = %d, want 3", a.Downloads.Workers())
	}

	var started []string
	if _, err := a.Bus.Subscribe(event.GameStarted, func(e event.Event) {
		started = append(started, e.Instance())
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Store.Create("Demo", "1.20.1"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	launch, err := a.Orchestrator.Start("Demo").Await(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if launch.Instance != "Demo" {
		t.Errorf("Launch.Instance = %q", launch.Instance)
	}
	if len(started) != 1 {
		t.Errorf("game.started published %d times, want 1", len(started))
	}

	req := eng.Launches()[0]
	if req.GameRoot != "/data/game" || req.WorkDir != "/data/instances/Demo" {
		t.Errorf("LaunchRequest = %+v", req)
	}
}

func TestNew_WatchNeedsOSFilesystem(t *testing.T) {
	cfg := testConfig()
	cfg.Instances.Watch = true

	a, err := New(cfg, WithFs(afero.NewMemMapFs()), WithEngine(enginetest.New()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Watcher != nil {
		t.Error("watcher started on an in-memory filesystem")
	}
}

func TestNew_WatchOnOSFilesystem(t *testing.T) {
	cfg := testConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Instances.Watch = true

	a, err := New(cfg, WithEngine(enginetest.New()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Watcher == nil {
		t.Error("watcher not started")
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, err := New(testConfig(), WithFs(afero.NewMemMapFs()), WithEngine(enginetest.New()))
	if err != nil {
		t.Fatal(err)
	}

	a.Close()
	a.Close()

	if err := a.Dispatcher.Run(func(context.Context) error { return nil }); err == nil {
		t.Error("dispatcher still accepts work after Close")
	}
	if fut := a.Orchestrator.Start("Demo"); fut == nil {
		t.Error("Start() after Close returned nil")
	}
}

func TestNew_LogsToDataDir(t *testing.T) {
	cfg := testConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Logging.Enabled = true

	a, err := New(cfg, WithEngine(enginetest.New()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a.Close()

	logFile := filepath.Join(cfg.Paths.ResolveLogDir(), logging.LogFileName)
	data, err := afero.ReadFile(afero.NewOsFs(), logFile)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
}
