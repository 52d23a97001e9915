package engine

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/cubic/internal/download"
	"github.com/Iron-Ham/cubic/internal/errors"
	"github.com/Iron-Ham/cubic/internal/logging"
)

// ErrVersionNotInstalled is returned by Launch when the version jar is missing.
var ErrVersionNotInstalled = errors.New("version not installed")

// ErrNoBaseURL is reported when a download is requested without a
// configured download.base_url.
var ErrNoBaseURL = errors.New("no download base URL configured")

// progressTypeBytes is the Progress.Type of queue-backed downloads.
const progressTypeBytes = "bytes"

// unknownTotalStep is how often progress is forwarded, in bytes, when the
// server does not report a size.
const unknownTotalStep = 1 << 20

// Local is an Engine backed by a game root on disk.
type Local struct {
	fs       afero.Fs
	gameRoot string
	baseURL  string
	queue    *download.Queue
	logger   *logging.Logger
	output   io.Writer
	command  func(name string, args ...string) *exec.Cmd
}

// LocalOption configures a Local engine.
type LocalOption func(*Local)

// WithFs sets the filesystem versions are read from. It must match the
// filesystem of the download queue.
func WithFs(fs afero.Fs) LocalOption {
	return func(l *Local) { l.fs = fs }
}

// WithBaseURL sets where versions are fetched from, as
// <baseURL>/<id>/<id>.jar.
func WithBaseURL(baseURL string) LocalOption {
	return func(l *Local) { l.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithLogger sets the engine logger.
func WithLogger(logger *logging.Logger) LocalOption {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithOutput receives the game's stdout and stderr.
func WithOutput(w io.Writer) LocalOption {
	return func(l *Local) { l.output = w }
}

// WithCommand replaces exec.Command when spawning the game.
func WithCommand(fn func(name string, args ...string) *exec.Cmd) LocalOption {
	return func(l *Local) {
		if fn != nil {
			l.command = fn
		}
	}
}

// NewLocal creates an engine rooted at gameRoot that downloads through queue.
func NewLocal(gameRoot string, queue *download.Queue, opts ...LocalOption) *Local {
	l := &Local{
		fs:       afero.NewOsFs(),
		gameRoot: filepath.Clean(gameRoot),
		queue:    queue,
		logger:   logging.NopLogger(),
		command:  exec.Command,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GameRoot returns the directory holding installed versions.
func (l *Local) GameRoot() string {
	return l.gameRoot
}

// VersionJar returns where the jar for version is installed.
func (l *Local) VersionJar(version string) string {
	return filepath.Join(l.gameRoot, "versions", version, version+".jar")
}

// partialJar is where a version jar is written while it downloads. The
// finished file is renamed into place, so a jar at VersionJar is complete.
func (l *Local) partialJar(version string) string {
	return l.VersionJar(version) + ".part"
}

// VersionURL returns where version is downloaded from.
func (l *Local) VersionURL(version string) (string, error) {
	if l.baseURL == "" {
		return "", ErrNoBaseURL
	}
	escaped := url.PathEscape(version)
	return l.baseURL + "/" + escaped + "/" + escaped + ".jar", nil
}

// ListInstalledVersions returns the sorted ids of versions whose jar exists.
// A missing versions directory means nothing is installed.
func (l *Local) ListInstalledVersions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(l.gameRoot, "versions")
	infos, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		if exists, _ := afero.DirExists(l.fs, dir); !exists {
			return []string{}, nil
		}
		return nil, errors.NewStorageError("failed to list installed versions", err).
			WithOp("readdir").
			WithPath(dir)
	}

	versions := []string{}
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		if ok, _ := afero.Exists(l.fs, l.VersionJar(info.Name())); ok {
			versions = append(versions, info.Name())
		}
	}
	slices.Sort(versions)
	return versions, nil
}

// DownloadVersion queues the version jar and reports through cb from a
// separate goroutine. Cancelling ctx cancels the download.
func (l *Local) DownloadVersion(ctx context.Context, version string, cb DownloadCallbacks) {
	log := l.logger.With("version", version)

	src, err := l.VersionURL(version)
	if err != nil {
		cb.fail(err.Error())
		return
	}

	jar, part := l.VersionJar(version), l.partialJar(version)
	fwd := &progressForwarder{cb: cb, name: filepath.Base(jar)}
	handle := l.queue.Submit(src, part, download.WithProgress(fwd.forward))
	log.Info("version download queued", "url", src, "job_id", handle.ID())

	go func() {
		final, err := handle.Wait(ctx)
		if err != nil {
			handle.Cancel()
			log.Warn("version download failed", "error", err.Error())
			cb.fail(errors.Message(err))
			return
		}
		if err := l.fs.Rename(part, jar); err != nil {
			_ = l.fs.Remove(part)
			err = errors.NewStorageError("failed to install version jar", err).
				WithOp("rename").
				WithPath(jar)
			log.Warn("version install failed", "error", err.Error())
			cb.fail(errors.Message(err))
			return
		}
		log.Info("version download completed", "bytes", final.Transferred)
		cb.complete()
	}()
}

// progressForwarder thins per-chunk queue snapshots to one callback per
// whole percent, or per MiB when the total is unknown.
type progressForwarder struct {
	cb   DownloadCallbacks
	name string
	last int64
	sent bool
}

func (f *progressForwarder) forward(p download.Progress) {
	if p.State != download.StateRunning && p.State != download.StateCompleted {
		return
	}

	var mark int64
	if p.Total > 0 {
		mark = int64(p.Fraction() * 100)
	} else {
		mark = p.Transferred / unknownTotalStep
	}
	if f.sent && mark == f.last {
		return
	}
	f.last, f.sent = mark, true

	f.cb.progress(Progress{
		Type:    progressTypeBytes,
		Current: p.Transferred,
		Total:   p.Total,
		Name:    f.name,
	})
}

// Launch starts the version jar with the JVM at req.JavaPath, in req.WorkDir.
// The game is not bound to ctx and keeps running if the caller goes away.
func (l *Local) Launch(ctx context.Context, req LaunchRequest) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Version == "" {
		return nil, errors.NewValidationError("launch requires a version").WithField("version")
	}
	if req.WorkDir == "" {
		return nil, errors.NewValidationError("launch requires a working directory").WithField("work_dir")
	}

	jar := l.VersionJar(req.Version)
	if ok, _ := afero.Exists(l.fs, jar); !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotInstalled, req.Version)
	}

	javaPath := req.JavaPath
	if javaPath == "" {
		javaPath = "java"
	}
	cmd := l.command(javaPath, launchArgs(jar, req)...)
	cmd.Dir = req.WorkDir
	if l.output != nil {
		cmd.Stdout = l.output
		cmd.Stderr = l.output
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.NewLifecycleError("failed to start game process", err).
			WithState("launching")
	}

	l.logger.Info("game process started",
		"version", req.Version,
		"pid", cmd.Process.Pid,
		"work_dir", req.WorkDir)
	return &osProcess{cmd: cmd}, nil
}

// launchArgs builds the JVM and game arguments for req.
func launchArgs(jar string, req LaunchRequest) []string {
	args := []string{}
	if req.MinMemoryMB > 0 {
		args = append(args, "-Xms"+strconv.Itoa(req.MinMemoryMB)+"M")
	}
	if req.MaxMemoryMB > 0 {
		args = append(args, "-Xmx"+strconv.Itoa(req.MaxMemoryMB)+"M")
	}
	args = append(args,
		"-jar", jar,
		"--version", req.Version,
		"--gameDir", req.WorkDir,
	)
	if req.GameRoot != "" {
		args = append(args, "--assetsDir", filepath.Join(req.GameRoot, "assets"))
	}
	if req.Username != "" {
		args = append(args, "--username", req.Username)
	}
	if req.Fullscreen {
		args = append(args, "--fullscreen")
	} else {
		if req.Width > 0 {
			args = append(args, "--width", strconv.Itoa(req.Width))
		}
		if req.Height > 0 {
			args = append(args, "--height", strconv.Itoa(req.Height))
		}
	}
	return args
}
