package download

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/juju/ratelimit"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/cubic/internal/errors"
	"github.com/Iron-Ham/cubic/internal/event"
	"github.com/Iron-Ham/cubic/internal/logging"
)

// Defaults and bounds for Config.
const (
	DefaultWorkers   = 3
	MaxWorkers       = 16
	DefaultChunkSize = 8 * 1024
)

// ErrQueueClosed is the failure reason of jobs submitted after Close.
var ErrQueueClosed = errors.New("download queue is closed")

// Config controls the queue's resources.
type Config struct {
	// Workers is the number of concurrent downloads, clamped to [1, 16].
	Workers int
	// ChunkSize is the read buffer size in bytes.
	ChunkSize int
	// MaxBytesPerSec caps the combined rate of all workers. 0 is unlimited.
	MaxBytesPerSec int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithFs sets the filesystem destinations are written to.
func WithFs(fs afero.Fs) Option {
	return func(q *Queue) { q.fs = fs }
}

// WithSource sets where bytes come from. Defaults to an HTTPSource.
func WithSource(s Source) Option {
	return func(q *Queue) { q.source = s }
}

// WithClock sets the clock used for speed sampling.
func WithClock(c Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithBus routes job lifecycle events to bus.
func WithBus(bus *event.Bus) Option {
	return func(q *Queue) { q.bus = bus }
}

// WithLogger sets the queue logger.
func WithLogger(logger *logging.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithAggregateListener registers fn to be called with the new aggregate
// value whenever it changes. fn runs on the goroutine that caused the
// change and must not call back into the queue.
func WithAggregateListener(fn func(float64)) Option {
	return func(q *Queue) { q.aggregateListeners = append(q.aggregateListeners, fn) }
}

// JobOption configures a single job.
type JobOption func(*job)

// WithProgress registers a callback invoked on the worker goroutine after
// every snapshot update, including the terminal one.
func WithProgress(fn func(Progress)) JobOption {
	return func(j *job) { j.onProgress = fn }
}

// Queue is a FIFO of download jobs drained by a fixed pool of workers.
type Queue struct {
	fs        afero.Fs
	source    Source
	clock     Clock
	bus       *event.Bus
	logger    *logging.Logger
	bucket    *ratelimit.Bucket
	chunkSize int
	workers   int

	aggregateListeners []func(float64)

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []*job
	order     []string
	jobs      map[string]*job
	aggregate float64
	closed    bool

	wg conc.WaitGroup
}

// NewQueue creates a queue and starts its workers.
func NewQueue(cfg Config, opts ...Option) *Queue {
	q := &Queue{
		fs:        afero.NewOsFs(),
		clock:     SystemClock(),
		logger:    logging.NopLogger(),
		chunkSize: cfg.ChunkSize,
		workers:   cfg.Workers,
		jobs:      make(map[string]*job),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.source == nil {
		q.source = NewHTTPSource(nil)
	}
	if q.workers <= 0 {
		q.workers = DefaultWorkers
	}
	if q.workers > MaxWorkers {
		q.workers = MaxWorkers
	}
	if q.chunkSize <= 0 {
		q.chunkSize = DefaultChunkSize
	}
	if cfg.MaxBytesPerSec > 0 {
		// One second of burst, but never less than a chunk so a single
		// read can always be satisfied.
		capacity := max(cfg.MaxBytesPerSec, int64(q.chunkSize))
		q.bucket = ratelimit.NewBucketWithRate(float64(cfg.MaxBytesPerSec), capacity)
	}
	q.cond = sync.NewCond(&q.mu)

	for i := 0; i < q.workers; i++ {
		q.wg.Go(q.worker)
	}
	return q
}

// Workers returns the size of the worker pool.
func (q *Queue) Workers() int {
	return q.workers
}

// Submit enqueues a download of url into destination and returns
// immediately. After Close the returned job is already cancelled.
func (q *Queue) Submit(url, destination string, opts ...JobOption) *Handle {
	j := newJob(uuid.NewString(), url, destination)
	for _, opt := range opts {
		opt(j)
	}
	log := q.logger.WithJob(j.id)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		j.finish(StateCancelled, ErrQueueClosed)
		j.release()
		return &Handle{job: j, queue: q}
	}
	q.jobs[j.id] = j
	q.order = append(q.order, j.id)
	q.pending = append(q.pending, j)
	q.cond.Signal()
	q.recomputeLocked()
	q.mu.Unlock()

	log.Debug("download queued", "url", url, "destination", destination)
	return &Handle{job: j, queue: q}
}

// Get returns the snapshot of a tracked job.
func (q *Queue) Get(id string) (Progress, bool) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return Progress{}, false
	}
	return j.snapshot(), true
}

// Jobs returns snapshots of every tracked job in submission order.
func (q *Queue) Jobs() []Progress {
	q.mu.Lock()
	tracked := make([]*job, 0, len(q.order))
	for _, id := range q.order {
		tracked = append(tracked, q.jobs[id])
	}
	q.mu.Unlock()

	out := make([]Progress, len(tracked))
	for i, j := range tracked {
		out[i] = j.snapshot()
	}
	return out
}

// Aggregate returns the mean completion fraction of all tracked jobs, or 0
// when none are tracked.
func (q *Queue) Aggregate() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aggregate
}

// Cancel requests cancellation of a job. The job reaches the cancelled
// state at its next checkpoint. Returns false if the job is unknown or
// already terminal.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	j, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return false
	}
	return j.requestCancel()
}

// Remove stops tracking a terminal job. Returns false if the job is unknown
// or still queued or running.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok || !j.snapshot().State.IsTerminal() {
		return false
	}
	q.removeLocked(id)
	q.recomputeLocked()
	return true
}

// Prune stops tracking every terminal job and returns how many were removed.
func (q *Queue) Prune() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for _, id := range append([]string(nil), q.order...) {
		if q.jobs[id].snapshot().State.IsTerminal() {
			q.removeLocked(id)
			removed++
		}
	}
	if removed > 0 {
		q.recomputeLocked()
	}
	return removed
}

func (q *Queue) removeLocked(id string) {
	delete(q.jobs, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// recomputeLocked refreshes the aggregate and notifies listeners on change.
// Called with q.mu held.
func (q *Queue) recomputeLocked() {
	var sum float64
	for _, id := range q.order {
		sum += q.jobs[id].snapshot().Fraction()
	}
	next := 0.0
	if len(q.order) > 0 {
		next = sum / float64(len(q.order))
	}
	if next == q.aggregate {
		return
	}
	q.aggregate = next
	for _, fn := range q.aggregateListeners {
		fn(next)
	}
}

func (q *Queue) refreshAggregate() {
	q.mu.Lock()
	q.recomputeLocked()
	q.mu.Unlock()
}

// Close stops accepting jobs, cancels queued ones, flags running ones and
// waits for the workers to exit. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	running := make([]*job, 0, len(q.jobs))
	for _, j := range q.jobs {
		running = append(running, j)
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, j := range pending {
		j.finish(StateCancelled, ErrQueueClosed)
		q.notifySafely(j, q.logger.WithJob(j.id))
		j.release()
	}
	for _, j := range running {
		j.requestCancel()
	}
	q.refreshAggregate()
	q.wg.Wait()
}

// next blocks until a job is available or the queue is closed.
func (q *Queue) next() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.pending) == 0 {
		return nil, false
	}
	j := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return j, true
}

func (q *Queue) worker() {
	for {
		j, ok := q.next()
		if !ok {
			return
		}
		q.run(j)
	}
}

// run processes a job to a terminal state. Panics from the transfer or
// from callbacks fail the job instead of killing the worker.
func (q *Queue) run(j *job) {
	log := q.logger.WithJob(j.id)

	var pc panics.Catcher
	pc.Try(func() {
		if j.cancelRequested() {
			j.finish(StateCancelled, errors.ErrCanceled)
			return
		}
		j.start(q.clock)
		q.publish(event.DownloadStarted, j.snapshot(), nil)
		q.notify(j)
		log.Info("download started", "url", j.url, "destination", j.destination)

		err := q.transfer(j)
		switch {
		case err == nil:
			j.finish(StateCompleted, nil)
		case j.cancelRequested():
			j.finish(StateCancelled, errors.ErrCanceled)
		default:
			j.finish(StateFailed, err)
		}
	})
	if r := pc.Recovered(); r != nil {
		j.finish(StateFailed, fmt.Errorf("download panicked: %w", r.AsError()))
	}

	p := j.snapshot()
	if p.State != StateCompleted {
		q.removePartial(j.destination, log)
	}

	switch p.State {
	case StateCompleted:
		log.Info("download completed", "bytes", p.Transferred)
		q.publish(event.DownloadCompleted, p, nil)
		q.publish(event.DownloadProgress, p, nil)
	case StateFailed:
		log.Warn("download failed", "error", p.Error)
		q.publish(event.DownloadFailed, p, map[string]any{
			event.KeyMessage:   p.Error,
			event.KeyRetryable: errors.IsRetryable(j.failure()),
		})
	case StateCancelled:
		log.Info("download cancelled")
	}

	q.refreshAggregate()
	q.notifySafely(j, log)
	j.release()
}

// transfer streams the source into the destination file.
func (q *Queue) transfer(j *job) error {
	body, total, err := q.source.Open(j.ctx, j.url)
	if err != nil {
		return err
	}
	defer body.Close()

	if j.cancelRequested() {
		return errors.ErrCanceled
	}
	j.setTotal(total)

	dir := filepath.Dir(j.destination)
	if err := q.fs.MkdirAll(dir, 0755); err != nil {
		return errors.NewStorageError("failed to create destination directory", err).
			WithOp("mkdir").
			WithPath(dir)
	}
	f, err := q.fs.Create(j.destination)
	if err != nil {
		return errors.NewStorageError("failed to create destination file", err).
			WithOp("create").
			WithPath(j.destination)
	}

	var r io.Reader = body
	if q.bucket != nil {
		r = ratelimit.Reader(body, q.bucket)
	}

	buf := make([]byte, q.chunkSize)
	for {
		if j.cancelRequested() {
			f.Close()
			return errors.ErrCanceled
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				return errors.NewStorageError("failed to write destination file", err).
					WithOp("write").
					WithPath(j.destination)
			}
			if sampled := j.advance(int64(n)); sampled {
				q.publish(event.DownloadProgress, j.snapshot(), nil)
			}
			q.refreshAggregate()
			q.notify(j)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			return errors.NewDownloadError("transfer interrupted", readErr).WithURL(j.url)
		}
	}

	// A body cut short by the server ends in a clean EOF on some
	// transports; the announced length is the only tell.
	if p := j.snapshot(); p.Total >= 0 && p.Transferred != p.Total {
		f.Close()
		return errors.NewDownloadError(
			fmt.Sprintf("transfer incomplete: received %d of %d bytes", p.Transferred, p.Total),
			io.ErrUnexpectedEOF).
			WithURL(j.url)
	}

	if err := f.Close(); err != nil {
		return errors.NewStorageError("failed to close destination file", err).
			WithOp("close").
			WithPath(j.destination)
	}
	return nil
}

func (q *Queue) removePartial(path string, log *logging.Logger) {
	if err := q.fs.Remove(path); err != nil {
		if exists, _ := afero.Exists(q.fs, path); exists {
			log.Warn("failed to remove partial file", "path", path, "error", err.Error())
		}
	}
}

func (q *Queue) notify(j *job) {
	if j.onProgress != nil {
		j.onProgress(j.snapshot())
	}
}

// notifySafely delivers the terminal snapshot after the job is finished,
// where a panicking callback can no longer change the outcome.
func (q *Queue) notifySafely(j *job, log *logging.Logger) {
	var pc panics.Catcher
	pc.Try(func() { q.notify(j) })
	if r := pc.Recovered(); r != nil {
		log.Error("progress callback panicked", "panic", fmt.Sprint(r.Value))
	}
}

func (q *Queue) publish(kind event.Kind, p Progress, extra map[string]any) {
	if q.bus == nil {
		return
	}
	payload := map[string]any{
		event.KeyID:          p.ID,
		event.KeyURL:         p.URL,
		event.KeyDestination: p.Destination,
		event.KeyFileName:    p.FileName(),
	}
	if kind == event.DownloadProgress {
		payload[event.KeyType] = "bytes"
		payload[event.KeyCurrent] = p.Transferred
		payload[event.KeyTotal] = p.Total
	}
	for k, v := range extra {
		payload[k] = v
	}
	q.bus.Publish(event.New(kind, payload))
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

type job struct {
	id          string
	url         string
	destination string
	onProgress  func(Progress)

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
	doneOnce  sync.Once

	mu       sync.Mutex
	progress Progress
	err      error
	sampler  *Sampler
}

func newJob(id, url, destination string) *job {
	ctx, cancel := context.WithCancel(context.Background())
	return &job{
		id:          id,
		url:         url,
		destination: destination,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		progress: Progress{
			ID:          id,
			URL:         url,
			Destination: destination,
			State:       StateQueued,
			Total:       UnknownTotal,
		},
	}
}

func (j *job) snapshot() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

func (j *job) cancelRequested() bool {
	return j.cancelled.Load()
}

// requestCancel sets the cooperative flag. It also cancels the request
// context so a worker blocked in a read wakes up at its next checkpoint.
func (j *job) requestCancel() bool {
	if j.snapshot().State.IsTerminal() {
		return false
	}
	j.cancelled.Store(true)
	j.cancel()
	return true
}

func (j *job) start(clock Clock) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.State = StateRunning
	j.sampler = NewSampler(clock)
}

func (j *job) setTotal(total int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Total = total
}

// advance adds n transferred bytes and reports whether a speed sample was
// taken.
func (j *job) advance(n int64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Transferred += n
	speed, sampled := j.sampler.Observe(j.progress.Transferred)
	j.progress.Speed = speed
	return sampled
}

// finish moves the job to a terminal state once. Completion of a job with
// an unknown total fixes the total to the transferred count.
func (j *job) finish(state State, err error) {
	j.mu.Lock()
	if j.progress.State.IsTerminal() {
		j.mu.Unlock()
		return
	}
	j.progress.State = state
	if state == StateCompleted && j.progress.Total < 0 {
		j.progress.Total = j.progress.Transferred
	}
	if err != nil {
		j.err = err
		j.progress.Error = err.Error()
	}
	j.mu.Unlock()
	j.cancel()
}

func (j *job) failure() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// release wakes waiters. Called once all side effects of the terminal
// state (partial file removal, events) are done.
func (j *job) release() {
	j.doneOnce.Do(func() { close(j.done) })
}

// -----------------------------------------------------------------------------
// Handle
// -----------------------------------------------------------------------------

// Handle refers to a submitted job.
type Handle struct {
	job   *job
	queue *Queue
}

// ID returns the job id.
func (h *Handle) ID() string { return h.job.id }

// Progress returns the current snapshot.
func (h *Handle) Progress() Progress { return h.job.snapshot() }

// Done is closed when the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.job.done }

// Cancel requests cancellation. See Queue.Cancel.
func (h *Handle) Cancel() bool { return h.job.requestCancel() }

// Wait blocks until the job is terminal or ctx is done. It returns the
// final snapshot and, for failed or cancelled jobs, the cause.
func (h *Handle) Wait(ctx context.Context) (Progress, error) {
	select {
	case <-h.job.done:
	case <-ctx.Done():
		return h.job.snapshot(), ctx.Err()
	}
	h.job.mu.Lock()
	defer h.job.mu.Unlock()
	return h.job.progress, h.job.err
}
