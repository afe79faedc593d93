package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligustah/folio/internal/checkpoint"
	"github.com/ligustah/folio/internal/downloader"
	"github.com/ligustah/folio/internal/progress"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "error"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrNotFound is returned for unknown job IDs.
	ErrNotFound = errors.New("jobs: not found")

	// ErrInvalidOptions is returned when a start request carries a
	// non-positive option or no URL.
	ErrInvalidOptions = errors.New("jobs: invalid options")

	// ErrNoCheckpoint is returned by Resume when the job root has nothing to
	// resume.
	ErrNoCheckpoint = errors.New("jobs: no checkpoint to resume")

	// ErrAlreadyRunning is returned when a job for the same job root is
	// still running.
	ErrAlreadyRunning = errors.New("jobs: already running")
)

// Record is a snapshot of a job.
type Record struct {
	ID         string             `json:"id"`
	URL        string             `json:"url"`
	Name       string             `json:"name"`
	Status     Status             `json:"status"`
	Resumed    bool               `json:"resumed"`
	Options    checkpoint.Options `json:"options"`
	Error      string             `json:"error,omitempty"`
	Result     *downloader.Result `json:"result,omitempty"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt,omitzero"`
}

type job struct {
	rec    Record
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs download jobs in the background and fans their events out to
// subscribers.
type Manager struct {
	base   downloader.Options
	logger *log.Logger

	mu    sync.Mutex
	jobs  map[string]*job
	order []string
	subs  map[chan progress.Event]struct{}

	wg sync.WaitGroup
}

// NewManager returns a Manager that starts jobs from base. Per-job options
// override base's concurrency and timeouts.
func NewManager(base downloader.Options, logger *log.Logger) *Manager {
	if base.OutputDir == "" {
		base.OutputDir = downloader.DefaultOutputDir
	}
	if base.Store == nil {
		base.Store = checkpoint.NewLocalStore()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		base:   base,
		logger: logger,
		jobs:   make(map[string]*job),
		subs:   make(map[chan progress.Event]struct{}),
	}
}

// Start begins downloading url. Zero fields in opts fall back to the
// manager's defaults.
func (m *Manager) Start(url string, opts checkpoint.Options) (Record, error) {
	if url == "" {
		return Record{}, fmt.Errorf("%w: url is required", ErrInvalidOptions)
	}
	if err := validate(opts); err != nil {
		return Record{}, err
	}
	return m.start(url, opts, false)
}

// Resume restarts the job root called name from its checkpoint, reusing the
// source locator and options stored there.
func (m *Manager) Resume(ctx context.Context, name string) (Record, error) {
	root := filepath.Join(m.base.OutputDir, name)
	if name == "" || filepath.Base(name) != name || !filepath.IsLocal(name) {
		return Record{}, fmt.Errorf("%w: invalid name %q", ErrNoCheckpoint, name)
	}
	rec, err := m.base.Store.Load(ctx, root)
	if err != nil {
		return Record{}, fmt.Errorf("jobs: load checkpoint for %s: %w", name, err)
	}
	if rec == nil || rec.SourceLocator == "" {
		return Record{}, fmt.Errorf("%w: %s", ErrNoCheckpoint, name)
	}
	return m.start(rec.SourceLocator, rec.Options, true)
}

func (m *Manager) start(url string, opts checkpoint.Options, resumed bool) (Record, error) {
	name := downloader.JobName(url)

	m.mu.Lock()
	for _, j := range m.jobs {
		if j.rec.Name == name && j.rec.Status == StatusRunning {
			m.mu.Unlock()
			return Record{}, fmt.Errorf("%w: %s (job %s)", ErrAlreadyRunning, name, j.rec.ID)
		}
	}

	dlOpts := m.base
	dlOpts.ApplyPersisted(opts)
	dlOpts.JobID = uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		rec: Record{
			ID:        dlOpts.JobID,
			URL:       url,
			Name:      name,
			Status:    StatusRunning,
			Resumed:   resumed,
			Options:   dlOpts.Persisted(),
			StartedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.jobs[j.rec.ID] = j
	m.order = append(m.order, j.rec.ID)
	snapshot := j.rec
	m.mu.Unlock()

	events := make(chan progress.Event, 64)
	dlOpts.Events = events

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(j.done)
		defer cancel()

		forwarded := make(chan struct{})
		go func() {
			defer close(forwarded)
			for ev := range events {
				m.publish(ev)
			}
		}()

		m.logger.Printf("job %s: downloading %s", j.rec.ID, url)
		res, err := downloader.Download(ctx, url, dlOpts)
		close(events)
		<-forwarded

		m.finish(j, res, err)
	}()

	return snapshot, nil
}

func (m *Manager) finish(j *job, res *downloader.Result, err error) {
	m.mu.Lock()
	j.rec.Result = res
	j.rec.FinishedAt = time.Now()
	switch {
	case err == nil:
		j.rec.Status = StatusDone
	case errors.Is(err, context.Canceled):
		j.rec.Status = StatusCancelled
	default:
		j.rec.Status = StatusFailed
		j.rec.Error = err.Error()
	}
	rec := j.rec
	m.mu.Unlock()

	if err != nil {
		m.logger.Printf("job %s: %s: %v", rec.ID, rec.Status, err)
		return
	}
	m.logger.Printf("job %s: done, %d downloaded, %d failed, %d skipped in %s",
		rec.ID, res.Downloaded, res.Failed, res.Skipped, progress.FormatDuration(res.Elapsed))
}

// Cancel stops a running job. Cancelling a finished job is a no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	j.cancel()
	return nil
}

// Get returns a snapshot of job id.
func (m *Manager) Get(id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.rec, nil
}

// List returns snapshots of every job, newest first.
func (m *Manager) List() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.order))
	for _, id := range slices.Backward(m.order) {
		out = append(out, m.jobs[id].rec)
	}
	return out
}

// Wait blocks until job id has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Record, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
	return m.Get(id)
}

// Shutdown cancels every running job and waits for them to stop, or for
// ctx to be done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, j := range m.jobs {
		j.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel receiving every job's events and a function
// that unsubscribes it. Events are dropped for subscribers that fall behind.
func (m *Manager) Subscribe() (<-chan progress.Event, func()) {
	ch := make(chan progress.Event, 256)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(ev progress.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func validate(opts checkpoint.Options) error {
	switch {
	case opts.ChapterConcurrency < 0:
		return fmt.Errorf("%w: chapterConcurrency must be positive", ErrInvalidOptions)
	case opts.ImageConcurrency < 0:
		return fmt.Errorf("%w: imageConcurrency must be positive", ErrInvalidOptions)
	case opts.PerAttemptTimeoutMs < 0:
		return fmt.Errorf("%w: perAttemptTimeoutMs must be positive", ErrInvalidOptions)
	case opts.TotalRequestTimeoutMs < 0:
		return fmt.Errorf("%w: totalRequestTimeoutMs must be positive", ErrInvalidOptions)
	}
	return nil
}
