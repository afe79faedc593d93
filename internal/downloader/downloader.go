package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ligustah/folio/internal/batch"
	"github.com/ligustah/folio/internal/checkpoint"
	"github.com/ligustah/folio/internal/completion"
	foliohttp "github.com/ligustah/folio/internal/http"
	"github.com/ligustah/folio/internal/page"
	"github.com/ligustah/folio/internal/progress"
)

// DefaultOutputDir is where job roots are created when OutputDir is empty.
const DefaultOutputDir = "downloads"

// RetryOptions configures per-image retries.
type RetryOptions struct {
	// MaxAttempts is the total number of attempts per image.
	// Default: 3
	MaxAttempts int

	// Backoff is the delay before the first retry, doubled for each next one.
	// Default: 1s
	Backoff time.Duration

	// MaxBackoff caps the delay between attempts.
	// Default: 10s
	MaxBackoff time.Duration
}

// Options configures a download job.
type Options struct {
	// OutputDir is the directory job roots are created in.
	// Default: downloads
	OutputDir string

	// ChapterConcurrency is the number of chapters processed per window.
	// Default: 5
	ChapterConcurrency int

	// ImageConcurrency is the number of images fetched per window.
	// Default: 15
	ImageConcurrency int

	// AttemptTimeout bounds a single fetch attempt.
	// Default: 20s
	AttemptTimeout time.Duration

	// RequestTimeout bounds all attempts for one image. Zero disables it.
	RequestTimeout time.Duration

	// Retry configures per-image retries.
	Retry RetryOptions

	// HTTPOptions configures the HTTP client used when Fetcher or Driver
	// are not given. Its Timeout is replaced by AttemptTimeout.
	HTTPOptions foliohttp.Options

	// Driver discovers chapters and pages.
	// Default: a page.ManifestDriver over the HTTP client
	Driver page.Driver

	// Fetcher performs single fetch attempts.
	// Default: the HTTP client
	Fetcher foliohttp.Fetcher

	// Store persists progress.
	// Default: checkpoint.NewLocalStore()
	Store *checkpoint.Store

	// Events receives the job's progress events. Nil discards them.
	Events chan<- progress.Event

	// JobID is stamped on every event.
	JobID string
}

// Persisted returns the subset of options stored in the checkpoint.
func (o Options) Persisted() checkpoint.Options {
	return checkpoint.Options{
		ChapterConcurrency:    o.ChapterConcurrency,
		ImageConcurrency:      o.ImageConcurrency,
		PerAttemptTimeoutMs:   o.AttemptTimeout.Milliseconds(),
		TotalRequestTimeoutMs: o.RequestTimeout.Milliseconds(),
	}
}

// ApplyPersisted fills o from options stored in a checkpoint. Zero values in
// p are ignored.
func (o *Options) ApplyPersisted(p checkpoint.Options) {
	if p.ChapterConcurrency > 0 {
		o.ChapterConcurrency = p.ChapterConcurrency
	}
	if p.ImageConcurrency > 0 {
		o.ImageConcurrency = p.ImageConcurrency
	}
	if p.PerAttemptTimeoutMs > 0 {
		o.AttemptTimeout = time.Duration(p.PerAttemptTimeoutMs) * time.Millisecond
	}
	if p.TotalRequestTimeoutMs > 0 {
		o.RequestTimeout = time.Duration(p.TotalRequestTimeoutMs) * time.Millisecond
	}
}

// State is a stage of the job state machine.
type State string

const (
	StateDiscovering        State = "discovering"
	StateComputingRemaining State = "computing-remaining"
	StateRunningBatches     State = "running-batches"
	StateFinalizing         State = "finalizing"
	StateDone               State = "done"
	StateError              State = "error"
)

// ErrNoChapters is returned when the driver finds no chapters for the entry.
var ErrNoChapters = errors.New("downloader: no chapters found")

// JobError is returned when the job fails as a whole. An existing checkpoint
// is left untouched so the job can be resumed.
//
// Use errors.As to extract this error and inspect Stage.
type JobError struct {
	Stage State
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("downloader: %s: %v", e.Stage, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Result summarizes a job run.
type Result struct {
	JobRoot        string
	TotalChapters  int
	Scheduled      int
	Downloaded     int
	Failed         int
	Skipped        int
	Bytes          int64
	FailedChapters []int
	Elapsed        time.Duration
}

// chapter is a discovered chapter. Ordinals are assigned once, from
// discovery order.
type chapter struct {
	Ordinal int
	Locator string
	Dir     string
}

// counts flow back up from images to chapters to the job.
type counts struct {
	Downloaded int
	Failed     int
	Skipped    int
	Bytes      int64
}

func addCounts(a, b counts) counts {
	return counts{
		Downloaded: a.Downloaded + b.Downloaded,
		Failed:     a.Failed + b.Failed,
		Skipped:    a.Skipped + b.Skipped,
		Bytes:      a.Bytes + b.Bytes,
	}
}

// job holds the state of one Download call.
type job struct {
	opts   Options
	events *progress.Emitter
	oracle completion.Oracle
	policy foliohttp.Policy
}

// Download mirrors every chapter reachable from entry into
// <OutputDir>/<JobName(entry)>, resuming from a previous checkpoint when
// one exists.
//
// Image failures never fail the job; they are reported through events and
// counted in the Result. Job-level failures are returned as *JobError.
// Cancellation returns the context error along with the partial Result.
func Download(ctx context.Context, entry string, opts Options) (*Result, error) {
	start := time.Now()
	opts = withDefaults(opts)
	j := &job{
		opts:   opts,
		events: progress.NewEmitter(opts.Events, opts.JobID),
	}
	j.policy = foliohttp.Policy{
		MaxAttempts:  opts.Retry.MaxAttempts,
		Backoff:      opts.Retry.Backoff,
		MaxBackoff:   opts.Retry.MaxBackoff,
		TotalTimeout: opts.RequestTimeout,
		OnAttempt:    func(a foliohttp.Attempt) { j.attemptFailed(ctx, a) },
	}

	res, err := j.run(ctx, entry)
	if res != nil {
		res.Elapsed = time.Since(start)
	}
	return res, err
}

func withDefaults(opts Options) Options {
	if opts.OutputDir == "" {
		opts.OutputDir = DefaultOutputDir
	}
	if opts.ChapterConcurrency <= 0 {
		opts.ChapterConcurrency = 5
	}
	if opts.ImageConcurrency <= 0 {
		opts.ImageConcurrency = 15
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 20 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 3
	}
	if opts.Retry.Backoff <= 0 {
		opts.Retry.Backoff = time.Second
	}
	if opts.Retry.MaxBackoff <= 0 {
		opts.Retry.MaxBackoff = 10 * time.Second
	}
	if opts.Store == nil {
		opts.Store = checkpoint.NewLocalStore()
	}
	if opts.Fetcher == nil || opts.Driver == nil {
		httpOpts := opts.HTTPOptions
		if httpOpts.MaxIdleConnsPerHost == 0 {
			httpOpts = foliohttp.DefaultOptions()
		}
		httpOpts.Timeout = opts.AttemptTimeout
		if httpOpts.OnRedirect == nil {
			events := progress.NewEmitter(opts.Events, opts.JobID)
			httpOpts.OnRedirect = func(code int, from, to string) {
				events.Emit(context.Background(), progress.Event{
					Kind:    progress.KindRedirect,
					Message: fmt.Sprintf("Redirect %d: %s -> %s", code, from, to),
				})
			}
		}
		client := foliohttp.NewClient(httpOpts)
		if opts.Fetcher == nil {
			opts.Fetcher = client
		}
		if opts.Driver == nil {
			opts.Driver = page.NewManifestDriver(client)
		}
	}
	return opts
}

func (j *job) run(ctx context.Context, entry string) (*Result, error) {
	j.events.Infof(ctx, progress.KindStarted, "Starting download: %s", entry)

	// Discovering
	j.state(ctx, StateDiscovering)
	locators, err := j.opts.Driver.ListChapters(ctx, entry)
	if err != nil {
		return nil, j.fail(ctx, StateDiscovering, err)
	}
	if len(locators) == 0 {
		return nil, j.fail(ctx, StateDiscovering, ErrNoChapters)
	}

	jobRoot := filepath.Join(j.opts.OutputDir, JobName(entry))
	chapters := make([]chapter, len(locators))
	for i, loc := range locators {
		chapters[i] = chapter{
			Ordinal: i + 1,
			Locator: loc,
			Dir:     filepath.Join(jobRoot, ChapterDirName(i+1)),
		}
	}
	j.events.Emit(ctx, progress.Event{
		Kind:    progress.KindDiscovered,
		Total:   len(chapters),
		Message: fmt.Sprintf("Found %d chapters for %s", len(chapters), filepath.Base(jobRoot)),
	})

	res := &Result{JobRoot: jobRoot, TotalChapters: len(chapters)}

	// ComputingRemaining
	j.state(ctx, StateComputingRemaining)
	if err := os.MkdirAll(jobRoot, 0755); err != nil {
		return res, j.fail(ctx, StateComputingRemaining, &foliohttp.FilesystemError{Op: "mkdir", Path: jobRoot, Err: err})
	}

	rec := &checkpoint.Record{
		TotalChapters: len(chapters),
		SourceLocator: entry,
		Options:       j.opts.Persisted(),
	}
	prev, err := j.opts.Store.Load(ctx, jobRoot)
	if err != nil {
		j.events.Emit(ctx, progress.Event{
			Kind:    progress.KindCheckpoint,
			Level:   progress.LevelWarn,
			Message: fmt.Sprintf("Ignoring unreadable checkpoint: %v", err),
		})
	}
	if prev != nil {
		rec.CompletedChapters = prev.CompletedChapters
		rec.Normalize()
		j.events.Emit(ctx, progress.Event{
			Kind:    progress.KindResumed,
			Done:    len(rec.CompletedChapters),
			Total:   rec.TotalChapters,
			Message: fmt.Sprintf("Resuming: %d of %d chapters already completed", len(rec.CompletedChapters), rec.TotalChapters),
		})
	}

	var remaining []chapter
	for _, ch := range chapters {
		if !rec.IsCompleted(ch.Ordinal) {
			remaining = append(remaining, ch)
		}
	}
	res.Scheduled = len(remaining)

	// RunningBatches
	if len(remaining) > 0 {
		j.state(ctx, StateRunningBatches)
		if err := j.runBatches(ctx, jobRoot, remaining, rec, res); err != nil {
			j.events.Emit(ctx, progress.Event{
				Kind:    progress.KindCancelled,
				Level:   progress.LevelWarn,
				Message: "Download interrupted, progress saved for resume",
			})
			return res, err
		}
	}

	// Finalizing
	j.state(ctx, StateFinalizing)
	if err := j.opts.Store.Remove(ctx, jobRoot); err != nil {
		j.events.Emit(ctx, progress.Event{
			Kind:    progress.KindCheckpoint,
			Level:   progress.LevelWarn,
			Message: fmt.Sprintf("Failed to remove checkpoint: %v", err),
		})
	}
	if len(res.FailedChapters) > 0 {
		j.events.Errorf(ctx, progress.KindChapterFailed, "%d chapters failed, run download again to retry them", len(res.FailedChapters))
	}

	j.state(ctx, StateDone)
	j.events.Emit(ctx, progress.Event{
		Kind:       progress.KindCompleted,
		Downloaded: res.Downloaded,
		Failed:     res.Failed,
		Skipped:    res.Skipped,
		Bytes:      res.Bytes,
		Message:    fmt.Sprintf("Download complete: %d images downloaded", res.Downloaded),
	})
	return res, nil
}

// runBatches drives the chapter windows and checkpoints after each one.
// It only returns an error when ctx is done.
func (j *job) runBatches(ctx context.Context, jobRoot string, remaining []chapter, rec *checkpoint.Record, res *Result) error {
	s := batch.Scheduler[chapter, counts]{
		Width:   j.opts.ChapterConcurrency,
		Combine: addCounts,
		OnWindow: func(w batch.Window[chapter, counts]) {
			res.Downloaded += w.Total.Downloaded
			res.Failed += w.Total.Failed
			res.Skipped += w.Total.Skipped
			res.Bytes += w.Total.Bytes

			if ctx.Err() != nil {
				return
			}
			for _, o := range w.Outcomes {
				if o.Err != nil {
					res.FailedChapters = append(res.FailedChapters, o.Unit.Ordinal)
					j.events.Emit(ctx, progress.Event{
						Kind:    progress.KindChapterFailed,
						Level:   progress.LevelError,
						Chapter: o.Unit.Ordinal,
						Reason:  o.Err.Error(),
						Message: fmt.Sprintf("Chapter %d failed", o.Unit.Ordinal),
					})
				}
				rec.MarkCompleted(o.Unit.Ordinal)
			}

			rec.LastUpdated = time.Now().UTC()
			if err := j.opts.Store.Save(ctx, jobRoot, rec); err != nil {
				j.events.Emit(ctx, progress.Event{
					Kind:    progress.KindCheckpoint,
					Level:   progress.LevelWarn,
					Message: fmt.Sprintf("Failed to save progress: %v", err),
				})
			} else {
				j.events.Emit(ctx, progress.Event{
					Kind:    progress.KindCheckpoint,
					Done:    len(rec.CompletedChapters),
					Total:   rec.TotalChapters,
					Message: fmt.Sprintf("Saved progress: %d/%d chapters", len(rec.CompletedChapters), rec.TotalChapters),
				})
			}

			j.events.Emit(ctx, progress.Event{
				Kind:       progress.KindWindow,
				Done:       len(rec.CompletedChapters),
				Total:      rec.TotalChapters,
				Downloaded: w.Total.Downloaded,
				Message: fmt.Sprintf("Batch %d/%d done: %d images downloaded",
					w.Index+1, w.Count, w.Total.Downloaded),
			})
		},
	}

	_, err := s.Run(ctx, remaining, j.chapter)
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// chapter downloads the missing images of one chapter. Errors returned are
// chapter-scoped.
func (j *job) chapter(ctx context.Context, ch chapter) (counts, error) {
	handle, err := j.opts.Driver.OpenChapter(ctx, ch.Locator)
	if err != nil {
		return counts{}, collaboratorError("open chapter", ch.Locator, err)
	}
	defer handle.Close()

	expected, err := handle.ExpectedItemCount(ctx)
	if err != nil {
		return counts{}, collaboratorError("count pages", ch.Locator, err)
	}

	done, corrupt := j.oracle.ChapterComplete(ch.Dir, expected)
	if done {
		j.events.Emit(ctx, progress.Event{
			Kind:    progress.KindChapterSkipped,
			Chapter: ch.Ordinal,
			Skipped: expected,
			Message: fmt.Sprintf("Chapter %d already downloaded", ch.Ordinal),
		})
		return counts{Skipped: expected}, nil
	}
	if len(corrupt) > 0 {
		j.events.Emit(ctx, progress.Event{
			Kind:    progress.KindCorrupt,
			Level:   progress.LevelWarn,
			Chapter: ch.Ordinal,
			Message: fmt.Sprintf("Chapter %d: removing %d empty files", ch.Ordinal, len(corrupt)),
		})
		if err := j.oracle.PurgeCorrupt(corrupt); err != nil {
			return counts{}, &foliohttp.FilesystemError{Op: "purge", Path: ch.Dir, Err: err}
		}
	}

	if p := j.oracle.ChapterProgress(ch.Dir, expected); p.Completed > 0 {
		j.events.Emit(ctx, progress.Event{
			Kind:    progress.KindChapterPartial,
			Chapter: ch.Ordinal,
			Done:    p.Completed,
			Total:   p.Total,
			Message: fmt.Sprintf("Chapter %d: continuing download (%d/%d already on disk)", ch.Ordinal, p.Completed, p.Total),
		})
	}

	if err := os.MkdirAll(ch.Dir, 0755); err != nil {
		return counts{}, &foliohttp.FilesystemError{Op: "mkdir", Path: ch.Dir, Err: err}
	}

	items, skipped, err := j.collect(ctx, handle, ch, expected)
	if err != nil {
		return counts{}, err
	}

	s := batch.Scheduler[foliohttp.Item, counts]{
		Width:   j.opts.ImageConcurrency,
		Combine: addCounts,
	}
	total, err := s.Run(ctx, items, func(ctx context.Context, item foliohttp.Item) (counts, error) {
		return j.fetch(ctx, ch, item)
	})
	total.Skipped += skipped
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return total, err
	}

	j.events.Emit(ctx, progress.Event{
		Kind:       progress.KindChapterDone,
		Chapter:    ch.Ordinal,
		Downloaded: total.Downloaded,
		Failed:     total.Failed,
		Skipped:    total.Skipped,
		Message: fmt.Sprintf("Chapter %d: %d downloaded, %d failed, %d skipped",
			ch.Ordinal, total.Downloaded, total.Failed, total.Skipped),
	})
	return total, nil
}

// collect walks the chapter's pages and returns work items for images not
// yet on disk, plus the number of images already present.
func (j *job) collect(ctx context.Context, handle page.Chapter, ch chapter, expected int) ([]foliohttp.Item, int, error) {
	var items []foliohttp.Item
	var skipped int
	names := make(map[string]bool, expected)

	for n := 1; n <= expected; n++ {
		src, ok, err := handle.CurrentImage(ctx)
		if err != nil {
			return nil, 0, collaboratorError(fmt.Sprintf("read page %d", n), ch.Locator, err)
		}
		if ok {
			name := FileName(src, n)
			if names[name] {
				name = fmt.Sprintf("%03d-%s", n, name)
			}
			names[name] = true

			dest := filepath.Join(ch.Dir, name)
			if j.oracle.ItemPresent(dest) {
				skipped++
			} else {
				items = append(items, foliohttp.Item{Source: src, Dest: dest, Name: name})
			}
		} else {
			j.events.Emit(ctx, progress.Event{
				Kind:    progress.KindItemFailed,
				Level:   progress.LevelWarn,
				Chapter: ch.Ordinal,
				Message: fmt.Sprintf("Chapter %d: page %d has no image", ch.Ordinal, n),
			})
		}

		if n == expected {
			break
		}
		more, err := handle.Advance(ctx)
		if err != nil {
			return nil, 0, collaboratorError(fmt.Sprintf("advance past page %d", n), ch.Locator, err)
		}
		if !more {
			break
		}
	}
	return items, skipped, nil
}

// fetch drives one image through the retry policy. Only cancellation is
// returned as an error; other failures are counted.
func (j *job) fetch(ctx context.Context, ch chapter, item foliohttp.Item) (counts, error) {
	out := j.policy.Do(ctx, j.opts.Fetcher, item)
	switch {
	case out.OK:
		j.events.Emit(ctx, progress.Event{
			Kind:    progress.KindItemDone,
			Chapter: ch.Ordinal,
			Item:    item.Name,
			Attempt: out.Attempts,
			Bytes:   out.Bytes,
			Message: fmt.Sprintf("Downloaded: %s", item.Name),
		})
		return counts{Downloaded: 1, Bytes: out.Bytes}, nil

	case out.Class == foliohttp.ClassCancelled:
		return counts{}, out.Err

	default:
		j.events.Emit(ctx, progress.Event{
			Kind:    progress.KindItemFailed,
			Level:   progress.LevelError,
			Chapter: ch.Ordinal,
			Item:    item.Name,
			Attempt: out.Attempts,
			Reason:  out.Err.Error(),
			Message: fmt.Sprintf("Chapter %d: %s failed after %d attempts [%s]", ch.Ordinal, item.Name, out.Attempts, out.Class),
		})
		return counts{Failed: 1}, nil
	}
}

func (j *job) attemptFailed(ctx context.Context, a foliohttp.Attempt) {
	if a.Err == nil {
		return
	}
	msg := fmt.Sprintf("%s: attempt %d/%d failed", a.Item.Name, a.Number, j.policy.MaxAttempts)
	if a.Delay > 0 {
		msg += fmt.Sprintf(", retrying in %s", a.Delay)
	}
	j.events.Emit(ctx, progress.Event{
		Kind:    progress.KindAttemptFailed,
		Level:   progress.LevelWarn,
		Item:    a.Item.Name,
		Attempt: a.Number,
		Reason:  a.Err.Error(),
		Message: msg,
	})
}

func (j *job) state(ctx context.Context, s State) {
	j.events.Infof(ctx, progress.KindState, "%s", s)
}

// fail reports a job-level failure. Cancellation is returned unwrapped.
func (j *job) fail(ctx context.Context, stage State, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		j.events.Emit(ctx, progress.Event{Kind: progress.KindCancelled, Level: progress.LevelWarn, Message: "Download cancelled"})
		return ctxErr
	}
	j.state(ctx, StateError)
	j.events.Emit(ctx, progress.Event{
		Kind:    progress.KindError,
		Level:   progress.LevelError,
		Reason:  err.Error(),
		Message: fmt.Sprintf("Download failed while %s", stage),
	})
	return &JobError{Stage: stage, Err: err}
}

func collaboratorError(op, locator string, err error) error {
	var ce *page.CollaboratorError
	if errors.As(err, &ce) || errors.Is(err, context.Canceled) {
		return err
	}
	return &page.CollaboratorError{Op: op, Locator: locator, Err: err}
}
