package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	bar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to print the progress bar.
	// Default: 5s
	UpdateInterval time.Duration

	// Source is the entry locator being mirrored (for display).
	Source string

	// Verbose also prints per-item, per-attempt and checkpoint events.
	Verbose bool

	// BarWidth is the width of the progress bar in cells.
	// Default: 30
	BarWidth int
}

type styles struct {
	prefix lipgloss.Style
	muted  lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	title  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		prefix: r.NewStyle().Foreground(lipgloss.Color("245")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("245")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		warn:   r.NewStyle().Foreground(lipgloss.Color("214")),
		err:    r.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
	}
}

// Summary is the aggregate of a finished run as seen by the reporter.
type Summary struct {
	Downloaded int
	Failed     int
	Skipped    int
	Bytes      int64
	Elapsed    time.Duration
}

// ImagesPerMinute returns the average download rate.
func (s Summary) ImagesPerMinute() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Downloaded) / s.Elapsed.Minutes()
}

// Reporter renders a job's event stream as human-readable output.
type Reporter struct {
	opts  Options
	style styles
	bar   bar.Model

	mu            sync.Mutex
	downloaded    atomic.Int64
	failed        atomic.Int64
	skipped       atomic.Int64
	bytes         atomic.Int64
	chaptersDone  atomic.Int32
	chaptersTotal atomic.Int32
	startTime     time.Time
	stopCh        chan struct{}
	doneCh        chan struct{}
	started       bool
	stopped       bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 5 * time.Second
	}
	if opts.BarWidth <= 0 {
		opts.BarWidth = 30
	}

	return &Reporter{
		opts:   opts,
		style:  newStyles(lipgloss.NewRenderer(opts.Output)),
		bar:    bar.New(bar.WithDefaultGradient(), bar.WithWidth(opts.BarWidth), bar.WithoutPercentage()),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints the header and begins periodic progress output.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.started = true
	r.mu.Unlock()

	if r.opts.Source != "" {
		r.printf(r.style.title, "Mirroring: %s", r.opts.Source)
	}

	go r.updateLoop()
}

// Stop ends periodic output and prints the final summary. It is safe to call
// more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// Consume handles events until ch is closed.
func (r *Reporter) Consume(ch <-chan Event) {
	for ev := range ch {
		r.Handle(ev)
	}
}

// Handle updates counters from ev and prints it when relevant.
func (r *Reporter) Handle(ev Event) {
	switch ev.Kind {
	case KindDiscovered:
		r.chaptersTotal.Store(int32(ev.Total))
		r.line(ev)
	case KindWindow:
		r.chaptersDone.Store(int32(ev.Done))
		r.chaptersTotal.Store(int32(ev.Total))
		r.line(ev)
	case KindChapterDone, KindChapterSkipped:
		r.skipped.Add(int64(ev.Skipped))
		r.line(ev)
	case KindItemDone:
		r.downloaded.Add(1)
		r.bytes.Add(ev.Bytes)
		if r.opts.Verbose {
			r.line(ev)
		}
	case KindItemFailed:
		r.failed.Add(1)
		r.line(ev)
	case KindAttemptFailed, KindRedirect, KindCheckpoint, KindState:
		if r.opts.Verbose {
			r.line(ev)
		}
	default:
		r.line(ev)
	}
}

// Summary returns the counters accumulated so far.
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	start := r.startTime
	r.mu.Unlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}
	return Summary{
		Downloaded: int(r.downloaded.Load()),
		Failed:     int(r.failed.Load()),
		Skipped:    int(r.skipped.Load()),
		Bytes:      r.bytes.Load(),
		Elapsed:    elapsed,
	}
}

// line prints a single event.
func (r *Reporter) line(ev Event) {
	style := r.style.muted
	switch {
	case ev.Level == LevelError:
		style = r.style.err
	case ev.Level == LevelWarn:
		style = r.style.warn
	case ev.Kind == KindCompleted || ev.Kind == KindChapterDone:
		style = r.style.ok
	case ev.Kind == KindStarted || ev.Kind == KindDiscovered || ev.Kind == KindWindow || ev.Kind == KindResumed:
		style = lipgloss.NewStyle()
	}

	msg := ev.Message
	if ev.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, ev.Reason)
	}
	r.printf(style, "%s", msg)
}

func (r *Reporter) printf(style lipgloss.Style, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.opts.Output, "%s %s\n", r.style.prefix.Render("[folio]"), style.Render(fmt.Sprintf(format, args...)))
}

// updateLoop periodically prints the progress bar.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	done := int(r.chaptersDone.Load())
	total := int(r.chaptersTotal.Load())
	s := r.Summary()

	var percent float64
	if total > 0 {
		percent = float64(done) / float64(total)
	}

	r.printf(lipgloss.NewStyle(), "%s %.1f%% | Chapters: %d/%d | Images: %d | %s | %s",
		r.bar.ViewAs(percent),
		percent*100,
		done, total,
		s.Downloaded,
		formatBytes(s.Bytes),
		formatDuration(s.Elapsed),
	)
}

// printFinalStatus outputs the final summary.
func (r *Reporter) printFinalStatus() {
	s := r.Summary()
	r.printf(r.style.ok, "Downloaded: %d images (%s) | Failed: %d | Skipped: %d",
		s.Downloaded, formatBytes(s.Bytes), s.Failed, s.Skipped)
	r.printf(lipgloss.NewStyle(), "Total time: %s | Average: %.1f images/min",
		formatDuration(s.Elapsed), s.ImagesPerMinute())
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// FormatDuration is exported for use by other packages.
func FormatDuration(d time.Duration) string {
	return formatDuration(d)
}
