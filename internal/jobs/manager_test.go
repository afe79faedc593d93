package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ligustah/folio/internal/checkpoint"
	"github.com/ligustah/folio/internal/downloader"
	"github.com/ligustah/folio/internal/progress"
)

// newSite serves a manifest at /comic/<title> with inline pages. Image
// requests block until gate is closed when gate is non-nil.
func newSite(t *testing.T, title string, chapters, pages int, gate chan struct{}) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/comic/"+title, func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		fmt.Fprintf(&b, "title: %s\nchapters:\n", title)
		for c := 1; c <= chapters; c++ {
			fmt.Fprintf(&b, "  - url: chapter/%d\n    pages:\n", c)
			for p := 1; p <= pages; p++ {
				fmt.Fprintf(&b, "      - /img/%d/%03d.jpg\n", c, p)
			}
		}
		io.WriteString(w, b.String())
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		w.Write([]byte("\xff\xd8\xff\xe0" + r.URL.Path))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/comic/" + title
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	out := t.TempDir()
	m := NewManager(downloader.Options{
		OutputDir: out,
		Retry:     downloader.RetryOptions{MaxAttempts: 2, Backoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}, log.New(io.Discard, "", 0))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, out
}

func waitFor(t *testing.T, m *Manager, id string) Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := m.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return rec
}

func TestStartRunsToCompletion(t *testing.T) {
	m, out := newTestManager(t)
	entry := newSite(t, "title", 2, 3, nil)

	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	rec, err := m.Start(entry, checkpoint.Options{ChapterConcurrency: 1, ImageConcurrency: 2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Status != StatusRunning || rec.ID == "" || rec.Name != "title" {
		t.Errorf("unexpected initial record %+v", rec)
	}
	if rec.Options.ChapterConcurrency != 1 || rec.Options.ImageConcurrency != 2 {
		t.Errorf("expected requested options, got %+v", rec.Options)
	}

	rec = waitFor(t, m, rec.ID)
	if rec.Status != StatusDone {
		t.Fatalf("expected done, got %s (%s)", rec.Status, rec.Error)
	}
	if rec.Result == nil || rec.Result.Downloaded != 6 {
		t.Fatalf("expected 6 downloads, got %+v", rec.Result)
	}
	if rec.FinishedAt.IsZero() {
		t.Error("expected FinishedAt set")
	}
	if _, err := os.Stat(filepath.Join(out, "title", "chapter-2", "003.jpg")); err != nil {
		t.Errorf("expected image on disk: %v", err)
	}

	var sawStart, sawCompleted bool
	for len(events) > 0 {
		ev := <-events
		if ev.JobID != rec.ID {
			t.Errorf("expected job id %s on event, got %s", rec.ID, ev.JobID)
		}
		sawStart = sawStart || ev.Kind == progress.KindStarted
		sawCompleted = sawCompleted || ev.Kind == progress.KindCompleted
	}
	if !sawStart || !sawCompleted {
		t.Errorf("expected started and completed events, got start=%v completed=%v", sawStart, sawCompleted)
	}
}

func TestStartRejectsInvalidOptions(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Start("", checkpoint.Options{}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions for empty url, got %v", err)
	}
	if _, err := m.Start("https://example.com/comic/x", checkpoint.Options{ImageConcurrency: -1}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions for negative concurrency, got %v", err)
	}
	if len(m.List()) != 0 {
		t.Error("expected no jobs recorded")
	}
}

func TestCancel(t *testing.T) {
	m, out := newTestManager(t)
	gate := make(chan struct{})
	defer close(gate)
	entry := newSite(t, "slow", 3, 2, gate)

	rec, err := m.Start(entry, checkpoint.Options{ChapterConcurrency: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := m.Start(entry, checkpoint.Options{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := m.Cancel(rec.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rec = waitFor(t, m, rec.ID)
	if rec.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s (%s)", rec.Status, rec.Error)
	}
	if _, err := os.Stat(filepath.Join(out, "slow", "chapter-1", "001.jpg")); err == nil {
		t.Error("expected no completed images")
	}

	if err := m.Cancel("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResume(t *testing.T) {
	m, out := newTestManager(t)
	entry := newSite(t, "title", 3, 2, nil)
	ctx := context.Background()

	root := filepath.Join(out, "title")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	err := checkpoint.NewLocalStore().Save(ctx, root, &checkpoint.Record{
		TotalChapters:     3,
		CompletedChapters: []int{1},
		SourceLocator:     entry,
		Options:           checkpoint.Options{ChapterConcurrency: 2, ImageConcurrency: 4},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec, err := m.Resume(ctx, "title")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !rec.Resumed || rec.URL != entry {
		t.Errorf("unexpected resumed record %+v", rec)
	}
	if rec.Options.ChapterConcurrency != 2 || rec.Options.ImageConcurrency != 4 {
		t.Errorf("expected stored options, got %+v", rec.Options)
	}

	rec = waitFor(t, m, rec.ID)
	if rec.Status != StatusDone {
		t.Fatalf("expected done, got %s (%s)", rec.Status, rec.Error)
	}
	if rec.Result.Scheduled != 2 || rec.Result.Downloaded != 4 {
		t.Errorf("expected chapters 2 and 3 only, got %+v", rec.Result)
	}
	if _, err := os.Stat(filepath.Join(root, "chapter-1")); err == nil {
		t.Error("expected completed chapter 1 to be left alone")
	}
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	m, out := newTestManager(t)
	if err := os.MkdirAll(filepath.Join(out, "done"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	for _, name := range []string{"done", "missing", "../escape"} {
		if _, err := m.Resume(context.Background(), name); !errors.Is(err, ErrNoCheckpoint) {
			t.Errorf("Resume(%q): expected ErrNoCheckpoint, got %v", name, err)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	m, _ := newTestManager(t)
	first := newSite(t, "first", 1, 1, nil)
	second := newSite(t, "second", 1, 1, nil)

	a, err := m.Start(first, checkpoint.Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, m, a.ID)
	b, err := m.Start(second, checkpoint.Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, m, b.ID)

	list := m.List()
	if len(list) != 2 || list[0].ID != b.ID || list[1].ID != a.ID {
		t.Fatalf("expected [%s %s], got %+v", b.ID, a.ID, list)
	}
	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
