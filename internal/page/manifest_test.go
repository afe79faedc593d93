package page

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// stdGetter is a minimal Getter over net/http for tests.
type stdGetter struct{}

func (stdGetter) Get(ctx context.Context, src string) (io.ReadCloser, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, errors.New(resp.Status)
	}
	return resp.Body, resp.Request.URL, nil
}

func walk(t *testing.T, ch Chapter) []string {
	t.Helper()
	ctx := context.Background()
	var out []string
	for {
		img, ok, err := ch.CurrentImage(ctx)
		if err != nil {
			t.Fatalf("CurrentImage: %v", err)
		}
		if ok {
			out = append(out, img)
		}
		more, err := ch.Advance(ctx)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if !more {
			return out
		}
	}
}

func TestManifestDriverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/comic/title", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`
title: Title
reverse: true
chapters:
  - url: ch/1
  - url: ch/2
    pages: [a.jpg, /img/b.jpg]
`))
	})
	mux.HandleFunc("/comic/ch/1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pages": ["001.jpg", "002.jpg", "https://cdn.example.com/003.jpg"]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()
	d := NewManifestDriver(stdGetter{})

	chapters, err := d.ListChapters(ctx, server.URL+"/comic/title")
	if err != nil {
		t.Fatalf("ListChapters: %v", err)
	}
	want := []string{server.URL + "/comic/ch/2", server.URL + "/comic/ch/1"}
	if !reflect.DeepEqual(chapters, want) {
		t.Fatalf("expected %v, got %v", want, chapters)
	}

	inline, err := d.OpenChapter(ctx, chapters[0])
	if err != nil {
		t.Fatalf("OpenChapter inline: %v", err)
	}
	defer inline.Close()
	if n, _ := inline.ExpectedItemCount(ctx); n != 2 {
		t.Errorf("expected 2 inline pages, got %d", n)
	}
	if got := walk(t, inline); !reflect.DeepEqual(got, []string{server.URL + "/comic/a.jpg", server.URL + "/img/b.jpg"}) {
		t.Errorf("unexpected inline pages %v", got)
	}

	fetched, err := d.OpenChapter(ctx, chapters[1])
	if err != nil {
		t.Fatalf("OpenChapter fetched: %v", err)
	}
	defer fetched.Close()
	got := walk(t, fetched)
	wantPages := []string{
		server.URL + "/comic/ch/001.jpg",
		server.URL + "/comic/ch/002.jpg",
		"https://cdn.example.com/003.jpg",
	}
	if !reflect.DeepEqual(got, wantPages) {
		t.Errorf("expected %v, got %v", wantPages, got)
	}
}

func TestManifestDriverFile(t *testing.T) {
	dir := t.TempDir()
	manifest := `
base: https://cdn.example.com/title/
chapters:
  - url: c1
    pages: [1.png, 2.png]
`
	path := filepath.Join(dir, "title.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	d := NewManifestDriver(nil)
	chapters, err := d.ListChapters(ctx, path)
	if err != nil {
		t.Fatalf("ListChapters: %v", err)
	}
	if len(chapters) != 1 || chapters[0] != "https://cdn.example.com/title/c1" {
		t.Fatalf("unexpected chapters %v", chapters)
	}

	ch, err := d.OpenChapter(ctx, chapters[0])
	if err != nil {
		t.Fatalf("OpenChapter: %v", err)
	}
	got := walk(t, ch)
	if len(got) != 2 || got[1] != "https://cdn.example.com/title/2.png" {
		t.Errorf("unexpected pages %v", got)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, _, err := ch.CurrentImage(ctx); err == nil {
		t.Error("expected error after Close")
	}
}

func TestManifestDriverErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/empty":
			w.Write([]byte("pages: []"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	d := NewManifestDriver(stdGetter{})

	_, err := d.ListChapters(ctx, server.URL+"/missing")
	var ce *CollaboratorError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CollaboratorError, got %v", err)
	}
	if ce.Op != "list chapters" {
		t.Errorf("unexpected op %q", ce.Op)
	}

	_, err = d.OpenChapter(ctx, server.URL+"/empty")
	if !errors.Is(err, ErrNoPages) {
		t.Errorf("expected ErrNoPages, got %v", err)
	}

	_, err = d.ListChapters(ctx, filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.As(err, &ce) {
		t.Errorf("expected CollaboratorError for missing file, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("chapters: [{pages: [x.jpg]}]"), 0644)
	_, err = d.ListChapters(ctx, bad)
	if err == nil || !strings.Contains(err.Error(), "no url") {
		t.Errorf("expected missing url error, got %v", err)
	}
}
