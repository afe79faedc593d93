package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestFetch(t *testing.T) {
	data := []byte("jpeg bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "001.jpg")
	client := NewClient(DefaultOptions())
	n, err := client.Fetch(context.Background(), server.URL+"/001.jpg", dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("expected %d bytes, got %d", len(data), n)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("expected %q, got %q", data, got)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Errorf("expected no partial file, stat err = %v", err)
	}
}

func TestFetchFollowsRelativeRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "../img/real.jpg")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/img/real.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	var hops []string
	opts := DefaultOptions()
	opts.OnRedirect = func(code int, from, to string) {
		hops = append(hops, to)
	}

	dest := filepath.Join(t.TempDir(), "real.jpg")
	if _, err := NewClient(opts).Fetch(context.Background(), server.URL+"/start", dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(hops) != 1 || hops[0] != server.URL+"/img/real.jpg" {
		t.Errorf("unexpected redirect hops: %v", hops)
	}
}

func TestFetchRedirectLoop(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Redirect(w, r, "/again", http.StatusTemporaryRedirect)
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.MaxRedirects = 3
	dest := filepath.Join(t.TempDir(), "loop.jpg")
	_, err := NewClient(opts).Fetch(context.Background(), server.URL, dest)

	var loopErr *RedirectLoopError
	if !errors.As(err, &loopErr) {
		t.Fatalf("expected RedirectLoopError, got %v", err)
	}
	if hits != 4 {
		t.Errorf("expected 4 requests (3 followed hops), got %d", hits)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("expected no file at dest")
	}
}

func TestFetchStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "missing.jpg")
	_, err := NewClient(DefaultOptions()).Fetch(context.Background(), server.URL, dest)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusNotFound {
		t.Errorf("expected code 404, got %d", se.Code)
	}
	if !se.Permanent() {
		t.Error("expected 404 to be permanent")
	}
}

func TestFetchRedirectWithoutLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer server.Close()

	_, err := NewClient(DefaultOptions()).Fetch(context.Background(), server.URL, filepath.Join(t.TempDir(), "x.jpg"))
	if !errors.Is(err, ErrMissingLocation) {
		t.Fatalf("expected ErrMissingLocation, got %v", err)
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	opts := DefaultOptions()
	opts.Timeout = 50 * time.Millisecond
	_, err := NewClient(opts).Fetch(context.Background(), server.URL, filepath.Join(t.TempDir(), "slow.jpg"))

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestFetchTimeoutMidBodyRemovesPartial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.Timeout = 100 * time.Millisecond
	dest := filepath.Join(t.TempDir(), "cut.jpg")
	_, err := NewClient(opts).Fetch(context.Background(), server.URL, dest)
	if err == nil {
		t.Fatal("expected error for truncated body")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("expected no file at dest")
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("expected partial file to be removed")
	}
}

func TestFetchTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(DefaultOptions()).Fetch(context.Background(), url, filepath.Join(t.TempDir(), "x.jpg"))

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestFetchCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient(DefaultOptions()).Fetch(ctx, server.URL, filepath.Join(t.TempDir(), "x.jpg"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetchFilesystemError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "no-such-dir", "x.jpg")
	_, err := NewClient(DefaultOptions()).Fetch(context.Background(), server.URL, dest)

	var fe *FilesystemError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FilesystemError, got %v", err)
	}
}

func TestGet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new/manifest.yaml", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new/manifest.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chapters: []"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	body, final, err := NewClient(DefaultOptions()).Get(context.Background(), server.URL+"/old")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer body.Close()

	if final.Path != "/new/manifest.yaml" {
		t.Errorf("expected final path /new/manifest.yaml, got %s", final.Path)
	}
}
