package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 32
	MaxIdleConnsPerHost int

	// Timeout bounds a single fetch attempt, connect and transfer combined,
	// including every redirect hop. Zero disables the limit.
	// Default: 20s
	Timeout time.Duration

	// MaxRedirects is the number of redirect hops followed before failing
	// with RedirectLoopError.
	// Default: 5
	MaxRedirects int

	// UserAgent is sent with every request.
	UserAgent string

	// OnRedirect, if set, observes every followed redirect hop.
	OnRedirect func(code int, from, to string)
}

// DefaultUserAgent mimics a desktop browser; many image hosts reject
// library user agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 32,
		Timeout:             20 * time.Second,
		MaxRedirects:        5,
		UserAgent:           DefaultUserAgent,
	}
}

// Client fetches artifacts over HTTP, following redirects itself so the hop
// count and relative Location handling stay under its control.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	defaults := DefaultOptions()
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = defaults.MaxIdleConnsPerHost
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		opts: opts,
	}
}

// Fetch downloads src into dest and returns the number of bytes written.
// The body is streamed into dest+".part" and renamed on success, so a failed
// attempt never leaves a file at dest.
func (c *Client) Fetch(ctx context.Context, src, dest string) (int64, error) {
	attemptCtx, cancel := c.attemptContext(ctx)
	defer cancel()

	resp, err := c.open(ctx, attemptCtx, src)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, &FilesystemError{Op: "create", Path: tmp, Err: err}
	}

	w := &fileWriter{f: f}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		if w.err != nil {
			return n, &FilesystemError{Op: "write", Path: tmp, Err: w.err}
		}
		return n, classifyTransport(ctx, attemptCtx, src, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return n, &FilesystemError{Op: "close", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return n, &FilesystemError{Op: "rename", Path: dest, Err: err}
	}

	return n, nil
}

// Get performs a GET request following redirects and returns the body of the
// final response along with its URL. The attempt timeout stays in effect until
// the body is closed.
func (c *Client) Get(ctx context.Context, src string) (io.ReadCloser, *url.URL, error) {
	attemptCtx, cancel := c.attemptContext(ctx)

	resp, err := c.open(ctx, attemptCtx, src)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	return &cancelBody{ReadCloser: resp.Body, cancel: cancel}, resp.Request.URL, nil
}

func (c *Client) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout > 0 {
		return context.WithTimeout(ctx, c.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// open issues the request chain for src and returns the first non-redirect
// 2xx response.
func (c *Client) open(parent, ctx context.Context, src string) (*http.Response, error) {
	current, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", src, err)
	}

	for hops := 0; ; hops++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, classifyTransport(parent, ctx, current.String(), err)
		}

		if !isRedirect(resp.StatusCode) {
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				resp.Body.Close()
				return nil, &StatusError{Code: resp.StatusCode, URL: current.String()}
			}
			return resp, nil
		}

		location := resp.Header.Get("Location")
		resp.Body.Close()
		if location == "" {
			return nil, &StatusError{Code: resp.StatusCode, URL: current.String(), Err: ErrMissingLocation}
		}
		if hops >= c.opts.MaxRedirects {
			return nil, &RedirectLoopError{Hops: hops + 1, URL: current.String()}
		}

		next, err := current.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("parse redirect location %q: %w", location, err)
		}
		if c.opts.OnRedirect != nil {
			c.opts.OnRedirect(resp.StatusCode, current.String(), next.String())
		}
		current = next
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Referer", req.URL.Scheme+"://"+req.URL.Host+"/")
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// classifyTransport maps a request or body read failure onto the error
// taxonomy. Cancellation of the parent context is returned as is.
func classifyTransport(parent, attempt context.Context, rawURL string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || attempt.Err() != nil {
		return &TimeoutError{URL: rawURL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: rawURL, Err: err}
	}
	return &TransportError{URL: rawURL, Err: err}
}

// fileWriter records write failures so they can be told apart from body
// read failures after io.Copy returns.
type fileWriter struct {
	f   *os.File
	err error
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
