package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// maxDocumentSize bounds manifest and page documents.
const maxDocumentSize = 4 << 20

// ErrNoPages is returned when a chapter document lists no pages.
var ErrNoPages = errors.New("page: chapter has no pages")

// Getter fetches a remote document, following redirects.
type Getter interface {
	Get(ctx context.Context, src string) (io.ReadCloser, *url.URL, error)
}

// Manifest is the document an entry locator points to. JSON documents parse
// too, since YAML is a superset.
type Manifest struct {
	Title string `yaml:"title"`
	// Base overrides the URL relative locators are resolved against.
	Base string `yaml:"base"`
	// Reverse flips the chapter order, for sources listing newest first.
	Reverse  bool           `yaml:"reverse"`
	Chapters []ChapterEntry `yaml:"chapters"`
}

// ChapterEntry is one chapter in a Manifest. Pages may be given inline;
// otherwise URL is fetched as a page document when the chapter is opened.
type ChapterEntry struct {
	URL   string   `yaml:"url"`
	Pages []string `yaml:"pages"`
}

// pageDocument is the document a chapter locator points to.
type pageDocument struct {
	Base  string   `yaml:"base"`
	Pages []string `yaml:"pages"`
}

// ManifestDriver reads chapters and pages from YAML or JSON documents served
// over HTTP or from the local filesystem.
type ManifestDriver struct {
	getter Getter

	mu     sync.Mutex
	inline map[string][]string
}

// NewManifestDriver creates a driver that fetches remote documents with g.
func NewManifestDriver(g Getter) *ManifestDriver {
	return &ManifestDriver{
		getter: g,
		inline: make(map[string][]string),
	}
}

// ListChapters implements Driver.
func (d *ManifestDriver) ListChapters(ctx context.Context, entry string) ([]string, error) {
	var m Manifest
	base, err := d.load(ctx, entry, &m)
	if err != nil {
		return nil, &CollaboratorError{Op: "list chapters", Locator: entry, Err: err}
	}
	if m.Base != "" {
		if base, err = base.Parse(m.Base); err != nil {
			return nil, &CollaboratorError{Op: "list chapters", Locator: entry, Err: err}
		}
	}

	locators := make([]string, 0, len(m.Chapters))
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ch := range m.Chapters {
		if ch.URL == "" {
			return nil, &CollaboratorError{Op: "list chapters", Locator: entry, Err: fmt.Errorf("chapter %d has no url", i+1)}
		}
		loc, err := base.Parse(ch.URL)
		if err != nil {
			return nil, &CollaboratorError{Op: "list chapters", Locator: entry, Err: err}
		}
		if len(ch.Pages) > 0 {
			pages, err := resolveAll(base, ch.Pages)
			if err != nil {
				return nil, &CollaboratorError{Op: "list chapters", Locator: loc.String(), Err: err}
			}
			d.inline[loc.String()] = pages
		}
		locators = append(locators, loc.String())
	}
	if m.Reverse {
		slices.Reverse(locators)
	}
	return locators, nil
}

// OpenChapter implements Driver.
func (d *ManifestDriver) OpenChapter(ctx context.Context, locator string) (Chapter, error) {
	d.mu.Lock()
	pages, ok := d.inline[locator]
	d.mu.Unlock()
	if ok {
		return &listChapter{pages: pages}, nil
	}

	var doc pageDocument
	base, err := d.load(ctx, locator, &doc)
	if err != nil {
		return nil, &CollaboratorError{Op: "open chapter", Locator: locator, Err: err}
	}
	if doc.Base != "" {
		if base, err = base.Parse(doc.Base); err != nil {
			return nil, &CollaboratorError{Op: "open chapter", Locator: locator, Err: err}
		}
	}
	if len(doc.Pages) == 0 {
		return nil, &CollaboratorError{Op: "open chapter", Locator: locator, Err: ErrNoPages}
	}
	pages, err = resolveAll(base, doc.Pages)
	if err != nil {
		return nil, &CollaboratorError{Op: "open chapter", Locator: locator, Err: err}
	}
	return &listChapter{pages: pages}, nil
}

// load reads the document at locator into v and returns the URL relative
// references in it resolve against.
func (d *ManifestDriver) load(ctx context.Context, locator string, v any) (*url.URL, error) {
	var data []byte
	var base *url.URL

	u, err := url.Parse(locator)
	switch {
	case err == nil && (u.Scheme == "http" || u.Scheme == "https"):
		if d.getter == nil {
			return nil, errors.New("no http getter configured")
		}
		body, final, err := d.getter.Get(ctx, locator)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		if data, err = io.ReadAll(io.LimitReader(body, maxDocumentSize)); err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		base = final

	default:
		path := locator
		if err == nil && u.Scheme == "file" {
			path = u.Path
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		if data, err = readFile(abs); err != nil {
			return nil, err
		}
		base = &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	}

	if err := yaml.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return base, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxDocumentSize))
}

func resolveAll(base *url.URL, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		u, err := base.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", ref, err)
		}
		out = append(out, u.String())
	}
	return out, nil
}

// listChapter walks a fixed list of page image locators.
type listChapter struct {
	pages  []string
	pos    int
	closed bool
}

func (c *listChapter) ExpectedItemCount(ctx context.Context) (int, error) {
	return len(c.pages), nil
}

func (c *listChapter) CurrentImage(ctx context.Context) (string, bool, error) {
	if c.closed {
		return "", false, errors.New("page: chapter closed")
	}
	if c.pos >= len(c.pages) {
		return "", false, nil
	}
	return c.pages[c.pos], true, nil
}

func (c *listChapter) Advance(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.pos < len(c.pages) {
		c.pos++
	}
	return c.pos < len(c.pages), nil
}

func (c *listChapter) Close() error {
	c.closed = true
	return nil
}
