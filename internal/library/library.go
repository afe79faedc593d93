package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ligustah/folio/internal/checkpoint"
	"github.com/ligustah/folio/internal/completion"
	"github.com/ligustah/folio/internal/downloader"
)

var (
	// ErrNotFound is returned when no job root has the requested name.
	ErrNotFound = errors.New("library: not found")

	// ErrInvalidName is returned for names that are not a single path element
	// inside the library root.
	ErrInvalidName = errors.New("library: invalid name")
)

// Comic describes one job root.
type Comic struct {
	Name       string             `json:"name"`
	Path       string             `json:"path"`
	Chapters   int                `json:"chapters"`
	ModifiedAt time.Time          `json:"modifiedAt"`
	Resumable  bool               `json:"resumable"`
	Checkpoint *checkpoint.Record `json:"checkpoint,omitempty"`
}

// Chapter describes one chapter directory.
type Chapter struct {
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name"`
	Images  int    `json:"images"`
}

// Library reads the job roots under an output directory.
type Library struct {
	root  string
	store *checkpoint.Store
}

// New returns a Library over root. Checkpoints are read through store, or
// from the job roots themselves when store is nil.
func New(root string, store *checkpoint.Store) *Library {
	if store == nil {
		store = checkpoint.NewLocalStore()
	}
	return &Library{root: root, store: store}
}

// Root returns the library's output directory.
func (l *Library) Root() string { return l.root }

// Path returns the job root for name.
func (l *Library) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(l.root, name), nil
}

// List returns every job root, most recently modified first. A missing
// output directory yields an empty list.
func (l *Library) List(ctx context.Context) ([]Comic, error) {
	entries, err := os.ReadDir(l.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []Comic{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("library: read %s: %w", l.root, err)
	}

	comics := make([]Comic, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		c, err := l.describe(ctx, e.Name())
		if err != nil {
			return nil, err
		}
		comics = append(comics, *c)
	}
	slices.SortFunc(comics, func(a, b Comic) int {
		return b.ModifiedAt.Compare(a.ModifiedAt)
	})
	return comics, nil
}

// Get returns the job root called name.
func (l *Library) Get(ctx context.Context, name string) (*Comic, error) {
	if _, err := l.Path(name); err != nil {
		return nil, err
	}
	return l.describe(ctx, name)
}

// Chapters returns the chapter directories of name ordered by ordinal, with
// the number of valid images in each.
func (l *Library) Chapters(name string) ([]Chapter, error) {
	root, err := l.dir(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("library: read %s: %w", root, err)
	}

	chapters := []Chapter{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, ok := downloader.ParseChapterDir(e.Name())
		if !ok {
			continue
		}
		chapters = append(chapters, Chapter{
			Ordinal: n,
			Name:    e.Name(),
			Images:  completion.Oracle{}.ChapterProgress(filepath.Join(root, e.Name()), 0).Completed,
		})
	}
	slices.SortFunc(chapters, func(a, b Chapter) int { return a.Ordinal - b.Ordinal })
	return chapters, nil
}

// Delete removes the job root called name along with its checkpoint.
func (l *Library) Delete(ctx context.Context, name string) error {
	root, err := l.dir(name)
	if err != nil {
		return err
	}
	// Bucket stores keep the checkpoint outside the job root.
	if err := l.store.Remove(ctx, root); err != nil {
		return err
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("library: remove %s: %w", root, err)
	}
	return nil
}

// dir validates name and returns its job root, which must exist.
func (l *Library) dir(name string) (string, error) {
	root, err := l.Path(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("library: stat %s: %w", root, err)
	}
	return root, nil
}

func (l *Library) describe(ctx context.Context, name string) (*Comic, error) {
	root, err := l.dir(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("library: stat %s: %w", root, err)
	}

	chapters, err := l.Chapters(name)
	if err != nil {
		return nil, err
	}
	c := &Comic{
		Name:       name,
		Path:       root,
		Chapters:   len(chapters),
		ModifiedAt: info.ModTime(),
	}

	// An unreadable checkpoint is reported as absent, as the downloader does.
	rec, err := l.store.Load(ctx, root)
	if err == nil && rec != nil {
		c.Checkpoint = rec
		c.Resumable = rec.SourceLocator != "" && len(rec.Remaining()) > 0
	}
	return c, nil
}
