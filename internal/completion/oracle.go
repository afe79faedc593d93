package completion

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// imageExts lists the extensions counted as chapter images.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
	".avif": true,
}

// Progress is an advisory count of valid images in a chapter directory.
type Progress struct {
	Completed int
	Total     int
}

// Oracle inspects on-disk state to decide whether chapters and items are
// complete. The zero value is ready to use.
type Oracle struct{}

// ChapterComplete reports whether dir holds exactly expected non-empty image
// files. Zero-byte image files are returned as corrupt and force false.
func (Oracle) ChapterComplete(dir string, expected int) (bool, []string) {
	valid, corrupt, err := scan(dir)
	if err != nil {
		return false, nil
	}
	if len(corrupt) > 0 {
		return false, corrupt
	}
	return valid == expected, nil
}

// ChapterProgress counts valid images in dir. It is informational only;
// an unreadable dir counts as empty.
func (Oracle) ChapterProgress(dir string, expected int) Progress {
	valid, _, _ := scan(dir)
	return Progress{Completed: valid, Total: expected}
}

// ItemPresent reports whether a file exists at path, regardless of its size.
func (Oracle) ItemPresent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// PurgeCorrupt removes the given files so that they are fetched again.
// Files that are already gone are ignored.
func (Oracle) PurgeCorrupt(paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// scan counts the non-empty image files in dir and collects the empty ones.
func scan(dir string) (int, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, nil, err
	}

	var valid int
	var corrupt []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, name)
		if !IsImage(path) {
			// An empty extensionless file cannot be sniffed; it is a failed write.
			if filepath.Ext(name) == "" && info.Size() == 0 {
				corrupt = append(corrupt, path)
			}
			continue
		}
		if info.Size() == 0 {
			corrupt = append(corrupt, path)
			continue
		}
		valid++
	}
	return valid, corrupt, nil
}

// IsImage reports whether path names an image file, by extension or, for
// extensionless files, by content.
func IsImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != "" {
		return imageExts[ext]
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt.String(), "image/")
}
