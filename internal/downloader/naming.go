package downloader

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

const chapterDirPrefix = "chapter-"

// manifestExts are stripped from entry names, so a local title.yaml manifest
// produces the job root "title".
var manifestExts = []string{".yaml", ".yml", ".json"}

// JobName returns the job root name for entry: its final path segment.
func JobName(entry string) string {
	var segment string
	u, err := url.Parse(entry)
	if err == nil && u.Scheme != "" && u.Scheme != "file" && len(u.Scheme) > 1 {
		segment = path.Base(strings.TrimRight(u.EscapedPath(), "/"))
		if segment == "." || segment == ".." || segment == "/" || segment == "" {
			segment = u.Hostname()
		}
	} else {
		p := entry
		if err == nil && u.Scheme == "file" {
			p = u.Path
		}
		segment = filepath.Base(strings.TrimRight(p, `/\`))
	}

	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	lower := strings.ToLower(segment)
	for _, ext := range manifestExts {
		if strings.HasSuffix(lower, ext) && len(segment) > len(ext) {
			segment = segment[:len(segment)-len(ext)]
			break
		}
	}
	return sanitize(segment, "download")
}

// ChapterDirName returns the directory name for chapter ordinal n.
func ChapterDirName(n int) string {
	return chapterDirPrefix + strconv.Itoa(n)
}

// ParseChapterDir returns the ordinal encoded in a chapter directory name.
func ParseChapterDir(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, chapterDirPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// FileName returns the artifact name for an image: the final path segment of
// src without its query. Page n is used when src has no usable segment.
func FileName(src string, n int) string {
	fallback := fmt.Sprintf("page-%03d", n)
	u, err := url.Parse(src)
	if err != nil {
		return fallback
	}
	segment := path.Base(u.EscapedPath())
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	return sanitize(segment, fallback)
}

// sanitize makes name safe to use as a single, visible path element.
func sanitize(name, fallback string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.TrimLeft(name, ".")
	if strings.Trim(name, "_") == "" {
		return fallback
	}
	return name
}
