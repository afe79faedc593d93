package downloader

import "testing"

func TestJobName(t *testing.T) {
	tests := []struct {
		entry string
		want  string
	}{
		{"https://example.com/comic/some-title", "some-title"},
		{"https://example.com/comic/some-title/", "some-title"},
		{"https://example.com/comic/some%20title?page=2", "some title"},
		{"https://example.com/", "example.com"},
		{"/data/manifests/title.yaml", "title"},
		{"file:///data/manifests/title.json", "title"},
		{"manifests/other.yml", "other"},
		{"https://example.com/..", "example.com"},
	}

	for _, tt := range tests {
		if got := JobName(tt.entry); got != tt.want {
			t.Errorf("JobName(%q) = %q, want %q", tt.entry, got, tt.want)
		}
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		src  string
		n    int
		want string
	}{
		{"https://cdn.example.com/1/001.jpg", 1, "001.jpg"},
		{"https://cdn.example.com/1/002.webp?token=abc", 2, "002.webp"},
		{"https://cdn.example.com/1/a%2Fb.png", 3, "a_b.png"},
		{"https://cdn.example.com", 4, "page-004"},
		{"https://cdn.example.com/.hidden.jpg", 5, "hidden.jpg"},
		{"::not a url", 6, "page-006"},
	}

	for _, tt := range tests {
		if got := FileName(tt.src, tt.n); got != tt.want {
			t.Errorf("FileName(%q, %d) = %q, want %q", tt.src, tt.n, got, tt.want)
		}
	}
}

func TestChapterDirName(t *testing.T) {
	if got := ChapterDirName(7); got != "chapter-7" {
		t.Errorf("expected chapter-7, got %s", got)
	}
	if n, ok := ParseChapterDir("chapter-12"); !ok || n != 12 {
		t.Errorf("expected 12, got %d (%v)", n, ok)
	}
	for _, bad := range []string{"chapter-0", "chapter-x", "capitulo-1", "chapter-"} {
		if _, ok := ParseChapterDir(bad); ok {
			t.Errorf("expected %q rejected", bad)
		}
	}
}
