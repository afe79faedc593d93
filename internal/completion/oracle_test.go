package completion

import (
	"os"
	"path/filepath"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestChapterComplete(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"001.jpg", "002.png", "003.webp"} {
		writeFile(t, filepath.Join(dir, name), []byte("img"))
	}
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("not an image"))
	writeFile(t, filepath.Join(dir, ".progress.json"), []byte("{}"))

	var o Oracle
	done, corrupt := o.ChapterComplete(dir, 3)
	if !done {
		t.Error("expected chapter complete")
	}
	if len(corrupt) != 0 {
		t.Errorf("expected no corrupt files, got %v", corrupt)
	}

	if done, _ := o.ChapterComplete(dir, 4); done {
		t.Error("expected incomplete chapter when one image is missing")
	}
	if done, _ := o.ChapterComplete(dir, 2); done {
		t.Error("expected exact count match")
	}
}

func TestChapterCompleteZeroByte(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "001.jpg"), []byte("img"))
	writeFile(t, filepath.Join(dir, "002.jpg"), nil)
	writeFile(t, filepath.Join(dir, "003.jpg"), []byte("img"))

	var o Oracle
	done, corrupt := o.ChapterComplete(dir, 3)
	if done {
		t.Error("expected chapter incomplete with a zero-byte file")
	}
	if len(corrupt) != 1 || filepath.Base(corrupt[0]) != "002.jpg" {
		t.Errorf("expected 002.jpg reported corrupt, got %v", corrupt)
	}

	// Even with the count of valid files matching, corruption forces false.
	if done, _ := o.ChapterComplete(dir, 2); done {
		t.Error("expected corrupt file to force incomplete")
	}
}

func TestChapterCompleteMissingDir(t *testing.T) {
	var o Oracle
	done, corrupt := o.ChapterComplete(filepath.Join(t.TempDir(), "missing"), 0)
	if done || corrupt != nil {
		t.Errorf("expected (false, nil) for missing dir, got (%v, %v)", done, corrupt)
	}
}

func TestChapterCompleteIgnoresPartials(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "001.jpg"), []byte("img"))
	writeFile(t, filepath.Join(dir, "002.jpg.part"), []byte("half"))

	var o Oracle
	if done, _ := o.ChapterComplete(dir, 1); !done {
		t.Error("expected .part files to be ignored")
	}
}

func TestExtensionlessSniffing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "page1"), pngHeader)
	writeFile(t, filepath.Join(dir, "README"), []byte("plain text file"))
	writeFile(t, filepath.Join(dir, "page2"), nil)

	var o Oracle
	done, corrupt := o.ChapterComplete(dir, 1)
	if done {
		t.Error("expected empty extensionless file to force incomplete")
	}
	if len(corrupt) != 1 || filepath.Base(corrupt[0]) != "page2" {
		t.Errorf("expected page2 corrupt, got %v", corrupt)
	}
	if got := o.ChapterProgress(dir, 0).Completed; got != 1 {
		t.Errorf("expected 1 image, got %d", got)
	}
}

func TestChapterProgress(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "001.jpg"), []byte("img"))
	writeFile(t, filepath.Join(dir, "002.jpg"), nil)

	var o Oracle
	p := o.ChapterProgress(dir, 10)
	if p.Completed != 1 || p.Total != 10 {
		t.Errorf("expected 1/10, got %d/%d", p.Completed, p.Total)
	}
	if p := o.ChapterProgress(filepath.Join(dir, "missing"), 3); p.Completed != 0 || p.Total != 3 {
		t.Errorf("expected 0/3 for missing dir, got %d/%d", p.Completed, p.Total)
	}
}

func TestItemPresent(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "001.jpg")
	empty := filepath.Join(dir, "002.jpg")
	writeFile(t, full, []byte("img"))
	writeFile(t, empty, nil)

	var o Oracle
	if !o.ItemPresent(full) {
		t.Error("expected non-empty file present")
	}
	if !o.ItemPresent(empty) {
		t.Error("expected zero-byte file present")
	}
	if o.ItemPresent(filepath.Join(dir, "003.jpg")) {
		t.Error("expected missing file absent")
	}
	if o.ItemPresent(dir) {
		t.Error("expected directory not to count as item")
	}
}

func TestPurgeCorrupt(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "002.jpg")
	writeFile(t, empty, nil)

	var o Oracle
	if err := o.PurgeCorrupt([]string{empty, filepath.Join(dir, "gone.jpg")}); err != nil {
		t.Fatalf("PurgeCorrupt: %v", err)
	}
	if o.ItemPresent(empty) {
		t.Error("expected corrupt file removed")
	}
}
