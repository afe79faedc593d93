package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// FileName is the checkpoint object name inside a job root.
const FileName = ".progress.json"

// ErrCorrupt is returned by Load when a checkpoint exists but cannot be parsed.
var ErrCorrupt = errors.New("checkpoint: corrupt record")

// Options is the job configuration stored alongside progress so that a
// resumed run behaves like the original one.
type Options struct {
	ChapterConcurrency    int   `json:"chapterConcurrency,omitempty"`
	ImageConcurrency      int   `json:"imageConcurrency,omitempty"`
	PerAttemptTimeoutMs   int64 `json:"perAttemptTimeoutMs,omitempty"`
	TotalRequestTimeoutMs int64 `json:"totalRequestTimeoutMs,omitempty"`
}

// Record is the persisted progress of one job.
type Record struct {
	TotalChapters     int       `json:"totalChapters"`
	CompletedChapters []int     `json:"completedChapters"`
	LastUpdated       time.Time `json:"lastUpdated"`
	SourceLocator     string    `json:"sourceLocator"`
	Options           Options   `json:"options"`
}

// Normalize sorts and deduplicates CompletedChapters and drops ordinals
// outside 1..TotalChapters.
func (r *Record) Normalize() {
	seen := make(map[int]bool, len(r.CompletedChapters))
	out := make([]int, 0, len(r.CompletedChapters))
	for _, n := range r.CompletedChapters {
		if n < 1 || n > r.TotalChapters || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	r.CompletedChapters = out
}

// IsCompleted reports whether chapter ordinal n is recorded as completed.
func (r *Record) IsCompleted(n int) bool {
	if r == nil {
		return false
	}
	for _, c := range r.CompletedChapters {
		if c == n {
			return true
		}
	}
	return false
}

// MarkCompleted adds ordinals to the completed set.
func (r *Record) MarkCompleted(ordinals ...int) {
	r.CompletedChapters = append(r.CompletedChapters, ordinals...)
	r.Normalize()
}

// Remaining returns the ordinals in 1..TotalChapters not yet completed.
func (r *Record) Remaining() []int {
	var out []int
	for n := 1; n <= r.TotalChapters; n++ {
		if !r.IsCompleted(n) {
			out = append(out, n)
		}
	}
	return out
}

// Store persists one Record per job root.
//
// A local store writes the checkpoint into the job root itself. A bucket
// store keeps every job's checkpoint in a shared bucket, keyed by the job
// root's base name.
type Store struct {
	bucket *blob.Bucket
}

// NewLocalStore returns a Store that writes <jobDir>/.progress.json.
func NewLocalStore() *Store {
	return &Store{}
}

// NewBucketStore returns a Store backed by bucket. The caller owns the bucket.
func NewBucketStore(bucket *blob.Bucket) *Store {
	return &Store{bucket: bucket}
}

// Save overwrites the checkpoint for jobDir.
func (s *Store) Save(ctx context.Context, jobDir string, rec *Record) error {
	rec.Normalize()
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	bucket, key, closeFn, err := s.open(jobDir, true)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", key, err)
	}
	return nil
}

// Load returns the checkpoint for jobDir. A missing checkpoint yields
// (nil, nil). An unparseable one yields an error wrapping ErrCorrupt, which
// callers should treat as absent.
func (s *Store) Load(ctx context.Context, jobDir string) (*Record, error) {
	bucket, key, closeFn, err := s.open(jobDir, false)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closeFn()

	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: read %s: %w", key, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.TotalChapters < 0 {
		return nil, fmt.Errorf("%w: negative chapter count", ErrCorrupt)
	}
	rec.Normalize()
	return &rec, nil
}

// Remove deletes the checkpoint for jobDir. A missing checkpoint is not an
// error.
func (s *Store) Remove(ctx context.Context, jobDir string) error {
	bucket, key, closeFn, err := s.open(jobDir, false)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer closeFn()

	if err := bucket.Delete(ctx, key); err != nil && !isNotExist(err) {
		return fmt.Errorf("checkpoint: delete %s: %w", key, err)
	}
	return nil
}

// open returns the bucket and key holding jobDir's checkpoint. For local
// stores the returned error wraps fs.ErrNotExist when jobDir is missing and
// create is false.
func (s *Store) open(jobDir string, create bool) (*blob.Bucket, string, func() error, error) {
	if s.bucket != nil {
		return s.bucket, path.Join(filepath.Base(jobDir), FileName), func() error { return nil }, nil
	}

	if !create {
		if _, err := os.Stat(jobDir); err != nil {
			return nil, "", nil, err
		}
	}
	bucket, err := fileblob.OpenBucket(jobDir, &fileblob.Options{
		CreateDir: create,
		NoTempDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, "", nil, fmt.Errorf("checkpoint: open %s: %w", jobDir, err)
	}
	return bucket, FileName, bucket.Close, nil
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
