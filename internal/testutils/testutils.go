//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// jpegHeader makes generated images sniff as image/jpeg.
var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

// GenerateImage returns deterministic fake JPEG bytes for chapter c, page p.
func GenerateImage(c, p int) []byte {
	data := append([]byte(nil), jpegHeader...)
	for i := 0; i < 512; i++ {
		data = append(data, byte((c*31+p*7+i)%256))
	}
	return data
}

// ImageSite is a fake comic site serving a manifest, chapter page documents
// and images.
type ImageSite struct {
	*httptest.Server

	// EntryURL is the manifest locator to pass to the downloader.
	EntryURL string
	Chapters int
	Pages    int

	mu   sync.Mutex
	hits map[string]int
	slow time.Duration
}

// StartImageSite starts a site with the given number of chapters and pages
// per chapter. The manifest lives at /comic/<title>.
func StartImageSite(t *testing.T, title string, chapters, pages int) *ImageSite {
	t.Helper()

	site := &ImageSite{Chapters: chapters, Pages: pages, hits: make(map[string]int)}
	mux := http.NewServeMux()

	mux.HandleFunc("/comic/"+title, func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		fmt.Fprintf(&b, "title: %s\nchapters:\n", title)
		for c := 1; c <= chapters; c++ {
			fmt.Fprintf(&b, "  - url: chapter/%d\n", c)
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write([]byte(b.String()))
	})

	mux.HandleFunc("/comic/chapter/", func(w http.ResponseWriter, r *http.Request) {
		var c int
		if _, err := fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/comic/chapter/"), "%d", &c); err != nil || c < 1 || c > chapters {
			http.NotFound(w, r)
			return
		}
		var b strings.Builder
		b.WriteString("pages:\n")
		for p := 1; p <= pages; p++ {
			fmt.Fprintf(&b, "  - /img/%d/%03d.jpg\n", c, p)
		}
		w.Write([]byte(b.String()))
	})

	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		var c, p int
		if _, err := fmt.Sscanf(r.URL.Path, "/img/%d/%d.jpg", &c, &p); err != nil {
			http.NotFound(w, r)
			return
		}
		site.mu.Lock()
		site.hits[r.URL.Path]++
		slow := site.slow
		site.mu.Unlock()

		if slow > 0 {
			select {
			case <-time.After(slow):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(GenerateImage(c, p))
	})

	site.Server = httptest.NewServer(mux)
	site.EntryURL = site.URL + "/comic/" + title
	t.Cleanup(site.Close)
	return site
}

// SetLatency delays every image response by d.
func (s *ImageSite) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slow = d
}

// ImageHits returns the total number of image requests served.
func (s *ImageSite) ImageHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, h := range s.hits {
		n += h
	}
	return n
}

// AssertMirrored checks that jobRoot holds every image of the site.
func (s *ImageSite) AssertMirrored(t *testing.T, jobRoot string) {
	t.Helper()
	for c := 1; c <= s.Chapters; c++ {
		for p := 1; p <= s.Pages; p++ {
			path := filepath.Join(jobRoot, fmt.Sprintf("chapter-%d", c), fmt.Sprintf("%03d.jpg", p))
			data, err := os.ReadFile(path)
			if err != nil {
				t.Errorf("read %s: %v", path, err)
				continue
			}
			if string(data) != string(GenerateImage(c, p)) {
				t.Errorf("content mismatch for %s", path)
			}
		}
	}
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to the Minio environment.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts a Minio container with a pre-created bucket.
// Returns a MinioEnv with connection information.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	// Create a network for minio and mc to communicate
	networkName := fmt.Sprintf("minio-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	// Start minio container
	minioReq := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Networks:     []string{networkName},
		NetworkAliases: map[string][]string{
			networkName: {"minio"},
		},
		Env: map[string]string{
			"MINIO_ROOT_USER":     accessKey,
			"MINIO_ROOT_PASSWORD": secretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	}

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: minioReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	// Create bucket using mc container
	createBucketWithMC(t, ctx, networkName, accessKey, secretKey, bucketName)

	host, err := minioContainer.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}

	port, err := minioContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	// Build gocloud S3 URL with query parameters for minio
	bucketURL := fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
		bucketName,
		endpoint,
	)

	// Set AWS credentials via environment variables (gocloud reads these)
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: minioContainer,
		BucketURL: bucketURL,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// createBucketWithMC creates a bucket using a separate minio/mc container.
func createBucketWithMC(t *testing.T, ctx context.Context, networkName, accessKey, secretKey, bucketName string) {
	t.Helper()

	// mc container runs, creates the bucket, then exits
	mcReq := testcontainers.ContainerRequest{
		Image:      "minio/mc:latest",
		Networks:   []string{networkName},
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd: []string{
			fmt.Sprintf(
				"/usr/bin/mc config host add myminio http://minio:9000 %s %s && "+
					"/usr/bin/mc mb myminio/%s && "+
					"/usr/bin/mc policy set download myminio/%s; "+
					"exit 0",
				accessKey, secretKey, bucketName, bucketName,
			),
		},
		WaitingFor: wait.ForExit(),
	}

	mcContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: mcReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mcContainer.Terminate(ctx)
}
