package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/folio/internal/checkpoint"
	"github.com/ligustah/folio/internal/config"
)

// settings holds the flags shared by every command that runs downloads.
// Unset flags leave the file and environment configuration alone.
type settings struct {
	fs *flag.FlagSet

	configFile         *string
	output             *string
	checkpointBucket   *string
	chapterConcurrency *int
	imageConcurrency   *int
	attemptTimeout     *time.Duration
	requestTimeout     *time.Duration
	retryAttempts      *int
	retryBackoff       *time.Duration
	retryMaxBackoff    *time.Duration
	maxRedirects       *int
	userAgent          *string
	showProgress       *bool
	verbose            *bool
}

func registerSettings(fs *flag.FlagSet) *settings {
	d := config.Default()
	return &settings{
		fs:                 fs,
		configFile:         fs.String("config", "", "YAML configuration file"),
		output:             fs.String("output", d.OutputDir, "Directory job roots are created in"),
		checkpointBucket:   fs.String("checkpoint-bucket", "", "Bucket URL for checkpoints (s3://, gs://, file://); default is inside the job root"),
		chapterConcurrency: fs.Int("chapter-concurrency", d.ChapterConcurrency, "Chapters processed per window"),
		imageConcurrency:   fs.Int("image-concurrency", d.ImageConcurrency, "Images fetched per window"),
		attemptTimeout:     fs.Duration("attempt-timeout", d.AttemptTimeout, "Timeout for a single fetch attempt"),
		requestTimeout:     fs.Duration("request-timeout", 0, "Timeout for all attempts on one image (0 disables)"),
		retryAttempts:      fs.Int("retry-attempts", d.Retry.Attempts, "Max attempts per image"),
		retryBackoff:       fs.Duration("retry-backoff", d.Retry.Backoff, "Initial retry backoff"),
		retryMaxBackoff:    fs.Duration("retry-max-backoff", d.Retry.MaxBackoff, "Max retry backoff"),
		maxRedirects:       fs.Int("max-redirects", d.MaxRedirects, "Redirect hops followed per fetch"),
		userAgent:          fs.String("user-agent", "", "User-Agent header for every request"),
		showProgress:       fs.Bool("progress", d.Progress, "Show progress output"),
		verbose:            fs.Bool("verbose", false, "Also print per-image and checkpoint events"),
	}
}

// resolve builds the effective configuration: defaults, then the config
// file, then .env and FOLIO_ variables, then explicitly set flags.
func (s *settings) resolve() (config.Config, error) {
	cfg := config.Default()
	if *s.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(*s.configFile); err != nil {
			return config.Config{}, err
		}
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	var override config.Config
	s.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			override.OutputDir = *s.output
		case "checkpoint-bucket":
			override.CheckpointBucket = *s.checkpointBucket
		case "chapter-concurrency":
			override.ChapterConcurrency = *s.chapterConcurrency
		case "image-concurrency":
			override.ImageConcurrency = *s.imageConcurrency
		case "attempt-timeout":
			override.AttemptTimeout = *s.attemptTimeout
		case "request-timeout":
			override.RequestTimeout = *s.requestTimeout
		case "retry-attempts":
			override.Retry.Attempts = *s.retryAttempts
		case "retry-backoff":
			override.Retry.Backoff = *s.retryBackoff
		case "retry-max-backoff":
			override.Retry.MaxBackoff = *s.retryMaxBackoff
		case "max-redirects":
			override.MaxRedirects = *s.maxRedirects
		case "user-agent":
			override.UserAgent = *s.userAgent
		case "progress":
			cfg.Progress = *s.showProgress
		case "verbose":
			cfg.Verbose = *s.verbose
		}
	})
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openStore returns the checkpoint store for bucketURL, or a local store
// when bucketURL is empty. The returned function closes the bucket.
func openStore(ctx context.Context, bucketURL string) (*checkpoint.Store, func(), error) {
	if bucketURL == "" {
		return checkpoint.NewLocalStore(), func() {}, nil
	}
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint bucket: %w", err)
	}
	return checkpoint.NewBucketStore(bkt), func() { bkt.Close() }, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[folio] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
