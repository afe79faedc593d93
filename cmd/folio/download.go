package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ligustah/folio/internal/config"
	"github.com/ligustah/folio/internal/downloader"
	"github.com/ligustah/folio/internal/progress"
)

// runDownload mirrors every chapter reachable from a URL or manifest into the
// output directory, resuming from a checkpoint when one exists.
func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	url := fs.String("url", "", "Entry URL, file:// URL or manifest path (or pass it as the first argument)")
	s := registerSettings(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: folio download [options] <url>

Mirror every chapter reachable from an entry URL or manifest into
<output>/<name>/chapter-N. Re-running continues where the last run stopped.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	entry := *url
	if entry == "" {
		entry = fs.Arg(0)
	}
	if entry == "" {
		fmt.Fprintln(os.Stderr, "Error: an entry URL is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := s.resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg.CheckpointBucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer closeStore()

	opts := cfg.DownloadOptions()
	opts.Store = store
	return mirror(ctx, entry, opts, cfg)
}

// mirror runs one download job, rendering its events when enabled, and maps
// the outcome to an exit code.
func mirror(ctx context.Context, entry string, opts downloader.Options, cfg config.Config) int {
	var reporter *progress.Reporter
	var consumed chan struct{}
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			Output:  os.Stderr,
			Source:  entry,
			Verbose: cfg.Verbose,
		})
		events := make(chan progress.Event, 64)
		opts.Events = events
		consumed = make(chan struct{})
		go func() {
			defer close(consumed)
			reporter.Consume(events)
		}()
		reporter.Start()
		defer func() {
			close(events)
			<-consumed
			reporter.Stop()
		}()
	}

	res, err := downloader.Download(ctx, entry, opts)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "[folio] Download interrupted, progress saved for resume")
			return ExitGeneralError
		}
		var jobErr *downloader.JobError
		if errors.As(err, &jobErr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			switch jobErr.Stage {
			case downloader.StateDiscovering:
				return ExitSourceNotAccess
			case downloader.StateComputingRemaining:
				return ExitStorageError
			}
			return ExitGeneralError
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	fmt.Fprintf(os.Stderr, "[folio] Mirrored to %s: %d downloaded, %d skipped, %d failed in %s\n",
		res.JobRoot, res.Downloaded, res.Skipped, res.Failed, progress.FormatDuration(res.Elapsed))
	switch {
	case len(res.FailedChapters) > 0:
		fmt.Fprintf(os.Stderr, "[folio] Chapters %v failed, run the download again to retry them\n", res.FailedChapters)
		return ExitIncomplete
	case res.Failed > 0:
		fmt.Fprintf(os.Stderr, "[folio] %d images failed, run the download again to retry them\n", res.Failed)
		return ExitIncomplete
	}
	return ExitSuccess
}
