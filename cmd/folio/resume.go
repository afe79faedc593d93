package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// runResume continues a download from the checkpoint in a job root, reusing
// the entry locator and the concurrency and timeouts it was started with.
func runResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	s := registerSettings(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: folio resume [options] <job-root>

Continue an interrupted download. Options stored in the checkpoint take
precedence over configuration; -output is ignored.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one job root is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	jobRoot := filepath.Clean(fs.Arg(0))

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

	rec, err := store.Load(ctx, jobRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading checkpoint: %v\n", err)
		return ExitStorageError
	}
	if rec == nil || rec.SourceLocator == "" {
		fmt.Fprintf(os.Stderr, "Error: no checkpoint in %s, nothing to resume\n", jobRoot)
		return ExitNotFound
	}

	fmt.Fprintf(os.Stderr, "[folio] Resuming %s: %d/%d chapters completed\n",
		rec.SourceLocator, len(rec.CompletedChapters), rec.TotalChapters)

	opts := cfg.DownloadOptions()
	opts.OutputDir = filepath.Dir(jobRoot)
	opts.Store = store
	opts.ApplyPersisted(rec.Options)
	return mirror(ctx, rec.SourceLocator, opts, cfg)
}
