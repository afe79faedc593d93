package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ligustah/folio/internal/library"
)

// runStatus prints the checkpoint of a job root and the image count of each
// chapter directory.
func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	checkpointBucket := fs.String("checkpoint-bucket", "", "Bucket URL holding checkpoints; default is inside the job root")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: folio status [options] <job-root>

Show checkpoint and per-chapter progress of a job root.

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

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, *checkpointBucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer closeStore()

	jobRoot := filepath.Clean(fs.Arg(0))
	lib := library.New(filepath.Dir(jobRoot), store)
	return printStatus(ctx, os.Stdout, lib, filepath.Base(jobRoot))
}

func printStatus(ctx context.Context, w io.Writer, lib *library.Library, name string) int {
	comic, err := lib.Get(ctx, name)
	if errors.Is(err, library.ErrNotFound) || errors.Is(err, library.ErrInvalidName) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitNotFound
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	chapters, err := lib.Chapters(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	fmt.Fprintf(w, "Job root:  %s\n", comic.Path)
	fmt.Fprintf(w, "Modified:  %s\n", comic.ModifiedAt.Format("2006-01-02 15:04:05"))
	if rec := comic.Checkpoint; rec != nil {
		fmt.Fprintf(w, "Source:    %s\n", rec.SourceLocator)
		fmt.Fprintf(w, "Progress:  %d/%d chapters completed\n", len(rec.CompletedChapters), rec.TotalChapters)
		fmt.Fprintf(w, "Remaining: %v\n", rec.Remaining())
		fmt.Fprintf(w, "Updated:   %s\n", rec.LastUpdated.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintln(w, "Progress:  no checkpoint (complete or never started)")
	}

	fmt.Fprintf(w, "Chapters:  %d on disk\n", len(chapters))
	for _, ch := range chapters {
		fmt.Fprintf(w, "  %-14s %4d images\n", ch.Name, ch.Images)
	}
	return ExitSuccess
}
