// Package downloader orchestrates resumable chapter image downloads.
//
// This package coordinates a page.Driver, the retrying HTTP fetcher, the
// completion oracle and the checkpoint store. It walks a job through
// Discovering, ComputingRemaining, RunningBatches, Finalizing and Done, or
// aborts to Error on a job-level failure.
//
// # Usage
//
// The main entry point is the Download function:
//
//	res, err := downloader.Download(ctx, entryURL, downloader.Options{
//	    OutputDir:          "downloads",
//	    ChapterConcurrency: 5,
//	    ImageConcurrency:   15,
//	    Events:             events,
//	})
//
// # Windows
//
// Remaining chapters run in windows of ChapterConcurrency. Within a chapter,
// images not yet on disk run in windows of ImageConcurrency, each through a
// retry policy with exponential backoff. A window is fully awaited before the
// next starts, and the checkpoint is saved after every chapter window.
//
// # Failure scopes
//
//   - Image failures are counted and reported as events. The chapter is
//     still marked completed.
//   - Chapter failures (driver errors, directory creation) contribute
//     nothing and are listed in Result.FailedChapters. The chapter is still
//     marked completed; a later run repairs it from what is on disk.
//   - Job failures (discovery, job root creation) return *JobError and leave
//     any existing checkpoint in place.
//
// # Graceful Shutdown
//
// On context cancellation:
//   - No further windows are started
//   - In-flight requests are aborted and partial files removed
//   - The interrupted window is not checkpointed
//   - The context error is returned together with the partial Result
//
// # Layout
//
//	<OutputDir>/<job name>/
//	    .progress.json
//	    chapter-1/001.jpg
//	    chapter-1/002.jpg
//	    chapter-2/...
package downloader
