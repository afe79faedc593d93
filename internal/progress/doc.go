// Package progress carries job progress as an explicit event stream and
// renders it for humans.
//
// The download engine never writes logs directly. It sends Events through an
// Emitter to a channel owned by the caller, who decides how to render them:
// the CLI uses a Reporter, the HTTP server fans them out over SSE.
//
// # Usage
//
//	events := make(chan progress.Event, 64)
//	reporter := progress.NewReporter(progress.Options{Source: entry})
//	reporter.Start()
//	go func() {
//	    reporter.Consume(events)
//	}()
//
//	result, err := downloader.Download(ctx, entry, downloader.Options{Events: events})
//	close(events)
//	reporter.Stop()
//
// # Output Format
//
//	[folio] Mirroring: https://example.com/comic/some-title
//	[folio] Found 12 chapters
//	[folio] Chapter 3: 24 downloaded, 0 failed, 0 skipped
//	[folio] 002.jpg failed after 3 attempts (HTTP 404 Not Found)
//	[folio] ████████░░░░░░ 41.7% | Chapters: 5/12 | Images: 118 | 21.40 MB | 1m 12s
//	[folio] Downloaded: 284 images (51.02 MB) | Failed: 1 | Skipped: 0
//	[folio] Total time: 2m 40s | Average: 106.5 images/min
package progress
