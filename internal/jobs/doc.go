// Package jobs runs download jobs in the background for the HTTP server.
//
// A Manager starts jobs from a URL or resumes them from a job root's
// checkpoint, tracks their status (running, done, error, cancelled) and
// broadcasts every job's progress events to subscribers.
//
// # Usage
//
//	m := jobs.NewManager(downloader.Options{OutputDir: "downloads"}, logger)
//	rec, err := m.Start("https://example.com/comic/title", checkpoint.Options{ImageConcurrency: 10})
//
//	events, unsubscribe := m.Subscribe()
//	defer unsubscribe()
//	for ev := range events {
//	    // forward to clients
//	}
//
// Subscribers that fall behind lose events rather than stalling jobs.
package jobs
