// Package api serves the HTTP front-end for folio: starting, resuming and
// cancelling download jobs, browsing and deleting downloaded job roots, and
// a server-sent event stream of job progress.
//
// # Routes
//
//	GET    /health
//	POST   /api/download                {"url": "...", "options": {...}}
//	POST   /api/download/:id/cancel
//	GET    /api/downloads
//	GET    /api/downloads/:id
//	POST   /api/resume/:name
//	GET    /api/comics
//	GET    /api/comics/:name/chapters
//	DELETE /api/comics/:name
//	GET    /api/events                  text/event-stream
//
// Errors are returned as {"code": "...", "message": "..."}.
package api
