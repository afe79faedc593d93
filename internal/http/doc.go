// Package http fetches image artifacts over HTTP and retries them.
//
// This package handles:
//   - Redirect following with a bounded hop count
//   - Streaming responses to a temporary file renamed on success
//   - A typed error taxonomy (StatusError, RedirectLoopError, TransportError,
//     TimeoutError, FilesystemError)
//   - Retry with exponential backoff and permanent-failure short-circuit
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    Timeout:      20 * time.Second,
//	    MaxRedirects: 5,
//	})
//
//	policy := http.DefaultPolicy()
//	out := policy.Do(ctx, client, http.Item{Source: src, Dest: dest, Name: "001.jpg"})
//	if !out.OK {
//	    // out.Class is permanent, transient or cancelled
//	}
//
// # Classification
//
// HTTP 403, 404 and 410 are permanent: Policy gives up after the first
// attempt. Everything else, including timeouts and 5xx responses, is
// transient and retried after min(Backoff*2^(n-1), MaxBackoff).
package http
