// Package page defines the contract between the download engine and whatever
// knows how to find chapters and page images on a source site.
//
// The engine never inspects markup. It asks a Driver for chapter locators,
// opens each chapter as a scoped Chapter handle and walks its pages until
// Advance reports the end. Handles must be closed on every exit path.
//
// # Manifest driver
//
// ManifestDriver is the built-in Driver. Its entry locator is an http(s) URL,
// a file:// URL or a path to a YAML or JSON document:
//
//	title: Some Title
//	reverse: true            # source lists newest first
//	chapters:
//	  - url: chapters/1.yaml # fetched on open
//	  - url: https://example.com/c/2
//	    pages:               # or inline
//	      - https://cdn.example.com/2/001.jpg
//	      - 002.jpg
//
// A chapter document holds a pages list. Relative locators resolve against
// the URL of the document they appear in, or its base field when set.
package page
