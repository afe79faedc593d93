// Package library reads the job roots a downloader has produced under an
// output directory: their chapters, image counts and pending checkpoints.
//
// Names are single path elements; anything that would resolve outside the
// output directory is rejected with ErrInvalidName.
package library
