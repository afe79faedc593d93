// Package completion decides, from the local filesystem alone, whether chapter
// images have already been downloaded.
//
// A chapter directory is complete when it holds exactly the expected number of
// non-empty image files. Zero-byte files are left behind by interrupted writes
// and are reported as corrupt so the caller can remove and re-fetch them.
//
// # Usage
//
//	var o completion.Oracle
//	done, corrupt := o.ChapterComplete(dir, 24)
//	if len(corrupt) > 0 {
//	    o.PurgeCorrupt(corrupt)
//	}
//	if !o.ItemPresent(filepath.Join(dir, "007.jpg")) {
//	    // enqueue
//	}
//
// Files are recognised as images by extension (.jpg, .jpeg, .png, .webp,
// .gif, .avif). Files without an extension are sniffed by content.
package completion
