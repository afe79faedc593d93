// Package checkpoint persists chapter-level progress of a download job so an
// interrupted run can resume where it stopped.
//
// A Record holds the discovered chapter count, the set of completed chapter
// ordinals, the source locator and the options the job was started with. It
// is stored as a single JSON document that is overwritten after every chapter
// window and removed once the job has nothing left to do.
//
// # Layout
//
//	{
//	  "totalChapters": 5,
//	  "completedChapters": [1, 2],
//	  "lastUpdated": "2025-01-02T15:04:05Z",
//	  "sourceLocator": "https://example.com/comic/some-title",
//	  "options": {"chapterConcurrency": 5, "imageConcurrency": 15}
//	}
//
// # Backends
//
// Stores go through gocloud.dev/blob. NewLocalStore writes
// <jobRoot>/.progress.json with fileblob. NewBucketStore keeps checkpoints in
// any opened bucket (mem://, s3://, gs://) under <jobName>/.progress.json.
package checkpoint
