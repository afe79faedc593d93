// Package config defines configuration structures for the folio CLI and
// server.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (FOLIO_ prefix), optionally from a .env file
//   - YAML configuration file
//
// Flags override the environment, which overrides the file.
//
// # Structure
//
//	type Config struct {
//	    OutputDir          string
//	    CheckpointBucket   string
//	    ChapterConcurrency int
//	    ImageConcurrency   int
//	    AttemptTimeout     time.Duration
//	    RequestTimeout     time.Duration
//	    MaxRedirects       int
//	    UserAgent          string
//	    Progress           bool
//	    Verbose            bool
//	    Retry              RetryConfig
//	    Server             ServerConfig
//	}
//
//	type RetryConfig struct {
//	    Attempts   int
//	    Backoff    time.Duration
//	    MaxBackoff time.Duration
//	}
package config
