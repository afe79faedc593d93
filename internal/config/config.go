package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/folio/internal/downloader"
	foliohttp "github.com/ligustah/folio/internal/http"
)

// Config defines configuration for the folio CLI and server.
type Config struct {
	OutputDir          string        `yaml:"output_dir"`
	CheckpointBucket   string        `yaml:"checkpoint_bucket"`
	ChapterConcurrency int           `yaml:"chapter_concurrency"`
	ImageConcurrency   int           `yaml:"image_concurrency"`
	AttemptTimeout     time.Duration `yaml:"attempt_timeout"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	MaxRedirects       int           `yaml:"max_redirects"`
	UserAgent          string        `yaml:"user_agent"`
	Progress           bool          `yaml:"progress"`
	Verbose            bool          `yaml:"verbose"`
	Retry              RetryConfig   `yaml:"retry"`
	Server             ServerConfig  `yaml:"server"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// ServerConfig defines the HTTP job API.
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		OutputDir:          downloader.DefaultOutputDir,
		ChapterConcurrency: 5,
		ImageConcurrency:   15,
		AttemptTimeout:     20 * time.Second,
		MaxRedirects:       5,
		UserAgent:          foliohttp.DefaultUserAgent,
		Progress:           true,
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 10 * time.Second,
		},
		Server: ServerConfig{
			Addr:         ":3000",
			AllowOrigins: []string{"*"},
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	OutputDir          string          `yaml:"output_dir"`
	CheckpointBucket   string          `yaml:"checkpoint_bucket"`
	ChapterConcurrency int             `yaml:"chapter_concurrency"`
	ImageConcurrency   int             `yaml:"image_concurrency"`
	AttemptTimeout     string          `yaml:"attempt_timeout"`
	RequestTimeout     string          `yaml:"request_timeout"`
	MaxRedirects       int             `yaml:"max_redirects"`
	UserAgent          string          `yaml:"user_agent"`
	Progress           *bool           `yaml:"progress"`
	Verbose            bool            `yaml:"verbose"`
	Retry              yamlRetryConfig `yaml:"retry"`
	Server             ServerConfig    `yaml:"server"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.OutputDir != "" {
		cfg.OutputDir = yc.OutputDir
	}
	if yc.CheckpointBucket != "" {
		cfg.CheckpointBucket = yc.CheckpointBucket
	}
	if yc.ChapterConcurrency != 0 {
		cfg.ChapterConcurrency = yc.ChapterConcurrency
	}
	if yc.ImageConcurrency != 0 {
		cfg.ImageConcurrency = yc.ImageConcurrency
	}
	if yc.AttemptTimeout != "" {
		d, err := time.ParseDuration(yc.AttemptTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse attempt_timeout: %w", err)
		}
		cfg.AttemptTimeout = d
	}
	if yc.RequestTimeout != "" {
		d, err := time.ParseDuration(yc.RequestTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if yc.MaxRedirects != 0 {
		cfg.MaxRedirects = yc.MaxRedirects
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.Progress != nil {
		cfg.Progress = *yc.Progress
	}
	cfg.Verbose = yc.Verbose
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}
	if yc.Server.Addr != "" {
		cfg.Server.Addr = yc.Server.Addr
	}
	if len(yc.Server.AllowOrigins) > 0 {
		cfg.Server.AllowOrigins = yc.Server.AllowOrigins
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the environment without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FOLIO_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("FOLIO_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("FOLIO_CHECKPOINT_BUCKET"); v != "" {
		c.CheckpointBucket = v
	}
	if v := os.Getenv("FOLIO_CHAPTER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FOLIO_CHAPTER_CONCURRENCY: %w", err)
		}
		c.ChapterConcurrency = n
	}
	if v := os.Getenv("FOLIO_IMAGE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FOLIO_IMAGE_CONCURRENCY: %w", err)
		}
		c.ImageConcurrency = n
	}
	if v := os.Getenv("FOLIO_ATTEMPT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FOLIO_ATTEMPT_TIMEOUT: %w", err)
		}
		c.AttemptTimeout = d
	}
	if v := os.Getenv("FOLIO_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FOLIO_REQUEST_TIMEOUT: %w", err)
		}
		c.RequestTimeout = d
	}
	if v := os.Getenv("FOLIO_MAX_REDIRECTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FOLIO_MAX_REDIRECTS: %w", err)
		}
		c.MaxRedirects = n
	}
	if v := os.Getenv("FOLIO_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("FOLIO_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("FOLIO_VERBOSE"); v != "" {
		c.Verbose = v == "true" || v == "1"
	}
	if v := os.Getenv("FOLIO_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FOLIO_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("FOLIO_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FOLIO_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("FOLIO_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FOLIO_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}
	if v := os.Getenv("FOLIO_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FOLIO_ALLOW_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.AllowOrigins = origins
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return errors.New("config: output_dir is required")
	}
	if c.ChapterConcurrency <= 0 {
		return errors.New("config: chapter_concurrency must be positive")
	}
	if c.ImageConcurrency <= 0 {
		return errors.New("config: image_concurrency must be positive")
	}
	if c.AttemptTimeout <= 0 {
		return errors.New("config: attempt_timeout must be positive")
	}
	if c.RequestTimeout < 0 {
		return errors.New("config: request_timeout must not be negative")
	}
	if c.MaxRedirects < 0 {
		return errors.New("config: max_redirects must not be negative")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Retry.MaxBackoff < c.Retry.Backoff {
		return errors.New("config: retry.max_backoff must not be below retry.backoff")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.OutputDir != "" {
		c.OutputDir = override.OutputDir
	}
	if override.CheckpointBucket != "" {
		c.CheckpointBucket = override.CheckpointBucket
	}
	if override.ChapterConcurrency != 0 {
		c.ChapterConcurrency = override.ChapterConcurrency
	}
	if override.ImageConcurrency != 0 {
		c.ImageConcurrency = override.ImageConcurrency
	}
	if override.AttemptTimeout != 0 {
		c.AttemptTimeout = override.AttemptTimeout
	}
	if override.RequestTimeout != 0 {
		c.RequestTimeout = override.RequestTimeout
	}
	if override.MaxRedirects != 0 {
		c.MaxRedirects = override.MaxRedirects
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Verbose {
		c.Verbose = override.Verbose
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Server.Addr != "" {
		c.Server.Addr = override.Server.Addr
	}
	if len(override.Server.AllowOrigins) > 0 {
		c.Server.AllowOrigins = override.Server.AllowOrigins
	}
	return c
}

// DownloadOptions converts the configuration into downloader options. The
// caller sets Driver, Store and Events.
func (c Config) DownloadOptions() downloader.Options {
	httpOpts := foliohttp.DefaultOptions()
	httpOpts.MaxRedirects = c.MaxRedirects
	httpOpts.MaxIdleConnsPerHost = max(c.ImageConcurrency*2, httpOpts.MaxIdleConnsPerHost)
	if c.UserAgent != "" {
		httpOpts.UserAgent = c.UserAgent
	}

	return downloader.Options{
		OutputDir:          c.OutputDir,
		ChapterConcurrency: c.ChapterConcurrency,
		ImageConcurrency:   c.ImageConcurrency,
		AttemptTimeout:     c.AttemptTimeout,
		RequestTimeout:     c.RequestTimeout,
		Retry: downloader.RetryOptions{
			MaxAttempts: c.Retry.Attempts,
			Backoff:     c.Retry.Backoff,
			MaxBackoff:  c.Retry.MaxBackoff,
		},
		HTTPOptions: httpOpts,
	}
}
