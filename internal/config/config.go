package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/djgus/bucket2bucket/internal/progress"
)

// Multipart limits of S3 and S3-compatible stores.
const (
	MinChunkSize = 5 << 20
	MaxChunkSize = 5 << 30
	MaxParts     = 10000
)

// StoreKind selects the destination implementation.
type StoreKind string

const (
	StoreS3    StoreKind = "s3"
	StoreMinio StoreKind = "minio"
	StoreBlob  StoreKind = "blob"
)

// Config defines configuration for the b2b CLI.
type Config struct {
	URL            string      `yaml:"url"`
	Bucket         string      `yaml:"bucket"`
	Object         string      `yaml:"object"`
	ChunkSize      int64       `yaml:"chunk_size"`
	Progress       bool        `yaml:"progress"`
	ContentType    string      `yaml:"content_type"`
	NotifyQueueURL string      `yaml:"notify_queue_url"`
	AWS            AWSConfig   `yaml:"aws"`
	Retry          RetryConfig `yaml:"retry"`
}

// AWSConfig configures the s3 store and the notification queue.
type AWSConfig struct {
	Profile   string `yaml:"profile"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// RetryConfig defines per-part retry behavior.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		ChunkSize: 100 * 1024 * 1024, // 100MiB
		Progress:  true,
		Retry: RetryConfig{
			Attempts: 5,
			Delay:    3 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	URL            string          `yaml:"url"`
	Bucket         string          `yaml:"bucket"`
	Object         string          `yaml:"object"`
	ChunkSize      string          `yaml:"chunk_size"`
	Progress       *bool           `yaml:"progress"`
	ContentType    string          `yaml:"content_type"`
	NotifyQueueURL string          `yaml:"notify_queue_url"`
	AWS            yamlAWSConfig   `yaml:"aws"`
	Retry          yamlRetryConfig `yaml:"retry"`
}

type yamlAWSConfig struct {
	Profile   string `yaml:"profile"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

type yamlRetryConfig struct {
	Attempts int    `yaml:"attempts"`
	Delay    string `yaml:"delay"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
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

	if yc.URL != "" {
		cfg.URL = yc.URL
	}
	if yc.Bucket != "" {
		cfg.Bucket = yc.Bucket
	}
	if yc.Object != "" {
		cfg.Object = yc.Object
	}
	if yc.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if yc.Progress != nil {
		cfg.Progress = *yc.Progress
	}
	cfg.ContentType = yc.ContentType
	cfg.NotifyQueueURL = yc.NotifyQueueURL
	cfg.AWS = AWSConfig(yc.AWS)
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Delay != "" {
		d, err := time.ParseDuration(yc.Retry.Delay)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.delay: %w", err)
		}
		cfg.Retry.Delay = d
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the B2B_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("B2B_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv("B2B_BUCKET"); v != "" {
		c.Bucket = v
	}
	if v := os.Getenv("B2B_OBJECT"); v != "" {
		c.Object = v
	}
	if v := os.Getenv("B2B_CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse B2B_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("B2B_PROGRESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse B2B_PROGRESS: %w", err)
		}
		c.Progress = b
	}
	if v := os.Getenv("B2B_CONTENT_TYPE"); v != "" {
		c.ContentType = v
	}
	if v := os.Getenv("B2B_NOTIFY_QUEUE_URL"); v != "" {
		c.NotifyQueueURL = v
	}
	if v := os.Getenv("B2B_AWS_PROFILE"); v != "" {
		c.AWS.Profile = v
	}
	if v := os.Getenv("B2B_AWS_REGION"); v != "" {
		c.AWS.Region = v
	}
	if v := os.Getenv("B2B_AWS_ENDPOINT"); v != "" {
		c.AWS.Endpoint = v
	}
	if v := os.Getenv("B2B_AWS_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse B2B_AWS_PATH_STYLE: %w", err)
		}
		c.AWS.PathStyle = b
	}
	if v := os.Getenv("B2B_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse B2B_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("B2B_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse B2B_RETRY_DELAY: %w", err)
		}
		c.Retry.Delay = d
	}

	return nil
}

// Kind reports which store implementation serves bucket URL:
// s3:// goes to the AWS SDK, minio:// and minios:// to minio-go and
// everything else to gocloud blob.
func Kind(bucket string) StoreKind {
	scheme, _, _ := strings.Cut(bucket, "://")
	switch strings.ToLower(scheme) {
	case "s3":
		return StoreS3
	case "minio", "minios":
		return StoreMinio
	default:
		return StoreBlob
	}
}

// StoreKind reports the store implementation for c.Bucket.
func (c *Config) StoreKind() StoreKind {
	return Kind(c.Bucket)
}

// MaxParts returns the part limit of the configured store, or 0 for none.
func (c *Config) MaxParts() int {
	if c.StoreKind() == StoreBlob {
		return 0
	}
	return MaxParts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: URL must be an http or https URL: %q", c.URL)
	}
	if c.Bucket == "" {
		return errors.New("config: bucket is required")
	}
	if !strings.Contains(c.Bucket, "://") {
		return fmt.Errorf("config: bucket must be a URL such as s3://%s", c.Bucket)
	}
	if c.Object == "" {
		return errors.New("config: object is required")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.StoreKind() != StoreBlob && (c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize) {
		return fmt.Errorf("config: chunk_size must be between %s and %s for %s stores",
			progress.FormatBytes(MinChunkSize), progress.FormatBytes(MaxChunkSize), c.StoreKind())
	}
	if c.Retry.Attempts < 1 {
		return errors.New("config: retry attempts must be at least 1")
	}
	if c.Retry.Delay < 0 {
		return errors.New("config: retry delay must not be negative")
	}
	return nil
}

// ValidateTarget checks only the fields needed to address the destination,
// for commands that do not read the source.
func (c *Config) ValidateTarget() error {
	if c.Bucket == "" {
		return errors.New("config: bucket is required")
	}
	if !strings.Contains(c.Bucket, "://") {
		return fmt.Errorf("config: bucket must be a URL such as s3://%s", c.Bucket)
	}
	if c.Object == "" {
		return errors.New("config: object is required")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored, so Progress and PathStyle can only be
// switched on this way.
func (c Config) Merge(override Config) Config {
	if override.URL != "" {
		c.URL = override.URL
	}
	if override.Bucket != "" {
		c.Bucket = override.Bucket
	}
	if override.Object != "" {
		c.Object = override.Object
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.ContentType != "" {
		c.ContentType = override.ContentType
	}
	if override.NotifyQueueURL != "" {
		c.NotifyQueueURL = override.NotifyQueueURL
	}
	if override.AWS.Profile != "" {
		c.AWS.Profile = override.AWS.Profile
	}
	if override.AWS.Region != "" {
		c.AWS.Region = override.AWS.Region
	}
	if override.AWS.Endpoint != "" {
		c.AWS.Endpoint = override.AWS.Endpoint
	}
	if override.AWS.PathStyle {
		c.AWS.PathStyle = override.AWS.PathStyle
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Delay != 0 {
		c.Retry.Delay = override.Retry.Delay
	}
	return c
}
