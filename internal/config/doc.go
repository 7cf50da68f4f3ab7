// Package config defines configuration structures for the b2b CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (B2B_ prefix), optionally from a .env file
//   - YAML configuration file
//
// Later sources win: defaults, then the file, then the environment, then
// flags.
//
// # Structure
//
//	type Config struct {
//	    URL            string
//	    Bucket         string // s3://bucket, minio://host:9000/bucket, gs://bucket, file:///dir
//	    Object         string
//	    ChunkSize      int64
//	    Progress       bool
//	    ContentType    string
//	    NotifyQueueURL string
//	    AWS            AWSConfig
//	    Retry          RetryConfig
//	}
//
//	type RetryConfig struct {
//	    Attempts int
//	    Delay    time.Duration
//	}
package config
