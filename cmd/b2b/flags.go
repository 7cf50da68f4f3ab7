package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/djgus/bucket2bucket/internal/config"
	"github.com/djgus/bucket2bucket/internal/progress"
)

// cliFlags holds the flags shared by every command. Values are only applied
// on top of the file and environment configuration when they were set.
type cliFlags struct {
	configPath string
	envFile    string
	verbose    bool

	bucket    string
	object    string
	chunkSize string
	profile   string
	region    string
	endpoint  string
	pathStyle bool
}

func (f *cliFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&f.envFile, "env-file", ".env", "Environment file loaded before reading B2B_* variables")
	fs.BoolVar(&f.verbose, "v", false, "Enable debug logging")

	fs.StringVar(&f.bucket, "bucket", "", "Destination bucket URL: s3://name, minio://host:port/name or a gocloud URL (required)")
	fs.StringVar(&f.object, "object", "", "Destination object key (required)")
	fs.StringVar(&f.chunkSize, "chunk-size", "", "Part size, e.g. 100MiB (default 100MiB)")
	fs.StringVar(&f.profile, "profile", "", "AWS shared config profile")
	fs.StringVar(&f.region, "region", "", "AWS region")
	fs.StringVar(&f.endpoint, "endpoint", "", "S3 endpoint override for S3-compatible services")
	fs.BoolVar(&f.pathStyle, "path-style", false, "Use path-style S3 addressing")
}

// load builds the configuration: defaults, then the -config file, then the
// environment (after loading -env-file), then the flags that were set.
func (f *cliFlags) load(fs *flag.FlagSet, extra func(name string, cfg *config.Config) error) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(f.configPath); err != nil {
			return config.Config{}, err
		}
	}

	if f.envFile != "" {
		if err := config.LoadDotEnv(f.envFile); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{
		Bucket: f.bucket,
		Object: f.object,
		AWS: config.AWSConfig{
			Profile:  f.profile,
			Region:   f.region,
			Endpoint: f.endpoint,
		},
	}
	if f.chunkSize != "" {
		size, err := progress.ParseBytes(f.chunkSize)
		if err != nil {
			return config.Config{}, fmt.Errorf("invalid -chunk-size: %w", err)
		}
		override.ChunkSize = size
	}
	cfg = cfg.Merge(override)

	var err error
	fs.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		if fl.Name == "path-style" {
			cfg.AWS.PathStyle = f.pathStyle
			return
		}
		if extra != nil {
			err = extra(fl.Name, &cfg)
		}
	})
	return cfg, err
}

// newLogger renders slog records with charmbracelet/log on stderr.
func newLogger(verbose bool) *slog.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		Prefix:          "b2b",
	})
	return slog.New(handler)
}
