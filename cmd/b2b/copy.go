package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/djgus/bucket2bucket/internal/config"
	b2bhttp "github.com/djgus/bucket2bucket/internal/http"
	"github.com/djgus/bucket2bucket/internal/progress"
	"github.com/djgus/bucket2bucket/internal/store"
	"github.com/djgus/bucket2bucket/internal/transfer"
)

// runCopy streams an HTTP URL into the destination bucket. An existing
// upload for the same object is resumed; an interrupted run leaves its
// upload in place for the next one.
func runCopy(args []string) int {
	fs := flag.NewFlagSet("copy", flag.ContinueOnError)

	var common cliFlags
	common.register(fs)
	sourceURL := fs.String("url", "", "Source URL, may be presigned (required)")
	showProgress := fs.Bool("progress", true, "Show a progress bar")
	contentType := fs.String("content-type", "", "Content type of the new object (default: taken from the source)")
	notifyQueue := fs.String("notify-queue", "", "SQS queue URL told about each completed transfer")
	retryAttempts := fs.Int("retry-attempts", 5, "Attempts per part, including the first")
	retryDelay := fs.Duration("retry-delay", 3*time.Second, "Delay between attempts of a part")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: b2b copy [options]

Stream a file from an HTTP URL into object storage as a multipart upload.
Running the same command again after an interruption resumes the upload.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg, err := common.load(fs, func(name string, cfg *config.Config) error {
		switch name {
		case "url":
			cfg.URL = *sourceURL
		case "progress":
			cfg.Progress = *showProgress
		case "content-type":
			cfg.ContentType = *contentType
		case "notify-queue":
			cfg.NotifyQueueURL = *notifyQueue
		case "retry-attempts":
			cfg.Retry.Attempts = *retryAttempts
		case "retry-delay":
			cfg.Retry.Delay = *retryDelay
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	logger := newLogger(common.verbose)

	// Setup context with cancellation
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	// Handle signals for a clean pause
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("received signal, pausing transfer", "signal", sig.String())
			cancel(fmt.Errorf("received %s", sig))
		case <-ctx.Done():
		}
	}()

	dest, err := openDestination(ctx, cfg, logger)
	if err != nil {
		logger.Error("cannot open destination", "bucket", cfg.Bucket, "err", err)
		return ExitError
	}
	defer dest.Close()

	notifier, err := openNotifier(ctx, cfg, logger)
	if err != nil {
		logger.Error("cannot set up notifications", "queue", cfg.NotifyQueueURL, "err", err)
		return ExitError
	}

	coord, err := transfer.New(b2bhttp.NewClient(b2bhttp.DefaultOptions()), dest.store, transfer.Options{
		URL:       cfg.URL,
		Target:    dest.target,
		ChunkSize: cfg.ChunkSize,
		Retry: transfer.RetryPolicy{
			Attempts: cfg.Retry.Attempts,
			Delay:    cfg.Retry.Delay,
		},
		MaxParts: cfg.MaxParts(),
		Create:   createOptions(cfg),
		NewProgress: func(total, initial int64) transfer.Progress {
			return progress.NewStderr(cfg.Progress, path.Base(cfg.Object), total, initial)
		},
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("invalid transfer options", "err", err)
		return ExitInvalidArgs
	}

	res, err := coord.Run(ctx)
	return report(logger, res, err)
}

func createOptions(cfg config.Config) store.CreateOptions {
	return store.CreateOptions{ContentType: cfg.ContentType}
}

// report logs the outcome of a run and picks the exit code. Every exit that
// leaves an upload behind says how to resume it.
func report(logger *slog.Logger, res *transfer.Result, err error) int {
	if err == nil {
		logger.Info("upload complete",
			"target", res.Target.String(),
			"size", progress.FormatBytes(res.Size),
			"uploaded", progress.FormatBytes(res.BytesUploaded),
			"skipped_parts", res.PartsSkipped,
			"elapsed", progress.FormatDuration(res.Duration),
			"rate", progress.Rate(res.BytesUploaded, res.Duration))
		if res.Mismatch != nil {
			logger.Warn("stored object size differs from source",
				"expected", res.Mismatch.Expected, "actual", res.Mismatch.Actual)
		}
		if res.VerifyErr != nil {
			logger.Warn("could not verify stored object", "err", res.VerifyErr)
		}
		return ExitSuccess
	}

	if errors.Is(err, transfer.ErrInterrupted) {
		logger.Info("transfer paused, run the same command again to resume",
			"upload_id", res.UploadID, "state", res.State.String())
		return ExitSuccess
	}

	var pe *transfer.PartUploadError
	switch {
	case errors.As(err, &pe):
		logger.Error("part upload failed", "part", pe.Part, "attempts", pe.Attempts, "err", pe.Err)
	case errors.Is(err, transfer.ErrSizeUnknown):
		logger.Error("cannot determine the source size; the server reports neither Content-Length nor a Content-Range total", "err", err)
	case errors.Is(err, transfer.ErrChunkSizeMismatch):
		logger.Error("existing upload was made with a different chunk size; use the same -chunk-size or abort it", "err", err)
	default:
		logger.Error("transfer failed", "err", err)
	}
	if res != nil && res.UploadID != "" {
		logger.Info("uploaded parts are kept, run the same command again to resume",
			"upload_id", res.UploadID)
	}
	return ExitError
}
