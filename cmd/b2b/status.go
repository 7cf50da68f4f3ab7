package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/djgus/bucket2bucket/internal/progress"
	"github.com/djgus/bucket2bucket/internal/transfer"
)

// runStatus reports the upload copy would resume for a destination object
// and how far it got. Nothing is modified.
func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)

	var common cliFlags
	common.register(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: b2b status [options]

Show the in-progress multipart upload for a destination object, the part
number and byte offset a copy would resume from, and any other uploads that
would be ignored.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg, err := common.load(fs, nil)
	if err == nil {
		err = cfg.ValidateTarget()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	logger := newLogger(common.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dest, err := openDestination(ctx, cfg, logger)
	if err != nil {
		logger.Error("cannot open destination", "bucket", cfg.Bucket, "err", err)
		return ExitError
	}
	defer dest.Close()

	uploads, err := dest.store.ListUploads(ctx, dest.target)
	if err != nil {
		logger.Error("cannot list uploads", "err", err)
		return ExitError
	}

	fmt.Printf("Object: %s\n", dest.target)
	chosen, ignored, ok := transfer.SelectUpload(uploads)
	if !ok {
		fmt.Println("Status: NO UPLOAD IN PROGRESS")
		return ExitSuccess
	}

	sess, err := transfer.NewResolver(dest.store, logger).Restore(ctx, dest.target, cfg.ChunkSize, chosen)
	if err != nil {
		logger.Error("cannot read upload", "upload_id", chosen.ID, "err", err)
		return ExitError
	}

	fmt.Println("Status: IN PROGRESS")
	fmt.Printf("Upload ID: %s\n", sess.ID)
	if !sess.Initiated.IsZero() {
		fmt.Printf("Initiated: %s\n", sess.Initiated.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Printf("Parts: %d (%s)\n", len(sess.Completed), progress.FormatBytes(sess.CompletedBytes()))
	fmt.Printf("Resumes at: part %d, byte %d (chunk size %s)\n",
		sess.NextPart, sess.ResumeOffset, progress.FormatBytes(cfg.ChunkSize))
	if sess.Gaps() {
		fmt.Printf("Gaps: yes, highest part is %d\n", sess.HighestPart())
	}

	if len(ignored) > 0 {
		fmt.Println("\nOther uploads (ignored by copy):")
		for _, id := range ignored {
			fmt.Printf("  - %s\n", id)
		}
	}

	return ExitSuccess
}
