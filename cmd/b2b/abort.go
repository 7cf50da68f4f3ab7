package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/djgus/bucket2bucket/internal/store"
	"github.com/djgus/bucket2bucket/internal/transfer"
)

// runAbort discards in-progress uploads for a destination object. This is
// the only way an upload is ever deleted. By default prompts for
// confirmation unless -force is specified.
func runAbort(args []string) int {
	fs := flag.NewFlagSet("abort", flag.ContinueOnError)

	var common cliFlags
	common.register(fs)
	force := fs.Bool("force", false, "Skip confirmation prompt")
	all := fs.Bool("all", false, "Abort every upload for the object, not only the one copy would resume")
	uploadID := fs.String("upload-id", "", "Abort only this upload")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: b2b abort [options]

Discard an in-progress multipart upload and all parts written to it.

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
	if err == nil && *all && *uploadID != "" {
		err = errors.New("-all and -upload-id are mutually exclusive")
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
	ids := pickUploads(uploads, *all, *uploadID)
	if len(ids) == 0 {
		logger.Info("no upload in progress", "target", dest.target.String())
		return ExitSuccess
	}

	// Confirm deletion unless -force
	if !*force {
		fmt.Printf("Abort %d upload(s) of %s (%s)? [y/N]: ", len(ids), dest.target, strings.Join(ids, ", "))
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return ExitSuccess
		}
	}

	code := ExitSuccess
	for _, id := range ids {
		if err := dest.store.AbortUpload(ctx, dest.target, id); err != nil {
			logger.Error("abort failed", "upload_id", id, "err", err)
			code = ExitError
			continue
		}
		logger.Info("aborted upload", "target", dest.target.String(), "upload_id", id)
	}
	return code
}

// pickUploads returns the upload IDs to abort: one named ID if it exists,
// every upload with all, or the one copy would resume.
func pickUploads(uploads []store.Upload, all bool, id string) []string {
	switch {
	case id != "":
		for _, u := range uploads {
			if u.ID == id {
				return []string{id}
			}
		}
		return nil
	case all:
		ids := make([]string, 0, len(uploads))
		for _, u := range uploads {
			ids = append(ids, u.ID)
		}
		return ids
	}
	chosen, _, ok := transfer.SelectUpload(uploads)
	if !ok {
		return nil
	}
	return []string{chosen.ID}
}
