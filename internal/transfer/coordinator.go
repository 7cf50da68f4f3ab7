package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/djgus/bucket2bucket/internal/notify"
	"github.com/djgus/bucket2bucket/internal/store"
)

// State is the coordinator's position in a run.
type State int32

const (
	StateIdle State = iota
	StateResolving
	StateSizing
	StateStreaming
	StateFinalizing
	StateVerified
	StateAborted
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateSizing:
		return "sizing"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateVerified:
		return "verified"
	case StateAborted:
		return "aborted"
	case StateInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configures a Coordinator.
type Options struct {
	// URL is the source object.
	URL string

	Target    store.Target
	ChunkSize int64
	Retry     RetryPolicy

	// MaxParts is the store's part limit; 0 means unlimited.
	MaxParts int

	// Create is applied when a new upload is started. The source URL
	// (without query) and ETag are added to its metadata.
	Create store.CreateOptions

	// NewProgress creates the progress display. nil shows nothing.
	NewProgress ProgressFunc

	// Notifier, when set, is told about every verified transfer.
	Notifier notify.Notifier

	Logger *slog.Logger
}

// Result summarizes a run. It is returned together with any error so the
// caller can always report the upload ID.
type Result struct {
	State    State
	UploadID string
	Target   store.Target
	Resumed  bool

	// Size is the source length the transfer worked against.
	Size int64

	PartsUploaded int
	PartsSkipped  int
	BytesUploaded int64

	// Parts is the list submitted for completion.
	Parts []store.Part

	// Mismatch is set when the completed object's length differs from Size.
	Mismatch *SizeMismatch
	// VerifyErr is set when the completed object could not be inspected.
	VerifyErr error
	// NotifyErr is set when the completion notification failed.
	NotifyErr error

	Duration time.Duration
}

// Coordinator runs one transfer.
type Coordinator struct {
	opts     Options
	store    store.Store
	prober   *Prober
	resolver *Resolver
	streamer *Streamer
	uploader *Uploader
	logger   *slog.Logger

	state atomic.Int32
}

// New validates opts and returns a Coordinator reading from src and writing
// to st.
func New(src Source, st store.Store, opts Options) (*Coordinator, error) {
	switch {
	case src == nil || st == nil:
		return nil, errors.New("transfer: source and store are required")
	case opts.URL == "":
		return nil, errors.New("transfer: source URL is required")
	case opts.Target.Key == "":
		return nil, errors.New("transfer: destination key is required")
	case opts.ChunkSize <= 0:
		return nil, errors.New("transfer: chunk size must be positive")
	case opts.Retry.Attempts < 1:
		return nil, errors.New("transfer: retry attempts must be at least 1")
	case opts.Retry.Delay < 0:
		return nil, errors.New("transfer: retry delay must not be negative")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("target", opts.Target.String())

	return &Coordinator{
		opts:     opts,
		store:    st,
		prober:   NewProber(src, opts.URL, logger),
		resolver: NewResolver(st, logger),
		streamer: NewStreamer(src, opts.URL, opts.ChunkSize, logger),
		uploader: NewUploader(st, opts.Retry, logger),
		logger:   logger,
	}, nil
}

// State returns the current state. It is safe to call while Run is in
// progress.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug("state", "state", s.String())
}

// Run performs the transfer. The returned error is nil once the upload has
// been completed, even when verification found a problem (see
// Result.Mismatch and Result.VerifyErr). A cancelled ctx yields
// ErrInterrupted; any other failure leaves the upload in the store.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{Target: c.opts.Target}
	defer func() {
		res.State = c.State()
		res.Duration = time.Since(start)
	}()

	c.setState(StateResolving)
	sess, err := c.resolver.Resolve(ctx, c.opts.Target, c.opts.ChunkSize)
	if err != nil {
		return res, c.fail(ctx, res, err)
	}
	res.UploadID = sess.ID
	res.Resumed = !sess.IsNew()
	if res.Resumed {
		c.logger.Info("resuming upload", "upload_id", sess.ID,
			"parts", len(sess.Completed), "resume_offset", sess.ResumeOffset)
	}

	c.setState(StateSizing)
	desc, err := c.prober.Probe(ctx)
	if err != nil {
		return res, c.fail(ctx, res, err)
	}
	size := desc.Size
	res.Size = size
	c.logger.Info("source size", "bytes", size, "authoritative", desc.Authoritative, "etag", desc.ETag)

	if err := c.checkSize(sess, size); err != nil {
		return res, c.fail(ctx, res, err)
	}

	if sess.IsNew() {
		if err := c.resolver.Create(ctx, sess, c.createOptions(desc)); err != nil {
			return res, c.fail(ctx, res, err)
		}
		res.UploadID = sess.ID
		c.logger.Info("started upload", "upload_id", sess.ID)
	}

	c.setState(StateStreaming)
	progress := c.newProgress(size, sess.ResumeOffset)
	defer progress.Close()

	stream, err := c.streamer.Open(ctx, sess.ResumeOffset, size)
	if err != nil {
		return res, c.fail(ctx, res, err)
	}
	defer stream.Close()

	if total := stream.TotalSize(); total != size {
		c.logger.Info("source reported a different size after opening, using it", "probed", size, "reported", total)
		size = total
		res.Size = size
		progress.SetTotal(size)
		if err := c.checkSize(sess, size); err != nil {
			return res, c.fail(ctx, res, err)
		}
	}

	n := sess.NextPart
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, c.fail(ctx, res, err)
		}

		if sess.Done(n) {
			progress.Skip(int64(len(chunk)))
			res.PartsSkipped++
			n++
			continue
		}

		p, err := c.uploader.Upload(ctx, c.opts.Target, sess.ID, n, chunk)
		if err != nil {
			return res, c.fail(ctx, res, err)
		}
		sess.record(p)
		progress.Advance(int64(len(chunk)))
		res.PartsUploaded++
		res.BytesUploaded += int64(len(chunk))
		n++
	}

	c.setState(StateFinalizing)
	parts := sess.Parts()
	res.Parts = parts
	if err := checkComplete(parts, size, c.opts.ChunkSize); err != nil {
		return res, c.fail(ctx, res, err)
	}
	if err := c.store.CompleteUpload(ctx, c.opts.Target, sess.ID, parts); err != nil {
		return res, c.fail(ctx, res, fmt.Errorf("complete upload: %w", err))
	}

	c.setState(StateVerified)
	c.verify(ctx, res, size)
	c.notify(ctx, res)
	c.logger.Info("transfer complete", "upload_id", sess.ID, "bytes", size,
		"parts_uploaded", res.PartsUploaded, "parts_skipped", res.PartsSkipped)
	return res, nil
}

// fail moves to Interrupted when ctx was cancelled and to Aborted otherwise.
func (c *Coordinator) fail(ctx context.Context, res *Result, err error) error {
	if ctx.Err() != nil {
		c.setState(StateInterrupted)
		c.logger.Info("transfer paused", "upload_id", res.UploadID, "err", err)
		return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
	}
	c.setState(StateAborted)
	return err
}

func (c *Coordinator) checkSize(sess *Session, size int64) error {
	if c.opts.MaxParts > 0 {
		if n := PartCount(size, c.opts.ChunkSize); n > int64(c.opts.MaxParts) {
			return fmt.Errorf("%w: %d bytes in %d byte chunks is %d parts, limit is %d",
				ErrTooManyParts, size, c.opts.ChunkSize, n, c.opts.MaxParts)
		}
	}
	return sess.Validate(size)
}

func (c *Coordinator) createOptions(desc Descriptor) store.CreateOptions {
	opts := store.CreateOptions{
		ContentType: c.opts.Create.ContentType,
		Metadata:    maps.Clone(c.opts.Create.Metadata),
	}
	if opts.ContentType == "" {
		opts.ContentType = desc.ContentType
	}
	if opts.Metadata == nil {
		opts.Metadata = make(map[string]string)
	}
	opts.Metadata["source-url"] = redacted(c.opts.URL)
	if desc.ETag != "" {
		opts.Metadata["source-etag"] = desc.ETag
	}
	return opts
}

func (c *Coordinator) newProgress(total, initial int64) Progress {
	if c.opts.NewProgress == nil {
		return nopProgress{}
	}
	if p := c.opts.NewProgress(total, initial); p != nil {
		return p
	}
	return nopProgress{}
}

// checkComplete requires parts to be exactly 1..PartCount(size, chunkSize).
func checkComplete(parts []store.Part, size, chunkSize int64) error {
	if err := store.CheckContiguous(parts); err != nil {
		return err
	}
	if want := PartCount(size, chunkSize); int64(len(parts)) != want {
		return fmt.Errorf("%w: have %d parts, a %d byte object needs %d", store.ErrInvalidParts, len(parts), size, want)
	}
	return nil
}

func (c *Coordinator) verify(ctx context.Context, res *Result, size int64) {
	got, err := c.store.HeadObject(ctx, c.opts.Target)
	if err != nil {
		res.VerifyErr = err
		c.logger.Warn("could not read completed object size", "err", err)
		return
	}
	if got != size {
		res.Mismatch = &SizeMismatch{Expected: size, Actual: got}
		c.logger.Warn("completed object size differs from source", "expected", size, "actual", got)
	}
}

func (c *Coordinator) notify(ctx context.Context, res *Result) {
	if c.opts.Notifier == nil {
		return
	}
	stored := res.Size
	if res.Mismatch != nil {
		stored = res.Mismatch.Actual
	}
	err := c.opts.Notifier.NotifyComplete(ctx, notify.Completion{
		Bucket:      c.opts.Target.Bucket,
		Key:         c.opts.Target.Key,
		UploadID:    res.UploadID,
		SourceURL:   redacted(c.opts.URL),
		Size:        res.Size,
		StoredSize:  stored,
		SizeMatches: res.Mismatch == nil && res.VerifyErr == nil,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		res.NotifyErr = err
		c.logger.Warn("completion notification failed", "err", err)
	}
}
