package transfer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/djgus/bucket2bucket/internal/store"
)

// RetryPolicy bounds the attempts made for a single part.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay is the fixed wait between two tries.
	Delay time.Duration
}

// Uploader uploads one chunk as one part, retrying failures.
type Uploader struct {
	store  store.Store
	policy RetryPolicy
	logger *slog.Logger

	// timer replaces the wall clock between attempts in tests.
	timer backoff.Timer
}

func NewUploader(st store.Store, policy RetryPolicy, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Uploader{store: st, policy: policy, logger: logger}
}

// Upload sends chunk as part n of the upload. It makes at most
// policy.Attempts attempts with policy.Delay between consecutive ones and
// returns a *PartUploadError when all of them fail. Context cancellation is
// returned as is and never retried, and neither is a missing upload.
func (u *Uploader) Upload(ctx context.Context, t store.Target, uploadID string, n int32, chunk []byte) (store.Part, error) {
	attempt := 0
	op := func() (store.Part, error) {
		if err := ctx.Err(); err != nil {
			return store.Part{}, backoff.Permanent(err)
		}
		attempt++
		p, err := u.store.UploadPart(ctx, t, uploadID, n, chunk)
		switch {
		case err == nil:
			return p, nil
		case ctx.Err() != nil:
			return store.Part{}, backoff.Permanent(ctx.Err())
		case errors.Is(err, store.ErrNoSuchUpload):
			return store.Part{}, backoff.Permanent(err)
		}
		return store.Part{}, err
	}

	notify := func(err error, next time.Duration) {
		u.logger.Warn("part upload failed, retrying",
			"part", n, "attempt", attempt, "max_attempts", u.policy.Attempts, "retry_in", next, "err", err)
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(u.policy.Delay)
	b = backoff.WithMaxRetries(b, uint64(u.policy.Attempts-1))
	b = backoff.WithContext(b, ctx)

	var (
		part store.Part
		err  error
	)
	if u.timer != nil {
		part, err = backoff.RetryNotifyWithTimerAndData(op, b, notify, u.timer)
	} else {
		part, err = backoff.RetryNotifyWithData(op, b, notify)
	}
	if err == nil {
		return part, nil
	}
	if ctx.Err() != nil {
		return store.Part{}, ctx.Err()
	}

	u.logger.Error("part upload failed",
		"part", n, "attempt", attempt, "max_attempts", u.policy.Attempts, "err", err)
	return store.Part{}, &PartUploadError{Part: n, Attempts: attempt, Err: err}
}
