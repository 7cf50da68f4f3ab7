package transfer

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/djgus/bucket2bucket/internal/store"
)

// Resolver finds the upload a run should continue.
type Resolver struct {
	store  store.Store
	logger *slog.Logger
}

func NewResolver(st store.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{store: st, logger: logger}
}

// SelectUpload picks the upload to resume: the most recently initiated one,
// ties broken by the greater upload ID. It returns the IDs of the others.
func SelectUpload(uploads []store.Upload) (chosen store.Upload, ignored []string, ok bool) {
	if len(uploads) == 0 {
		return store.Upload{}, nil, false
	}

	sorted := slices.Clone(uploads)
	slices.SortFunc(sorted, func(a, b store.Upload) int {
		if c := b.Initiated.Compare(a.Initiated); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	for _, u := range sorted[1:] {
		ignored = append(ignored, u.ID)
	}
	return sorted[0], ignored, true
}

// Resolve returns the session to continue for t, rebuilt from the parts the
// store holds. When there is none it returns a session with no ID and no
// parts; Create registers it with the store.
func (r *Resolver) Resolve(ctx context.Context, t store.Target, chunkSize int64) (*Session, error) {
	uploads, err := r.store.ListUploads(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}

	u, ignored, ok := SelectUpload(uploads)
	if !ok {
		r.logger.Debug("no upload in progress", "target", t.String())
		return newSession(t, chunkSize), nil
	}
	if len(ignored) > 0 {
		r.logger.Warn("multiple uploads in progress for target, resuming the most recent",
			"target", t.String(), "upload_id", u.ID, "ignored", ignored)
	}
	return r.Restore(ctx, t, chunkSize, u)
}

// Restore rebuilds the session of upload u from the parts the store holds.
func (r *Resolver) Restore(ctx context.Context, t store.Target, chunkSize int64, u store.Upload) (*Session, error) {
	parts, err := r.store.ListParts(ctx, t, u.ID)
	if err != nil {
		return nil, fmt.Errorf("list parts of %s: %w", u.ID, err)
	}

	s := restoreSession(u, t, chunkSize, parts)
	if s.Gaps() {
		r.logger.Warn("uploaded parts are not contiguous, missing parts will be uploaded",
			"upload_id", s.ID, "first_missing", s.NextPart, "highest", s.HighestPart())
	}
	return s, nil
}

// Create starts the upload for a session returned by Resolve without an ID.
func (r *Resolver) Create(ctx context.Context, s *Session, opts store.CreateOptions) error {
	if !s.IsNew() {
		return nil
	}
	id, err := r.store.CreateUpload(ctx, s.Target, opts)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	s.ID = id
	return nil
}
