package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"
)

// Target identifies the destination object.
type Target struct {
	Bucket string
	Key    string
}

func (t Target) String() string {
	return t.Bucket + "/" + t.Key
}

// Upload describes an in-progress multipart upload.
type Upload struct {
	ID        string
	Key       string
	Initiated time.Time
}

// Part is one uploaded unit of a multipart upload.
type Part struct {
	Number int32
	ETag   string
	Size   int64
}

// CreateOptions are applied to the object when a new upload is created.
type CreateOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Store is a destination that supports resumable multipart uploads.
type Store interface {
	// ListUploads returns the in-progress uploads whose key is exactly t.Key.
	ListUploads(ctx context.Context, t Target) ([]Upload, error)

	// ListParts returns every part recorded for the upload, sorted by number.
	// Implementations page through the listing themselves.
	ListParts(ctx context.Context, t Target, uploadID string) ([]Part, error)

	// CreateUpload starts a new upload and returns its ID.
	CreateUpload(ctx context.Context, t Target, opts CreateOptions) (string, error)

	// UploadPart stores data as part number n. data is only valid for the
	// duration of the call.
	UploadPart(ctx context.Context, t Target, uploadID string, n int32, data []byte) (Part, error)

	// CompleteUpload assembles the parts, which must be sorted by number.
	CompleteUpload(ctx context.Context, t Target, uploadID string, parts []Part) error

	// AbortUpload discards the upload and every part written to it.
	AbortUpload(ctx context.Context, t Target, uploadID string) error

	// HeadObject returns the size of the completed object.
	HeadObject(ctx context.Context, t Target) (int64, error)
}

// SortParts sorts parts by part number in place.
func SortParts(parts []Part) {
	slices.SortFunc(parts, func(a, b Part) int { return cmp.Compare(a.Number, b.Number) })
}

// CheckContiguous reports ErrInvalidParts unless parts is sorted and numbered
// exactly 1..len(parts).
func CheckContiguous(parts []Part) error {
	for i, p := range parts {
		if p.Number != int32(i+1) {
			return fmt.Errorf("%w: expected part %d at position %d, got %d", ErrInvalidParts, i+1, i, p.Number)
		}
	}
	return nil
}
