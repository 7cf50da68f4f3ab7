package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrSizeUnknown means neither the metadata probe nor the range probe
	// reported a positive length.
	ErrSizeUnknown = errors.New("transfer: could not determine source size")

	// ErrPartUploadFailed is matched by every *PartUploadError.
	ErrPartUploadFailed = errors.New("transfer: part upload failed")

	// ErrInterrupted is returned when the run's context is cancelled.
	ErrInterrupted = errors.New("transfer: interrupted")

	// ErrChunkSizeMismatch means the parts already in the store were cut with
	// a different chunk size than the one configured.
	ErrChunkSizeMismatch = errors.New("transfer: stored part size does not match chunk size")

	// ErrSourceShrunk means the store holds parts past the end of the source.
	ErrSourceShrunk = errors.New("transfer: source is smaller than the uploaded parts")

	// ErrStreamTruncated means the source stream ended before its reported
	// length.
	ErrStreamTruncated = errors.New("transfer: source stream ended early")

	// ErrTooManyParts means the object would need more parts than the store
	// accepts at the configured chunk size.
	ErrTooManyParts = errors.New("transfer: too many parts for chunk size")
)

// PartUploadError is returned when a part could not be uploaded within the
// retry budget.
type PartUploadError struct {
	Part     int32
	Attempts int
	Err      error
}

func (e *PartUploadError) Error() string {
	return fmt.Sprintf("transfer: part %d failed after %d attempts: %v", e.Part, e.Attempts, e.Err)
}

func (e *PartUploadError) Unwrap() []error {
	return []error{ErrPartUploadFailed, e.Err}
}

// SizeMismatch reports a completed object whose stored length differs from
// the source length. It is a warning, the transfer is still complete.
type SizeMismatch struct {
	Expected int64
	Actual   int64
}

func (m *SizeMismatch) Error() string {
	return fmt.Sprintf("transfer: stored object is %d bytes, source is %d bytes", m.Actual, m.Expected)
}
