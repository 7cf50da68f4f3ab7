package transfer

import (
	"context"

	b2bhttp "github.com/djgus/bucket2bucket/internal/http"
)

// Source reads the object being transferred.
type Source interface {
	Head(ctx context.Context, url string) (*b2bhttp.FileInfo, error)

	// GetRange reads length bytes from start; a negative length reads to
	// the end of the object.
	GetRange(ctx context.Context, url string, start, length int64) (*b2bhttp.RangeResponse, error)
}

var _ Source = (*b2bhttp.Client)(nil)

// Progress receives byte counts as a transfer moves along. It only displays
// them.
type Progress interface {
	// Skip counts bytes of parts the store already had.
	Skip(n int64)
	// Advance counts bytes uploaded by this run.
	Advance(n int64)
	// SetTotal replaces the total once the source reports a different size.
	SetTotal(total int64)
	Close()
}

// ProgressFunc creates the Progress for a run once the size and resume
// offset are known.
type ProgressFunc func(total, initial int64) Progress

type nopProgress struct{}

func (nopProgress) Skip(int64)     {}
func (nopProgress) Advance(int64)  {}
func (nopProgress) SetTotal(int64) {}
func (nopProgress) Close()         {}
