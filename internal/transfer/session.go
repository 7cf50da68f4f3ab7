package transfer

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/djgus/bucket2bucket/internal/store"
)

// Session is the coordinator's view of one multipart upload.
type Session struct {
	// ID is empty until the upload has been created in the store.
	ID        string
	Target    store.Target
	ChunkSize int64
	Initiated time.Time

	// Completed maps part number to ETag for every part the store holds.
	Completed map[int32]string

	// NextPart is the part number of the first chunk the stream produces.
	NextPart int32

	// ResumeOffset is where streaming starts: ChunkSize times the number of
	// parts in the gap-free run 1..NextPart-1.
	ResumeOffset int64

	// parts is kept sorted by number.
	parts []store.Part
}

func newSession(t store.Target, chunkSize int64) *Session {
	return &Session{
		Target:    t,
		ChunkSize: chunkSize,
		Completed: make(map[int32]string),
		NextPart:  1,
	}
}

// restoreSession rebuilds a session from a store listing.
func restoreSession(u store.Upload, t store.Target, chunkSize int64, listed []store.Part) *Session {
	s := newSession(t, chunkSize)
	s.ID = u.ID
	s.Initiated = u.Initiated
	for _, p := range listed {
		s.record(p)
	}

	var prefix int32
	for _, p := range s.parts {
		if p.Number != prefix+1 {
			break
		}
		prefix = p.Number
	}
	s.NextPart = prefix + 1
	s.ResumeOffset = int64(prefix) * chunkSize
	return s
}

// IsNew reports whether the upload still has to be created.
func (s *Session) IsNew() bool {
	return s.ID == ""
}

// Done reports whether the store already holds part n.
func (s *Session) Done(n int32) bool {
	_, ok := s.Completed[n]
	return ok
}

// Gaps reports whether some completed part comes after a missing one.
func (s *Session) Gaps() bool {
	return len(s.parts) > 0 && s.parts[len(s.parts)-1].Number != int32(len(s.parts))
}

// HighestPart returns the largest completed part number, or 0.
func (s *Session) HighestPart() int32 {
	if len(s.parts) == 0 {
		return 0
	}
	return s.parts[len(s.parts)-1].Number
}

// CompletedBytes sums the sizes of the completed parts.
func (s *Session) CompletedBytes() int64 {
	var n int64
	for _, p := range s.parts {
		n += p.Size
	}
	return n
}

// Parts returns a copy of the completed parts in part number order.
func (s *Session) Parts() []store.Part {
	return slices.Clone(s.parts)
}

// record adds p in order, replacing an earlier entry with the same number.
func (s *Session) record(p store.Part) {
	s.Completed[p.Number] = p.ETag
	i, found := slices.BinarySearchFunc(s.parts, p.Number, func(e store.Part, n int32) int {
		return cmp.Compare(e.Number, n)
	})
	if found {
		s.parts[i] = p
		return
	}
	s.parts = slices.Insert(s.parts, i, p)
}

// Validate checks the completed parts against a source of size bytes: each
// must sit inside the source and be exactly as long as the chunk cut from
// that position.
func (s *Session) Validate(size int64) error {
	for _, p := range s.parts {
		start := int64(p.Number-1) * s.ChunkSize
		if start >= size {
			return fmt.Errorf("%w: part %d starts at byte %d of a %d byte source", ErrSourceShrunk, p.Number, start, size)
		}
		want := min(s.ChunkSize, size-start)
		if p.Size != want {
			return fmt.Errorf("%w: part %d is %d bytes, expected %d", ErrChunkSizeMismatch, p.Number, p.Size, want)
		}
	}
	return nil
}

// PartCount returns the number of chunkSize parts needed for size bytes.
func PartCount(size, chunkSize int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}
