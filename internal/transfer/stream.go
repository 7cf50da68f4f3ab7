package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Streamer opens the source as a sequence of chunks.
type Streamer struct {
	src       Source
	url       string
	chunkSize int64
	logger    *slog.Logger
}

func NewStreamer(src Source, url string, chunkSize int64, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Streamer{src: src, url: url, chunkSize: chunkSize, logger: logger}
}

// Open starts reading at offset. size is the probed source size; when the
// source reports its own total, ChunkStream.TotalSize returns that instead.
// Opening at the end of the source yields a stream with no chunks.
func (s *Streamer) Open(ctx context.Context, offset, size int64) (*ChunkStream, error) {
	if offset > size {
		return nil, fmt.Errorf("%w: resume offset %d is past the end at %d", ErrSourceShrunk, offset, size)
	}
	if offset == size {
		return &ChunkStream{total: size, offset: offset, done: true}, nil
	}

	resp, err := s.src.GetRange(ctx, s.url, offset, -1)
	if err != nil {
		return nil, fmt.Errorf("open source at %d: %w", offset, err)
	}

	total := size
	if resp.TotalSize > 0 {
		total = resp.TotalSize
	}
	if offset > 0 {
		s.logger.Debug("resuming source stream", "offset", offset, "total", total)
	}

	return &ChunkStream{
		body:   resp.Body,
		buf:    make([]byte, s.chunkSize),
		total:  total,
		offset: offset,
	}, nil
}

// ChunkStream yields chunkSize pieces of the source. It is read once from
// start to end and cannot be rewound.
type ChunkStream struct {
	body   io.ReadCloser
	buf    []byte
	total  int64
	offset int64
	read   int64
	done   bool
}

// TotalSize is the source length as known after opening.
func (c *ChunkStream) TotalSize() int64 {
	return c.total
}

// Offset is the source position of the next chunk.
func (c *ChunkStream) Offset() int64 {
	return c.offset + c.read
}

// Next returns the next chunk, or io.EOF once the source is exhausted. The
// returned slice is reused by the following call. Every chunk is full length
// except possibly the last; an empty chunk is never returned.
func (c *ChunkStream) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}

	n, err := io.ReadFull(c.body, c.buf)
	c.read += int64(n)
	switch {
	case err == nil:
		return c.buf, nil
	case errors.Is(err, io.EOF) && n == 0:
		c.done = true
		if c.Offset() < c.total {
			return nil, fmt.Errorf("%w at byte %d of %d", ErrStreamTruncated, c.Offset(), c.total)
		}
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		if c.Offset() < c.total {
			return nil, fmt.Errorf("%w at byte %d of %d", ErrStreamTruncated, c.Offset(), c.total)
		}
		return c.buf[:n], nil
	default:
		return nil, fmt.Errorf("read source at byte %d: %w", c.Offset(), err)
	}
}

// Close releases the underlying response.
func (c *ChunkStream) Close() error {
	if c.body == nil {
		return nil
	}
	return c.body.Close()
}
