package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	b2bhttp "github.com/djgus/bucket2bucket/internal/http"
)

// Descriptor describes the source object.
type Descriptor struct {
	Size int64
	// Authoritative is true when the size came from the metadata probe and
	// false when it was read from a range response.
	Authoritative bool
	ETag          string
	ContentType   string
}

// Prober determines the source size.
type Prober struct {
	src    Source
	url    string
	logger *slog.Logger
}

func NewProber(src Source, url string, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Prober{src: src, url: url, logger: logger}
}

// Probe asks for the length with a HEAD request and falls back to reading the
// total from the Content-Range of a two byte range request. A HEAD that fails
// outright also falls through: presigned GET URLs commonly reject HEAD.
func (p *Prober) Probe(ctx context.Context) (Descriptor, error) {
	info, err := p.src.Head(ctx, p.url)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return Descriptor{}, ctx.Err()
		}
		info = nil
		p.logger.Debug("HEAD probe failed, trying range probe", "err", err)
	case info.Size > 0:
		return Descriptor{
			Size:          info.Size,
			Authoritative: true,
			ETag:          info.ETag,
			ContentType:   info.ContentType,
		}, nil
	default:
		p.logger.Debug("HEAD probe reported no length, trying range probe")
	}

	resp, err := p.src.GetRange(ctx, p.url, 0, 2)
	if err != nil {
		if ctx.Err() != nil {
			return Descriptor{}, ctx.Err()
		}
		return Descriptor{}, fmt.Errorf("%w: range probe: %w", ErrSizeUnknown, err)
	}
	// Drain the two bytes so the connection can be reused; a server that
	// ignored the range is not read to the end.
	_, _ = io.CopyN(io.Discard, resp.Body, 2)
	resp.Body.Close()

	if resp.TotalSize <= 0 {
		return Descriptor{}, ErrSizeUnknown
	}

	d := Descriptor{
		Size: resp.TotalSize,
		ETag: resp.ETag,
	}
	if info != nil {
		if d.ETag == "" {
			d.ETag = info.ETag
		}
		d.ContentType = info.ContentType
	}
	return d, nil
}

// redacted is the source URL safe for logs and metadata.
func redacted(url string) string {
	return b2bhttp.RedactURL(url)
}
