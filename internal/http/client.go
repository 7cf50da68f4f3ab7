package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Common errors.
var (
	ErrRangeNotSupported   = errors.New("http: server does not support range requests")
	ErrRangeNotSatisfiable = errors.New("http: requested range not satisfiable")
	ErrNotFound            = errors.New("http: resource not found")
	ErrForbidden           = errors.New("http: access forbidden")
	ErrUnauthorized        = errors.New("http: unauthorized")
	ErrServerError         = errors.New("http: server error")
	ErrInvalidContentRange = errors.New("http: invalid Content-Range")
	ErrRangeMismatch       = errors.New("http: response range does not start at the requested offset")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 4
	MaxIdleConnsPerHost int

	// HeaderTimeout bounds the wait for response headers. Bodies are read
	// for as long as the caller's context allows.
	// Default: 30s
	HeaderTimeout time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 4,
		HeaderTimeout:       30 * time.Second,
		UserAgent:           "bucket2bucket",
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	// Size is -1 when the server did not advertise a length.
	Size          int64
	ETag          string
	AcceptsRanges bool
	ContentType   string
	LastModified  time.Time
}

// RangeResponse represents a response from a range request.
type RangeResponse struct {
	Body          io.ReadCloser
	ContentLength int64
	// TotalSize is the full object length reported by the server, or -1.
	TotalSize int64
	ETag      string
	// Partial is true for a 206 response.
	Partial bool
}

// Client reads objects from an HTTP server.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = opts.MaxIdleConnsPerHost
	transport.ResponseHeaderTimeout = opts.HeaderTimeout
	transport.DisableCompression = true // We want raw bytes for range requests

	return &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	return req, nil
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, rawURL string) (*FileInfo, error) {
	req, err := c.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, err
	}

	info := &FileInfo{
		Size:          resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:   resp.Header.Get("Content-Type"),
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}

	return info, nil
}

// GetRange requests length bytes starting at start. A negative length reads
// to the end of the object; with start 0 that is a plain GET.
//
// A 200 answer to a ranged request is accepted only when start is 0, since
// the body then still begins at the requested offset.
func (c *Client) GetRange(ctx context.Context, rawURL string, start, length int64) (*RangeResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}

	ranged := true
	switch {
	case length == 0:
		return nil, fmt.Errorf("http: empty range at %d", start)
	case length > 0:
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, start+length-1))
	case start > 0:
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	default:
		ranged = false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		first, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		if first != start {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: requested %d, got %d", ErrRangeMismatch, start, first)
		}
		return &RangeResponse{
			Body:          resp.Body,
			ContentLength: resp.ContentLength,
			TotalSize:     total,
			ETag:          cleanETag(resp.Header.Get("ETag")),
			Partial:       true,
		}, nil

	case http.StatusOK:
		if ranged && start > 0 {
			resp.Body.Close()
			return nil, ErrRangeNotSupported
		}
		return &RangeResponse{
			Body:          resp.Body,
			ContentLength: resp.ContentLength,
			TotalSize:     resp.ContentLength,
			ETag:          cleanETag(resp.Header.Get("ETag")),
		}, nil

	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, ErrRangeNotSatisfiable
	}

	resp.Body.Close()
	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return fmt.Errorf("%w: %d", ErrServerError, code)
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// cleanETag removes quotes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	spec, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}
	rng, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: start byte: %v", ErrInvalidContentRange, err)
	}

	end, err = strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: end byte: %v", ErrInvalidContentRange, err)
	}

	if size == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(size, 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: total bytes: %v", ErrInvalidContentRange, err)
		}
	}

	if start < 0 || end < start || (total >= 0 && end >= total) {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}

	return start, end, total, nil
}

// RedactURL strips the query and user info from rawURL, which for presigned
// URLs carry credentials. Unparseable input is returned as "<invalid url>".
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
