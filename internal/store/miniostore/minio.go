// Package miniostore implements store.Store with the low-level minio-go Core
// client, for MinIO and other S3-compatible servers.
package miniostore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/minio/minio-go/v7"

	"github.com/djgus/bucket2bucket/internal/store"
)

// API is the subset of minio.Core used by Store.
type API interface {
	ListMultipartUploads(
		ctx context.Context,
		bucket, prefix, keyMarker, uploadIDMarker, delimiter string,
		maxUploads int,
	) (minio.ListMultipartUploadsResult, error)

	ListObjectParts(
		ctx context.Context,
		bucket, object, uploadID string,
		partNumberMarker, maxParts int,
	) (minio.ListObjectPartsResult, error)

	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)

	PutObjectPart(
		ctx context.Context,
		bucket, object, uploadID string,
		partID int,
		data io.Reader,
		size int64,
		opts minio.PutObjectPartOptions,
	) (minio.ObjectPart, error)

	CompleteMultipartUpload(
		ctx context.Context,
		bucket, object, uploadID string,
		parts []minio.CompletePart,
		opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)

	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error

	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

var _ API = (*minio.Core)(nil)

// listPageSize matches the S3 default for both listings.
const listPageSize = 1000

// Store is a store.Store backed by a MinIO Core client.
type Store struct {
	client API
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New returns a Store using client. A nil logger discards output.
func New(client API, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{client: client, logger: logger}
}

func (s *Store) ListUploads(ctx context.Context, t store.Target) ([]store.Upload, error) {
	var (
		uploads                   []store.Upload
		keyMarker, uploadIDMarker string
	)
	for {
		res, err := s.client.ListMultipartUploads(ctx, t.Bucket, t.Key, keyMarker, uploadIDMarker, "", listPageSize)
		if err != nil {
			return nil, store.NewError("listUploads", t, translate(err))
		}
		for _, u := range res.Uploads {
			if u.Key != t.Key {
				continue
			}
			uploads = append(uploads, store.Upload{
				ID:        u.UploadID,
				Key:       u.Key,
				Initiated: u.Initiated,
			})
		}
		if !res.IsTruncated {
			break
		}
		keyMarker, uploadIDMarker = res.NextKeyMarker, res.NextUploadIDMarker
	}
	return uploads, nil
}

func (s *Store) ListParts(ctx context.Context, t store.Target, uploadID string) ([]store.Part, error) {
	var (
		parts  []store.Part
		marker int
	)
	for {
		res, err := s.client.ListObjectParts(ctx, t.Bucket, t.Key, uploadID, marker, listPageSize)
		if err != nil {
			return nil, store.NewError("listParts", t, translate(err))
		}
		for _, p := range res.ObjectParts {
			parts = append(parts, store.Part{
				Number: int32(p.PartNumber),
				ETag:   p.ETag,
				Size:   p.Size,
			})
		}
		if !res.IsTruncated || res.NextPartNumberMarker <= marker {
			break
		}
		marker = res.NextPartNumberMarker
	}

	store.SortParts(parts)
	return parts, nil
}

func (s *Store) CreateUpload(ctx context.Context, t store.Target, opts store.CreateOptions) (string, error) {
	id, err := s.client.NewMultipartUpload(ctx, t.Bucket, t.Key, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return "", store.NewError("createUpload", t, translate(err))
	}
	s.logger.Debug("created multipart upload", "bucket", t.Bucket, "key", t.Key, "upload_id", id)
	return id, nil
}

func (s *Store) UploadPart(ctx context.Context, t store.Target, uploadID string, n int32, data []byte) (store.Part, error) {
	p, err := s.client.PutObjectPart(ctx, t.Bucket, t.Key, uploadID, int(n),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return store.Part{}, store.NewError("uploadPart", t, translate(err))
	}
	return store.Part{Number: n, ETag: p.ETag, Size: int64(len(data))}, nil
}

func (s *Store) CompleteUpload(ctx context.Context, t store.Target, uploadID string, parts []store.Part) error {
	completed := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completed[i] = minio.CompletePart{PartNumber: int(p.Number), ETag: p.ETag}
	}
	if _, err := s.client.CompleteMultipartUpload(ctx, t.Bucket, t.Key, uploadID, completed, minio.PutObjectOptions{}); err != nil {
		return store.NewError("completeUpload", t, translate(err))
	}
	return nil
}

func (s *Store) AbortUpload(ctx context.Context, t store.Target, uploadID string) error {
	if err := s.client.AbortMultipartUpload(ctx, t.Bucket, t.Key, uploadID); err != nil {
		return store.NewError("abortUpload", t, translate(err))
	}
	return nil
}

func (s *Store) HeadObject(ctx context.Context, t store.Target) (int64, error) {
	info, err := s.client.StatObject(ctx, t.Bucket, t.Key, minio.StatObjectOptions{})
	if err != nil {
		return 0, store.NewError("headObject", t, translate(err))
	}
	return info.Size, nil
}

func translate(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchUpload":
		return errors.Join(store.ErrNoSuchUpload, err)
	case resp.Code == "NoSuchKey", resp.Code == "NotFound", resp.StatusCode == http.StatusNotFound:
		return errors.Join(store.ErrNotFound, err)
	}
	return err
}
