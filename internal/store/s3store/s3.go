// Package s3store implements store.Store on top of the Amazon S3 multipart
// upload API using aws-sdk-go-v2.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/djgus/bucket2bucket/internal/store"
)

// API is the subset of the S3 client used by Store.
type API interface {
	ListMultipartUploads(
		ctx context.Context,
		params *s3.ListMultipartUploadsInput,
		optFns ...func(*s3.Options),
	) (*s3.ListMultipartUploadsOutput, error)

	ListParts(ctx context.Context, params *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)

	CreateMultipartUpload(
		ctx context.Context,
		params *s3.CreateMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.CreateMultipartUploadOutput, error)

	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)

	CompleteMultipartUpload(
		ctx context.Context,
		params *s3.CompleteMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.CompleteMultipartUploadOutput, error)

	AbortMultipartUpload(
		ctx context.Context,
		params *s3.AbortMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.AbortMultipartUploadOutput, error)

	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

var _ API = (*s3.Client)(nil)

// Store is a store.Store backed by S3.
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
	return &Store{
		client: client,
		logger: logger,
	}
}

// ListUploads pages through ListMultipartUploads with the key as prefix and
// keeps only exact key matches.
func (s *Store) ListUploads(ctx context.Context, t store.Target) ([]store.Upload, error) {
	input := &s3.ListMultipartUploadsInput{
		Bucket: aws.String(t.Bucket),
		Prefix: aws.String(t.Key),
	}

	var uploads []store.Upload
	for {
		out, err := s.client.ListMultipartUploads(ctx, input)
		if err != nil {
			return nil, store.NewError("listUploads", t, err)
		}

		for _, u := range out.Uploads {
			if aws.ToString(u.Key) != t.Key {
				continue
			}
			uploads = append(uploads, store.Upload{
				ID:        aws.ToString(u.UploadId),
				Key:       aws.ToString(u.Key),
				Initiated: aws.ToTime(u.Initiated),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.KeyMarker = out.NextKeyMarker
		input.UploadIdMarker = out.NextUploadIdMarker
	}

	return uploads, nil
}

// ListParts uses the SDK paginator, which follows NextPartNumberMarker.
func (s *Store) ListParts(ctx context.Context, t store.Target, uploadID string) ([]store.Part, error) {
	paginator := s3.NewListPartsPaginator(s.client, &s3.ListPartsInput{
		Bucket:   aws.String(t.Bucket),
		Key:      aws.String(t.Key),
		UploadId: aws.String(uploadID),
	})

	var parts []store.Part
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, store.NewError("listParts", t, translate(err))
		}
		for _, p := range page.Parts {
			parts = append(parts, store.Part{
				Number: aws.ToInt32(p.PartNumber),
				ETag:   aws.ToString(p.ETag),
				Size:   aws.ToInt64(p.Size),
			})
		}
	}

	store.SortParts(parts)
	return parts, nil
}

func (s *Store) CreateUpload(ctx context.Context, t store.Target, opts store.CreateOptions) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(t.Bucket),
		Key:    aws.String(t.Key),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}

	out, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", store.NewError("createUpload", t, err)
	}

	id := aws.ToString(out.UploadId)
	s.logger.Debug("created multipart upload", "bucket", t.Bucket, "key", t.Key, "upload_id", id)
	return id, nil
}

func (s *Store) UploadPart(ctx context.Context, t store.Target, uploadID string, n int32, data []byte) (store.Part, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(t.Bucket),
		Key:           aws.String(t.Key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(n),
		ContentLength: aws.Int64(int64(len(data))),
		Body:          bytes.NewReader(data),
	})
	if err != nil {
		return store.Part{}, store.NewError("uploadPart", t, translate(err))
	}

	return store.Part{
		Number: n,
		ETag:   aws.ToString(out.ETag),
		Size:   int64(len(data)),
	}, nil
}

func (s *Store) CompleteUpload(ctx context.Context, t store.Target, uploadID string, parts []store.Part) error {
	completed := make([]awstypes.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = awstypes.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		}
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(t.Bucket),
		Key:      aws.String(t.Key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return store.NewError("completeUpload", t, translate(err))
	}
	return nil
}

func (s *Store) AbortUpload(ctx context.Context, t store.Target, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(t.Bucket),
		Key:      aws.String(t.Key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return store.NewError("abortUpload", t, translate(err))
	}
	return nil
}

func (s *Store) HeadObject(ctx context.Context, t store.Target) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(t.Bucket),
		Key:    aws.String(t.Key),
	})
	if err != nil {
		return 0, store.NewError("headObject", t, translate(err))
	}
	return aws.ToInt64(out.ContentLength), nil
}

// translate maps S3 error types onto the store sentinels, keeping the
// original error in the chain.
func translate(err error) error {
	var (
		noSuchUpload *awstypes.NoSuchUpload
		notFound     *awstypes.NotFound
		noSuchKey    *awstypes.NoSuchKey
	)
	switch {
	case errors.As(err, &noSuchUpload):
		return errors.Join(store.ErrNoSuchUpload, err)
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		return errors.Join(store.ErrNotFound, err)
	case strings.Contains(err.Error(), "NoSuchUpload"):
		return errors.Join(store.ErrNoSuchUpload, err)
	}
	return err
}
