package blobstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/djgus/bucket2bucket/internal/store"
)

func openBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func countObjects(t *testing.T, ctx context.Context, bucket *blob.Bucket, prefix string) int {
	t.Helper()
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})
	count := 0
	for {
		_, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	return count
}

var target = store.Target{Bucket: "mem", Key: "data/archive.tar"}

func TestUploadLifecycle(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	s := New(bucket, nil)

	id, err := s.CreateUpload(ctx, target, store.CreateOptions{
		ContentType: "application/x-tar",
		Metadata:    map[string]string{"source": "test"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	uploads, err := s.ListUploads(ctx, target)
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, id, uploads[0].ID)
	assert.Equal(t, target.Key, uploads[0].Key)

	chunks := [][]byte{
		bytes.Repeat([]byte("a"), 1024),
		bytes.Repeat([]byte("b"), 1024),
		bytes.Repeat([]byte("c"), 100),
	}
	var parts []store.Part
	// Upload out of order to check ListParts sorting.
	for _, i := range []int{2, 0, 1} {
		p, err := s.UploadPart(ctx, target, id, int32(i+1), chunks[i])
		require.NoError(t, err)
		sum := md5.Sum(chunks[i])
		assert.Equal(t, hex.EncodeToString(sum[:]), p.ETag)
		parts = append(parts, p)
	}

	listed, err := s.ListParts(ctx, target, id)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, p := range listed {
		assert.Equal(t, int32(i+1), p.Number)
		assert.Equal(t, int64(len(chunks[i])), p.Size)
	}

	store.SortParts(parts)
	require.NoError(t, s.CompleteUpload(ctx, target, id, parts))

	got, err := bucket.ReadAll(ctx, target.Key)
	require.NoError(t, err)
	assert.Equal(t, bytes.Join(chunks, nil), got)

	attrs, err := bucket.Attributes(ctx, target.Key)
	require.NoError(t, err)
	assert.Equal(t, "application/x-tar", attrs.ContentType)
	assert.Equal(t, "test", attrs.Metadata["source"])

	size, err := s.HeadObject(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, int64(2148), size)

	assert.Zero(t, countObjects(t, ctx, bucket, uploadsPrefix(target.Key)))
	uploads, err = s.ListUploads(ctx, target)
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestCompleteRejectsGaps(t *testing.T) {
	ctx := context.Background()
	s := New(openBucket(t), nil)

	id, err := s.CreateUpload(ctx, target, store.CreateOptions{})
	require.NoError(t, err)
	p1, err := s.UploadPart(ctx, target, id, 1, []byte("one"))
	require.NoError(t, err)
	p3, err := s.UploadPart(ctx, target, id, 3, []byte("three"))
	require.NoError(t, err)

	err = s.CompleteUpload(ctx, target, id, []store.Part{p1, p3})
	assert.ErrorIs(t, err, store.ErrInvalidParts)

	err = s.CompleteUpload(ctx, target, id, []store.Part{p1, {Number: 2, ETag: "x"}})
	assert.ErrorIs(t, err, store.ErrInvalidParts)
}

func TestCompleteSniffsContentType(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	s := New(bucket, nil)

	id, err := s.CreateUpload(ctx, target, store.CreateOptions{})
	require.NoError(t, err)
	p, err := s.UploadPart(ctx, target, id, 1, []byte("%PDF-1.7\n%âãÏÓ\n1 0 obj\n"))
	require.NoError(t, err)
	require.NoError(t, s.CompleteUpload(ctx, target, id, []store.Part{p}))

	attrs, err := bucket.Attributes(ctx, target.Key)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", attrs.ContentType)
}

func TestListUploadsIsExactKey(t *testing.T) {
	ctx := context.Background()
	s := New(openBucket(t), nil)

	_, err := s.CreateUpload(ctx, store.Target{Key: "data/archive.tar.gz"}, store.CreateOptions{})
	require.NoError(t, err)

	uploads, err := s.ListUploads(ctx, target)
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestMultipleUploadsKeepInitiated(t *testing.T) {
	ctx := context.Background()
	s := New(openBucket(t), nil)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	first, err := s.CreateUpload(ctx, target, store.CreateOptions{})
	require.NoError(t, err)
	s.now = func() time.Time { return base.Add(time.Hour) }
	second, err := s.CreateUpload(ctx, target, store.CreateOptions{})
	require.NoError(t, err)

	uploads, err := s.ListUploads(ctx, target)
	require.NoError(t, err)
	require.Len(t, uploads, 2)

	byID := map[string]time.Time{}
	for _, u := range uploads {
		byID[u.ID] = u.Initiated
	}
	assert.Equal(t, base, byID[first])
	assert.Equal(t, base.Add(time.Hour), byID[second])
}

func TestAbortUpload(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	s := New(bucket, nil)

	id, err := s.CreateUpload(ctx, target, store.CreateOptions{})
	require.NoError(t, err)
	_, err = s.UploadPart(ctx, target, id, 1, []byte("data"))
	require.NoError(t, err)

	require.NoError(t, s.AbortUpload(ctx, target, id))
	assert.Zero(t, countObjects(t, ctx, bucket, ""))

	_, err = s.ListParts(ctx, target, id)
	assert.ErrorIs(t, err, store.ErrNoSuchUpload)
	_, err = s.UploadPart(ctx, target, id, 2, []byte("late"))
	assert.ErrorIs(t, err, store.ErrNoSuchUpload)
	assert.ErrorIs(t, s.AbortUpload(ctx, target, id), store.ErrNoSuchUpload)
}

func TestHeadObjectNotFound(t *testing.T) {
	_, err := New(openBucket(t), nil).HeadObject(context.Background(), target)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
