// Package blobstore emulates multipart uploads on any gocloud.dev/blob bucket.
//
// Each upload lives under a prefix next to the destination key:
//
//	<key>.uploads/<upload-id>/session.json
//	<key>.uploads/<upload-id>/part-000001
//	<key>.uploads/<upload-id>/part-000002
//	...
//
// Completing an upload concatenates the parts into <key> and removes the
// prefix. Part ETags are the hex MD5 of the part data.
package blobstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/djgus/bucket2bucket/internal/store"
)

const (
	uploadsSuffix = ".uploads/"
	sessionObject = "session.json"
	partPrefix    = "part-"

	// sniffLen is how much of the first part is read to detect a content type.
	sniffLen = 3072
)

// session is persisted when an upload is created.
type session struct {
	UploadID    string            `json:"upload_id"`
	Key         string            `json:"key"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Initiated   time.Time         `json:"initiated"`
}

// Store is a store.Store over a single blob bucket. The Bucket field of a
// store.Target is only used in error messages.
type Store struct {
	bucket *blob.Bucket
	logger *slog.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns a Store writing to bucket. A nil logger discards output.
func New(bucket *blob.Bucket, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		bucket: bucket,
		logger: logger,
		now:    time.Now,
	}
}

func uploadsPrefix(key string) string {
	return key + uploadsSuffix
}

func uploadPrefix(key, uploadID string) string {
	return uploadsPrefix(key) + uploadID + "/"
}

func partName(key, uploadID string, n int32) string {
	return fmt.Sprintf("%s%s%06d", uploadPrefix(key, uploadID), partPrefix, n)
}

func (s *Store) ListUploads(ctx context.Context, t store.Target) ([]store.Upload, error) {
	iter := s.bucket.List(&blob.ListOptions{
		Prefix:    uploadsPrefix(t.Key),
		Delimiter: "/",
	})

	var uploads []store.Upload
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, store.NewError("listUploads", t, err)
		}
		if !obj.IsDir {
			continue
		}

		id := strings.TrimSuffix(strings.TrimPrefix(obj.Key, uploadsPrefix(t.Key)), "/")
		sess, err := s.readSession(ctx, t.Key, id)
		if errors.Is(err, store.ErrNoSuchUpload) {
			s.logger.Warn("ignoring upload prefix without session", "prefix", obj.Key)
			continue
		}
		if err != nil {
			return nil, store.NewError("listUploads", t, err)
		}
		uploads = append(uploads, store.Upload{
			ID:        sess.UploadID,
			Key:       sess.Key,
			Initiated: sess.Initiated,
		})
	}
	return uploads, nil
}

func (s *Store) ListParts(ctx context.Context, t store.Target, uploadID string) ([]store.Part, error) {
	if _, err := s.readSession(ctx, t.Key, uploadID); err != nil {
		return nil, store.NewError("listParts", t, err)
	}

	prefix := uploadPrefix(t.Key, uploadID) + partPrefix
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})

	var parts []store.Part
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, store.NewError("listParts", t, err)
		}

		n, err := strconv.ParseInt(strings.TrimPrefix(obj.Key, prefix), 10, 32)
		if err != nil || n < 1 {
			s.logger.Warn("ignoring unexpected object in upload prefix", "object", obj.Key)
			continue
		}

		etag := hex.EncodeToString(obj.MD5)
		if etag == "" {
			attrs, err := s.bucket.Attributes(ctx, obj.Key)
			if err != nil {
				return nil, store.NewError("listParts", t, err)
			}
			etag = hex.EncodeToString(attrs.MD5)
		}

		parts = append(parts, store.Part{
			Number: int32(n),
			ETag:   etag,
			Size:   obj.Size,
		})
	}

	store.SortParts(parts)
	return parts, nil
}

func (s *Store) CreateUpload(ctx context.Context, t store.Target, opts store.CreateOptions) (string, error) {
	sess := session{
		UploadID:    uuid.NewString(),
		Key:         t.Key,
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
		Initiated:   s.now().UTC(),
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return "", store.NewError("createUpload", t, err)
	}
	path := uploadPrefix(t.Key, sess.UploadID) + sessionObject
	if err := s.bucket.WriteAll(ctx, path, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return "", store.NewError("createUpload", t, err)
	}

	s.logger.Debug("created upload", "key", t.Key, "upload_id", sess.UploadID)
	return sess.UploadID, nil
}

func (s *Store) UploadPart(ctx context.Context, t store.Target, uploadID string, n int32, data []byte) (store.Part, error) {
	if n < 1 {
		return store.Part{}, store.NewError("uploadPart", t, fmt.Errorf("%w: part number %d", store.ErrInvalidParts, n))
	}
	if _, err := s.readSession(ctx, t.Key, uploadID); err != nil {
		return store.Part{}, store.NewError("uploadPart", t, err)
	}

	sum := md5.Sum(data)
	err := s.bucket.WriteAll(ctx, partName(t.Key, uploadID, n), data, &blob.WriterOptions{
		ContentType: "application/octet-stream",
		ContentMD5:  sum[:],
	})
	if err != nil {
		return store.Part{}, store.NewError("uploadPart", t, err)
	}

	return store.Part{
		Number: n,
		ETag:   hex.EncodeToString(sum[:]),
		Size:   int64(len(data)),
	}, nil
}

// CompleteUpload checks the given parts against what is stored, streams them
// into the destination key in order and then removes the upload prefix.
func (s *Store) CompleteUpload(ctx context.Context, t store.Target, uploadID string, parts []store.Part) error {
	sess, err := s.readSession(ctx, t.Key, uploadID)
	if err != nil {
		return store.NewError("completeUpload", t, err)
	}
	if len(parts) == 0 {
		return store.NewError("completeUpload", t, fmt.Errorf("%w: no parts", store.ErrInvalidParts))
	}
	if err := store.CheckContiguous(parts); err != nil {
		return store.NewError("completeUpload", t, err)
	}

	stored, err := s.ListParts(ctx, t, uploadID)
	if err != nil {
		return err
	}
	byNumber := make(map[int32]store.Part, len(stored))
	for _, p := range stored {
		byNumber[p.Number] = p
	}
	for _, p := range parts {
		sp, ok := byNumber[p.Number]
		if !ok {
			return store.NewError("completeUpload", t, fmt.Errorf("%w: part %d was not uploaded", store.ErrInvalidParts, p.Number))
		}
		if p.ETag != "" && sp.ETag != "" && !strings.EqualFold(strings.Trim(p.ETag, `"`), sp.ETag) {
			return store.NewError("completeUpload", t, fmt.Errorf("%w: part %d etag mismatch", store.ErrInvalidParts, p.Number))
		}
	}

	contentType := sess.ContentType
	if contentType == "" {
		contentType, err = s.sniff(ctx, partName(t.Key, uploadID, 1))
		if err != nil {
			return store.NewError("completeUpload", t, err)
		}
	}

	if err := s.concat(ctx, t.Key, uploadID, parts, contentType, sess.Metadata); err != nil {
		return store.NewError("completeUpload", t, err)
	}

	if err := s.deletePrefix(ctx, uploadPrefix(t.Key, uploadID)); err != nil {
		// The object is complete; leftover parts only cost space.
		s.logger.Warn("failed to clean up upload parts", "key", t.Key, "upload_id", uploadID, "error", err)
	}
	return nil
}

func (s *Store) concat(ctx context.Context, key, uploadID string, parts []store.Part, contentType string, md map[string]string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType: contentType,
		Metadata:    md,
	})
	if err != nil {
		return err
	}

	for _, p := range parts {
		r, err := s.bucket.NewReader(ctx, partName(key, uploadID, p.Number), nil)
		if err != nil {
			cancel()
			_ = w.Close()
			return fmt.Errorf("open part %d: %w", p.Number, err)
		}
		_, err = io.Copy(w, r)
		r.Close()
		if err != nil {
			cancel()
			_ = w.Close()
			return fmt.Errorf("copy part %d: %w", p.Number, err)
		}
	}

	return w.Close()
}

func (s *Store) sniff(ctx context.Context, path string) (string, error) {
	r, err := s.bucket.NewRangeReader(ctx, path, 0, sniffLen, nil)
	if err != nil {
		return "", err
	}
	defer r.Close()

	head, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return mimetype.Detect(head).String(), nil
}

func (s *Store) AbortUpload(ctx context.Context, t store.Target, uploadID string) error {
	if _, err := s.readSession(ctx, t.Key, uploadID); err != nil {
		return store.NewError("abortUpload", t, err)
	}
	if err := s.deletePrefix(ctx, uploadPrefix(t.Key, uploadID)); err != nil {
		return store.NewError("abortUpload", t, err)
	}
	return nil
}

func (s *Store) HeadObject(ctx context.Context, t store.Target) (int64, error) {
	attrs, err := s.bucket.Attributes(ctx, t.Key)
	if err != nil {
		if isNotExist(err) {
			err = errors.Join(store.ErrNotFound, err)
		}
		return 0, store.NewError("headObject", t, err)
	}
	return attrs.Size, nil
}

func (s *Store) readSession(ctx context.Context, key, uploadID string) (*session, error) {
	data, err := s.bucket.ReadAll(ctx, uploadPrefix(key, uploadID)+sessionObject)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrNoSuchUpload, uploadID)
		}
		return nil, err
	}

	var sess session
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", uploadID, err)
	}
	return &sess, nil
}

// deletePrefix removes every object under prefix, session last so that an
// interrupted delete still shows up as an upload.
func (s *Store) deletePrefix(ctx context.Context, prefix string) error {
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	var sessionKey string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if strings.HasSuffix(obj.Key, "/"+sessionObject) {
			sessionKey = obj.Key
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil && !isNotExist(err) {
			return fmt.Errorf("delete %s: %w", obj.Key, err)
		}
	}
	if sessionKey != "" {
		if err := s.bucket.Delete(ctx, sessionKey); err != nil && !isNotExist(err) {
			return fmt.Errorf("delete %s: %w", sessionKey, err)
		}
	}
	return nil
}

func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
