package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/fileblob"

	"github.com/djgus/bucket2bucket/internal/store"
	"github.com/djgus/bucket2bucket/internal/store/blobstore"
)

func generateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

// startSource serves data with range support via http.ServeContent.
func startSource(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openTestStore(t *testing.T, dir string) *blobstore.Store {
	t.Helper()
	bkt, err := fileblob.OpenBucket(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { bkt.Close() })
	return blobstore.New(bkt, nil)
}

func TestRunUsage(t *testing.T) {
	assert.Equal(t, ExitInvalidArgs, run(nil))
	assert.Equal(t, ExitInvalidArgs, run([]string{"bogus"}))
	assert.Equal(t, ExitSuccess, run([]string{"help"}))
	assert.Equal(t, ExitSuccess, run([]string{"copy", "-h"}))
}

func TestCopyInvalidArgs(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{"missing url", []string{"-bucket", "file://" + dir, "-object", "x"}},
		{"missing object", []string{"-url", "http://example.com/x", "-bucket", "file://" + dir}},
		{"bad chunk size", []string{"-url", "http://example.com/x", "-bucket", "file://" + dir, "-object", "x", "-chunk-size", "lots"}},
		{"chunk too small for s3", []string{"-url", "http://example.com/x", "-bucket", "s3://b", "-object", "x", "-chunk-size", "1MiB"}},
		{"zero attempts", []string{"-url", "http://example.com/x", "-bucket", "file://" + dir, "-object", "x", "-retry-attempts", "0"}},
		{"unknown flag", []string{"-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ExitInvalidArgs, runCopy(tt.args))
		})
	}
}

func TestCopyToFileBucket(t *testing.T) {
	data := generateTestData(300 * 1024)
	srv := startSource(t, data)
	dir := t.TempDir()

	code := runCopy([]string{
		"-url", srv.URL + "/data.bin",
		"-bucket", "file://" + dir,
		"-object", "out/data.bin",
		"-chunk-size", "64KiB",
		"-progress=false",
	})
	require.Equal(t, ExitSuccess, code)

	got, err := os.ReadFile(filepath.Join(dir, "out", "data.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "copied data differs")

	st := openTestStore(t, dir)
	uploads, err := st.ListUploads(context.Background(), store.Target{Key: "out/data.bin"})
	require.NoError(t, err)
	assert.Empty(t, uploads)

	assert.Equal(t, ExitSuccess, runStatus([]string{"-bucket", "file://" + dir, "-object", "out/data.bin"}))
	assert.Equal(t, ExitSuccess, runAbort([]string{"-bucket", "file://" + dir, "-object", "out/data.bin", "-force"}))
}

func TestCopyResumesExistingUpload(t *testing.T) {
	const chunk = 64 * 1024
	data := generateTestData(200 * 1024)
	srv := startSource(t, data)
	dir := t.TempDir()
	target := store.Target{Bucket: "file://" + dir, Key: "resume.bin"}

	st := openTestStore(t, dir)
	ctx := context.Background()
	id, err := st.CreateUpload(ctx, target, store.CreateOptions{})
	require.NoError(t, err)
	_, err = st.UploadPart(ctx, target, id, 1, data[:chunk])
	require.NoError(t, err)

	args := []string{"-bucket", "file://" + dir, "-object", "resume.bin", "-chunk-size", "64KiB"}
	assert.Equal(t, ExitSuccess, runStatus(args))

	code := runCopy(append([]string{"-url", srv.URL + "/data.bin", "-progress=false"}, args...))
	require.Equal(t, ExitSuccess, code)

	got, err := os.ReadFile(filepath.Join(dir, "resume.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "resumed data differs")

	uploads, err := st.ListUploads(ctx, target)
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestCopySourceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	dir := t.TempDir()

	code := runCopy([]string{
		"-url", srv.URL + "/missing",
		"-bucket", "file://" + dir,
		"-object", "missing.bin",
		"-chunk-size", "64KiB",
		"-progress=false",
	})
	assert.Equal(t, ExitError, code)

	uploads, err := openTestStore(t, dir).ListUploads(context.Background(), store.Target{Key: "missing.bin"})
	require.NoError(t, err)
	assert.Empty(t, uploads, "no upload is created when the size is unknown")
}

func TestAbortUpload(t *testing.T) {
	dir := t.TempDir()
	target := store.Target{Bucket: "file://" + dir, Key: "abort.bin"}
	st := openTestStore(t, dir)
	ctx := context.Background()

	_, err := st.CreateUpload(ctx, target, store.CreateOptions{})
	require.NoError(t, err)
	_, err = st.CreateUpload(ctx, target, store.CreateOptions{})
	require.NoError(t, err)

	code := runAbort([]string{"-bucket", "file://" + dir, "-object", "abort.bin", "-force", "-all"})
	require.Equal(t, ExitSuccess, code)

	uploads, err := st.ListUploads(ctx, target)
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestPickUploads(t *testing.T) {
	now := time.Now()
	uploads := []store.Upload{
		{ID: "a", Initiated: now.Add(-time.Minute)},
		{ID: "b", Initiated: now},
	}

	assert.Equal(t, []string{"b"}, pickUploads(uploads, false, ""))
	assert.Equal(t, []string{"a", "b"}, pickUploads(uploads, true, ""))
	assert.Equal(t, []string{"a"}, pickUploads(uploads, false, "a"))
	assert.Nil(t, pickUploads(uploads, false, "zzz"))
	assert.Nil(t, pickUploads(nil, false, ""))
}
