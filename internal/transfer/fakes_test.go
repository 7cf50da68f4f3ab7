package transfer

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/djgus/bucket2bucket/internal/notify"
	"github.com/djgus/bucket2bucket/internal/store"
)

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

type headMode int

const (
	headOK headMode = iota
	headNoLength
	headForbidden
)

// sourceServer serves data over HTTP with range support and records the
// Range header of every GET.
type sourceServer struct {
	*httptest.Server

	data      []byte
	head      headMode
	headSize  int64 // overrides the HEAD length when non-zero
	unknownCR bool  // answer range requests with "/*" totals
	fromZero  bool  // answer range requests from byte zero whatever was asked

	mu     sync.Mutex
	ranges []string
}

func newSourceServer(t *testing.T, data []byte) *sourceServer {
	t.Helper()
	s := &sourceServer{data: data}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *sourceServer) serve(w http.ResponseWriter, r *http.Request) {
	size := len(s.data)

	if r.Method == http.MethodHead {
		switch s.head {
		case headForbidden:
			w.WriteHeader(http.StatusForbidden)
		case headNoLength:
			w.WriteHeader(http.StatusOK)
		default:
			n := int64(size)
			if s.headSize != 0 {
				n = s.headSize
			}
			w.Header().Set("Content-Length", strconv.FormatInt(n, 10))
			w.Header().Set("ETag", `"src-etag"`)
			w.Header().Set("Content-Type", "application/x-tar")
		}
		return
	}

	rangeHeader := r.Header.Get("Range")
	s.mu.Lock()
	s.ranges = append(s.ranges, rangeHeader)
	s.mu.Unlock()

	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.Itoa(size))
		w.Write(s.data)
		return
	}

	spec := strings.TrimPrefix(rangeHeader, "bytes=")
	first, last, _ := strings.Cut(spec, "-")
	start, _ := strconv.Atoi(first)
	if s.fromZero {
		start = 0
	}
	end := size - 1
	if last != "" {
		end, _ = strconv.Atoi(last)
	}
	if start >= size {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end >= size {
		end = size - 1
	}

	total := strconv.Itoa(size)
	if s.unknownCR {
		total = "*"
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", start, end, total))
	w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
	w.Header().Set("ETag", `"src-etag"`)
	w.WriteHeader(http.StatusPartialContent)
	w.Write(s.data[start : end+1])
}

func (s *sourceServer) rangeHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

type fakeUpload struct {
	key       string
	initiated time.Time
	opts      store.CreateOptions
	parts     map[int32][]byte
}

// fakeStore is an in-memory store.Store with hooks for failure injection.
type fakeStore struct {
	mu      sync.Mutex
	uploads map[string]*fakeUpload
	objects map[string][]byte
	nextID  int

	// beforeUpload runs before each UploadPart attempt; a non-nil error
	// fails the attempt.
	beforeUpload func(ctx context.Context, n int32, attempt int) error
	// headSize, when set, replaces the stored object size in HeadObject.
	headSize func() (int64, error)

	attempts  map[int32]int
	creates   int
	completed [][]store.Part
	aborted   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		uploads:  make(map[string]*fakeUpload),
		objects:  make(map[string][]byte),
		attempts: make(map[int32]int),
	}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// seed registers an upload holding the given parts cut from data.
func (f *fakeStore) seed(id, key string, initiated time.Time, data []byte, chunkSize int64, parts ...int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &fakeUpload{key: key, initiated: initiated, parts: make(map[int32][]byte)}
	for _, n := range parts {
		start := int64(n-1) * chunkSize
		end := min(start+chunkSize, int64(len(data)))
		u.parts[n] = bytes.Clone(data[start:end])
	}
	f.uploads[id] = u
}

func (f *fakeStore) ListUploads(_ context.Context, t store.Target) ([]store.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Upload
	for id, u := range f.uploads {
		if u.key == t.Key {
			out = append(out, store.Upload{ID: id, Key: u.key, Initiated: u.initiated})
		}
	}
	return out, nil
}

func (f *fakeStore) ListParts(_ context.Context, _ store.Target, uploadID string) ([]store.Part, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[uploadID]
	if !ok {
		return nil, store.ErrNoSuchUpload
	}
	var parts []store.Part
	for n, data := range u.parts {
		parts = append(parts, store.Part{Number: n, ETag: etagOf(data), Size: int64(len(data))})
	}
	store.SortParts(parts)
	return parts, nil
}

func (f *fakeStore) CreateUpload(_ context.Context, t store.Target, opts store.CreateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.creates++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeUpload{key: t.Key, initiated: time.Now(), opts: opts, parts: make(map[int32][]byte)}
	return id, nil
}

func (f *fakeStore) UploadPart(ctx context.Context, _ store.Target, uploadID string, n int32, data []byte) (store.Part, error) {
	f.mu.Lock()
	f.attempts[n]++
	attempt := f.attempts[n]
	hook := f.beforeUpload
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, n, attempt); err != nil {
			return store.Part{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[uploadID]
	if !ok {
		return store.Part{}, store.ErrNoSuchUpload
	}
	u.parts[n] = bytes.Clone(data)
	return store.Part{Number: n, ETag: etagOf(data), Size: int64(len(data))}, nil
}

func (f *fakeStore) CompleteUpload(_ context.Context, t store.Target, uploadID string, parts []store.Part) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[uploadID]
	if !ok {
		return store.ErrNoSuchUpload
	}
	if err := store.CheckContiguous(parts); err != nil {
		return err
	}
	var obj []byte
	for _, p := range parts {
		data, ok := u.parts[p.Number]
		if !ok || etagOf(data) != p.ETag {
			return fmt.Errorf("%w: part %d", store.ErrInvalidParts, p.Number)
		}
		obj = append(obj, data...)
	}
	f.objects[t.Key] = obj
	f.completed = append(f.completed, parts)
	delete(f.uploads, uploadID)
	return nil
}

func (f *fakeStore) AbortUpload(_ context.Context, _ store.Target, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.uploads[uploadID]; !ok {
		return store.ErrNoSuchUpload
	}
	delete(f.uploads, uploadID)
	f.aborted = append(f.aborted, uploadID)
	return nil
}

func (f *fakeStore) HeadObject(_ context.Context, t store.Target) (int64, error) {
	if f.headSize != nil {
		return f.headSize()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[t.Key]
	if !ok {
		return 0, store.ErrNotFound
	}
	return int64(len(obj)), nil
}

func (f *fakeStore) attemptsFor(n int32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[n]
}

func (f *fakeStore) object(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func (f *fakeStore) upload(id string) *fakeUpload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[id]
}

// recordingProgress remembers what the coordinator reported.
type recordingProgress struct {
	mu       sync.Mutex
	total    int64
	initial  int64
	skipped  int64
	advanced int64
	totals   []int64
	closed   int
}

func (p *recordingProgress) factory() ProgressFunc {
	return func(total, initial int64) Progress {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.total, p.initial = total, initial
		return p
	}
}

func (p *recordingProgress) Skip(n int64) {
	p.mu.Lock()
	p.skipped += n
	p.mu.Unlock()
}

func (p *recordingProgress) Advance(n int64) {
	p.mu.Lock()
	p.advanced += n
	p.mu.Unlock()
}

func (p *recordingProgress) SetTotal(total int64) {
	p.mu.Lock()
	p.totals = append(p.totals, total)
	p.mu.Unlock()
}

func (p *recordingProgress) Close() {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
}

type recordingNotifier struct {
	completions []notify.Completion
	err         error
}

func (n *recordingNotifier) NotifyComplete(_ context.Context, c notify.Completion) error {
	n.completions = append(n.completions, c)
	return n.err
}

// instantTimer fires immediately and records every requested delay.
type instantTimer struct {
	starts []time.Duration
	c      chan time.Time
}

func newInstantTimer() *instantTimer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(d time.Duration) {
	t.starts = append(t.starts, d)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}
