package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djgus/bucket2bucket/internal/store"
)

func newTestUploader(t *testing.T, st *fakeStore, policy RetryPolicy) (*Uploader, *instantTimer, string) {
	t.Helper()
	id, err := st.CreateUpload(context.Background(), testTarget, store.CreateOptions{})
	require.NoError(t, err)
	u := NewUploader(st, policy, nil)
	timer := newInstantTimer()
	u.timer = timer
	return u, timer, id
}

func TestUploaderSucceedsFirstTry(t *testing.T) {
	st := newFakeStore()
	u, timer, id := newTestUploader(t, st, RetryPolicy{Attempts: 5, Delay: 3 * time.Second})

	p, err := u.Upload(context.Background(), testTarget, id, 1, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.Number)
	assert.Equal(t, int64(5), p.Size)
	assert.Empty(t, timer.starts)
}

func TestUploaderRetriesThenSucceeds(t *testing.T) {
	st := newFakeStore()
	st.beforeUpload = func(_ context.Context, _ int32, attempt int) error {
		if attempt < 3 {
			return errors.New("503 slow down")
		}
		return nil
	}
	u, timer, id := newTestUploader(t, st, RetryPolicy{Attempts: 5, Delay: 3 * time.Second})

	_, err := u.Upload(context.Background(), testTarget, id, 1, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 3, st.attemptsFor(1))
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, timer.starts)
}

func TestUploaderExhaustsAttempts(t *testing.T) {
	st := newFakeStore()
	cause := errors.New("connection reset")
	st.beforeUpload = func(context.Context, int32, int) error { return cause }
	u, timer, id := newTestUploader(t, st, RetryPolicy{Attempts: 5, Delay: 3 * time.Second})

	_, err := u.Upload(context.Background(), testTarget, id, 2, []byte("x"))
	var pe *PartUploadError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, int32(2), pe.Part)
	assert.Equal(t, 5, pe.Attempts)
	assert.ErrorIs(t, err, ErrPartUploadFailed)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, 5, st.attemptsFor(2))
	require.Len(t, timer.starts, 4, "one wait between each pair of attempts")
	for _, d := range timer.starts {
		assert.Equal(t, 3*time.Second, d)
	}
}

func TestUploaderSingleAttempt(t *testing.T) {
	st := newFakeStore()
	st.beforeUpload = func(context.Context, int32, int) error { return errors.New("boom") }
	u, timer, id := newTestUploader(t, st, RetryPolicy{Attempts: 1})

	_, err := u.Upload(context.Background(), testTarget, id, 1, []byte("x"))
	var pe *PartUploadError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Attempts)
	assert.Empty(t, timer.starts)
}

func TestUploaderDoesNotRetryMissingUpload(t *testing.T) {
	st := newFakeStore()
	u, timer, _ := newTestUploader(t, st, RetryPolicy{Attempts: 5, Delay: time.Second})

	_, err := u.Upload(context.Background(), testTarget, "gone", 1, []byte("x"))
	var pe *PartUploadError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Attempts)
	assert.ErrorIs(t, err, store.ErrNoSuchUpload)
	assert.Empty(t, timer.starts)
}

func TestUploaderCancelled(t *testing.T) {
	st := newFakeStore()
	ctx, cancel := context.WithCancel(context.Background())
	st.beforeUpload = func(ctx context.Context, _ int32, _ int) error {
		cancel()
		return ctx.Err()
	}
	u, timer, id := newTestUploader(t, st, RetryPolicy{Attempts: 5, Delay: time.Second})

	_, err := u.Upload(ctx, testTarget, id, 1, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	var pe *PartUploadError
	assert.False(t, errors.As(err, &pe))
	assert.Equal(t, 1, st.attemptsFor(1))
	assert.Empty(t, timer.starts)
}
