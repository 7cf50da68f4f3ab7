// Package transfer copies an object from an HTTP source into a store.Store as
// a resumable multipart upload.
//
// A run looks for an upload already in progress for the destination key and
// asks the store which parts it holds. It then probes the source size and
// reads the source from the first missing chunk onwards. Chunk i of the
// source is always part i+1 of the upload, so a part the store already has is
// skipped without being sent again. When the source is exhausted the parts
// are completed and the resulting object length is checked against the
// source.
//
// Cancelling the context passed to Coordinator.Run pauses the transfer: the
// upload stays in the store and the next run with the same destination picks
// it up. Nothing in this package aborts an upload.
//
// # Usage
//
//	c, err := transfer.New(source, st, transfer.Options{
//	    URL:       "https://example.com/dataset.tar",
//	    Target:    store.Target{Bucket: "archive", Key: "dataset.tar"},
//	    ChunkSize: 100 << 20,
//	    Retry:     transfer.RetryPolicy{Attempts: 5, Delay: 3 * time.Second},
//	})
//	res, err := c.Run(ctx)
//	switch {
//	case errors.Is(err, transfer.ErrInterrupted):
//	    // paused, res.UploadID can be resumed
//	case err != nil:
//	    // failed, res.UploadID can be resumed
//	case res.Mismatch != nil:
//	    // complete, but the stored size differs
//	}
package transfer
