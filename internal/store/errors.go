package store

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all store implementations.
var (
	ErrNotFound     = errors.New("store: object not found")
	ErrNoSuchUpload = errors.New("store: no such upload")
	ErrInvalidParts = errors.New("store: invalid part list")
)

// Error records the store operation and destination that failed.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("store.%s %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the operation name and target.
func NewError(op string, t Target, err error) *Error {
	return &Error{
		Op:     op,
		Bucket: t.Bucket,
		Key:    t.Key,
		Err:    err,
	}
}
