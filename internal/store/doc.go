// Package store defines the destination side of a resumable transfer: an
// object store that can hold an in-progress multipart upload, list what has
// been written to it so far, and assemble the parts into a single object.
//
// Three implementations live in sub-packages:
//
//   - s3store: Amazon S3 (and S3-compatible services) via aws-sdk-go-v2
//   - miniostore: MinIO and other S3-compatible servers via minio-go
//   - blobstore: any gocloud.dev/blob bucket, with multipart uploads
//     emulated as part objects under a per-upload prefix
//
// The store is the source of truth for which parts are done. Nothing in this
// package deletes an upload unless AbortUpload is called explicitly.
package store
