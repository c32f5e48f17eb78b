// Package storage uploads packaged recordings to object storage.
package storage

import "context"

// ContentTypeMP4 is the content type of packaged recordings.
const ContentTypeMP4 = "video/mp4"

// ObjectStore is the subset of object storage the recorder needs.
type ObjectStore interface {
	UploadFile(ctx context.Context, key, path, contentType string) error
	DownloadURL(ctx context.Context, key string) (string, error)
}

var (
	_ ObjectStore = (*S3)(nil)
	_ ObjectStore = (*MinIO)(nil)
)
