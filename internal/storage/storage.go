// Package storage defines the blob store abstraction used to export harvest
// artifacts. Implementations live in the gcs and local subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore persists an object and returns a URI describing where it landed.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Content types used for exported artifacts.
const (
	ContentTypeJSONL = "application/x-ndjson"
	ContentTypeJSON  = "application/json"
)
