// Package staging provides object storage for bulk payloads. Bulk CSV
// uploads are staged here and referenced by key in the asynchronous upload
// job; bulk query-result downloads come back through the same interface.
package staging

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common errors for staging operations.
var (
	ErrObjectNotFound = errors.New("staged object not found")
	ErrUploadFailed   = errors.New("staging upload failed")
	ErrDownloadFailed = errors.New("staging download failed")
	ErrDeleteFailed   = errors.New("staging delete failed")
)

// ObjectStorage abstracts the staging store. Implementations include S3 and
// the local filesystem for development and testing.
type ObjectStorage interface {
	// Put stores a payload under the given key.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves a payload by key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a staged payload. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Exists checks whether a payload is staged under the key.
	Exists(ctx context.Context, key string) (bool, error)
}

// NewBulkKey returns a fresh object key for a staged bulk CSV payload.
func NewBulkKey(entityID string) string {
	return fmt.Sprintf("bulk/%s/%s.csv", entityID, uuid.New().String())
}
