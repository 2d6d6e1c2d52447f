package interfaces

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/YelzhanWeb/printforge/internal/domain"
)

var ErrObjectNotFound = errors.New("object not found")

// StoredObject is a durable, dereferenceable object in storage.
type StoredObject struct {
	Key  string
	URL  string
	Size int64
}

// ObjectStore is the object storage collaborator (Adapter/GCS).
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (StoredObject, error)
	Get(ctx context.Context, key string, maxBytes int64) ([]byte, error)
	Stat(ctx context.Context, key string) (StoredObject, error)
	SignUpload(ctx context.Context, key string, maxBytes int64, ttl time.Duration) (domain.UploadCredential, error)
	// KeyFromURL returns the object key when rawURL addresses this store.
	KeyFromURL(rawURL string) (string, bool)
}
