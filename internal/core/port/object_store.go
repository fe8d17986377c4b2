package port

import "context"

// ObjectStore is the boundary to the blob storage holding image bytes. The
// bytes themselves are outside this core; only the interface is modeled.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}
