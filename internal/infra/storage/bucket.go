package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/infra/config"
)

// Bucket adapts a gocloud blob bucket to the object-store port. Image bytes
// live here; their durability guarantees belong to the provider, not to us.
type Bucket struct {
	bucket *blob.Bucket
	logger *zap.Logger
}

// OpenBucket opens the configured blob bucket through the gocloud URL mux.
func OpenBucket(ctx context.Context, cfg config.StorageSettings, logger *zap.Logger) (*Bucket, error) {
	bucket, err := blob.OpenBucket(ctx, cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", cfg.BucketURL, err)
	}

	logger.Info("object store opened", zap.String("bucket_url", cfg.BucketURL))

	return &Bucket{bucket: bucket, logger: logger}, nil
}

// NewBucket wraps an already-open blob bucket. Used by tests with memblob.
func NewBucket(bucket *blob.Bucket, logger *zap.Logger) *Bucket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bucket{bucket: bucket, logger: logger}
}

// Put writes the object under the given key.
func (b *Bucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	opts := &blob.WriterOptions{ContentType: contentType}
	if err := b.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}
	return nil
}

// Delete removes the object under the given key.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	if err := b.bucket.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying bucket.
func (b *Bucket) Close() error {
	return b.bucket.Close()
}

var _ port.ObjectStore = (*Bucket)(nil)
