package port

import (
	"context"
	"time"

	"github.com/framehost/authcore/internal/core/domain"
)

// UploadRepository records upload metadata and exposes the rolling history the
// pattern heuristics analyze.
type UploadRepository interface {
	Create(ctx context.Context, upload domain.Upload) error
	GetByID(ctx context.Context, id string) (*domain.Upload, error)
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]domain.Upload, error)
	// ListSince returns uploads for the identity newer than the given instant,
	// most recent first.
	ListSince(ctx context.Context, identityID string, since time.Time) ([]domain.Upload, error)
	Delete(ctx context.Context, id string) error
}
