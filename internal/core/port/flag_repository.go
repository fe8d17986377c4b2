package port

import (
	"context"
	"time"

	"github.com/framehost/authcore/internal/core/domain"
)

// FlagRepository persists content flags. Flags are never mutated after creation.
type FlagRepository interface {
	Create(ctx context.Context, flag domain.ContentFlag) error
	ListByImage(ctx context.Context, imageID string) ([]domain.ContentFlag, error)
	// CountSince supports de-duplicating pattern flags within a window.
	CountSince(ctx context.Context, identityID, flagType string, since time.Time) (int, error)
}
