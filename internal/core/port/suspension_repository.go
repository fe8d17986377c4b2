package port

import (
	"context"

	"github.com/framehost/authcore/internal/core/domain"
)

// SuspensionRepository reads and writes account suspensions.
type SuspensionRepository interface {
	Create(ctx context.Context, suspension domain.Suspension) error
	// GetActive returns the in-effect suspension for the identity, or
	// repository.ErrNotFound when the identity is not suspended.
	GetActive(ctx context.Context, identityID string) (*domain.Suspension, error)
	Lift(ctx context.Context, suspensionID string) error
}
