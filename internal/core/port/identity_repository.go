package port

import (
	"context"
	"time"

	"github.com/framehost/authcore/internal/core/domain"
)

// IdentityRepository manages account records. The wider account subsystem owns
// the table; this core only needs the authentication surface of it.
type IdentityRepository interface {
	Create(ctx context.Context, identity domain.Identity) error
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}
