package port

import (
	"context"
	"time"

	"github.com/framehost/authcore/internal/core/domain"
)

// AttemptRepository persists failed-attempt records, one row per
// (identifier, attempt type).
type AttemptRepository interface {
	// Get returns the record or repository.ErrNotFound.
	Get(ctx context.Context, identifier string, attemptType domain.AttemptType) (*domain.FailedAttemptRecord, error)
	// RecordFailure atomically increments the attempt count, resetting it to 1
	// first when the row has idled past the reset horizon, and returns the
	// post-increment count.
	RecordFailure(ctx context.Context, identifier string, attemptType domain.AttemptType, at time.Time) (int, error)
	// SetLockout stamps the lockout expiry on the row.
	SetLockout(ctx context.Context, identifier string, attemptType domain.AttemptType, until time.Time) error
	// Clear removes the record, returning it to the clear state.
	Clear(ctx context.Context, identifier string, attemptType domain.AttemptType) error
}
