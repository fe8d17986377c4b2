package port

import (
	"context"
	"time"

	"github.com/framehost/authcore/internal/core/domain"
)

// CounterStore persists fixed-window request counters. Implementations must
// make Increment a single atomic insert-or-increment: two concurrent calls for
// the same (subject, endpoint, window) may never both observe a stale count.
type CounterStore interface {
	// Peek returns the current count without recording anything. Zero when no
	// row exists for the window.
	Peek(ctx context.Context, subject string, endpoint domain.EndpointClass, windowStart time.Time) (int, error)
	// Increment records one request and returns the post-increment count.
	Increment(ctx context.Context, subject string, endpoint domain.EndpointClass, windowStart time.Time, windowSize time.Duration) (int, error)
	// PruneBefore reclaims rows whose window started before the horizon.
	PruneBefore(ctx context.Context, horizon time.Time) (int, error)
}
