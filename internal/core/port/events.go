package port

import (
	"context"

	"github.com/framehost/authcore/internal/core/domain"
)

// EventPublisher hands abuse-prevention events to the external moderation queue.
type EventPublisher interface {
	PublishContentFlagged(ctx context.Context, event domain.ContentFlaggedEvent) error
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
	PublishSuspensionCreated(ctx context.Context, event domain.SuspensionCreatedEvent) error
	PublishTokenFamilyRevoked(ctx context.Context, event domain.TokenFamilyRevokedEvent) error
}
