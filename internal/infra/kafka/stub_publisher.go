package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments without brokers.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, subjectID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published",
		zap.String("event_type", eventType),
		zap.String("subject_id", subjectID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishContentFlagged logs moderation.content.flagged events.
func (p *StubPublisher) PublishContentFlagged(_ context.Context, event domain.ContentFlaggedEvent) error {
	p.logEvent(eventContentFlagged, event.IdentityID, event.FlaggedAt, event)
	return nil
}

// PublishAccountLocked logs auth.account.locked events.
func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.logEvent(eventAccountLocked, event.Identifier, event.LockedAt, event)
	return nil
}

// PublishSuspensionCreated logs auth.suspension.created events.
func (p *StubPublisher) PublishSuspensionCreated(_ context.Context, event domain.SuspensionCreatedEvent) error {
	p.logEvent(eventSuspensionCreated, event.IdentityID, event.SuspendedAt, event)
	return nil
}

// PublishTokenFamilyRevoked logs auth.token_family.revoked events.
func (p *StubPublisher) PublishTokenFamilyRevoked(_ context.Context, event domain.TokenFamilyRevokedEvent) error {
	p.logEvent(eventTokenFamilyRevoked, event.IdentityID, event.RevokedAt, event)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
