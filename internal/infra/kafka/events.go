package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	eventContentFlagged     = "moderation.content.flagged"
	eventAccountLocked      = "auth.account.locked"
	eventSuspensionCreated  = "auth.suspension.created"
	eventTokenFamilyRevoked = "auth.token_family.revoked"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	SubjectID string            `json:"subject_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventType, subjectID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	envelope := eventEnvelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		SubjectID: subjectID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata: map[string]string{
			"service":     p.appCfg.Name,
			"environment": p.appCfg.Env,
		},
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishContentFlagged publishes moderation.content.flagged events.
func (p *EventPublisher) PublishContentFlagged(ctx context.Context, event domain.ContentFlaggedEvent) error {
	payload := struct {
		FlagID     string    `json:"flag_id"`
		ImageID    string    `json:"image_id"`
		IdentityID string    `json:"identity_id"`
		FlagType   string    `json:"flag_type"`
		Confidence float64   `json:"confidence"`
		Reasons    []string  `json:"reasons,omitempty"`
		FlaggedAt  time.Time `json:"flagged_at"`
	}{
		FlagID:     event.FlagID,
		ImageID:    event.ImageID,
		IdentityID: event.IdentityID,
		FlagType:   event.FlagType,
		Confidence: event.Confidence,
		Reasons:    event.Reasons,
		FlaggedAt:  event.FlaggedAt,
	}
	return p.publish(ctx, eventContentFlagged, event.IdentityID, event.FlaggedAt, payload)
}

// PublishAccountLocked publishes auth.account.locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		Identifier   string    `json:"identifier"`
		AttemptType  string    `json:"attempt_type"`
		FailureCount int       `json:"failure_count"`
		LockedUntil  time.Time `json:"locked_until"`
		LockedAt     time.Time `json:"locked_at"`
	}{
		Identifier:   event.Identifier,
		AttemptType:  string(event.AttemptType),
		FailureCount: event.FailureCount,
		LockedUntil:  event.LockedUntil,
		LockedAt:     event.LockedAt,
	}
	return p.publish(ctx, eventAccountLocked, event.Identifier, event.LockedAt, payload)
}

// PublishSuspensionCreated publishes auth.suspension.created events.
func (p *EventPublisher) PublishSuspensionCreated(ctx context.Context, event domain.SuspensionCreatedEvent) error {
	payload := struct {
		SuspensionID string    `json:"suspension_id"`
		IdentityID   string    `json:"identity_id"`
		Reason       string    `json:"reason"`
		SuspendedAt  time.Time `json:"suspended_at"`
	}{
		SuspensionID: event.SuspensionID,
		IdentityID:   event.IdentityID,
		Reason:       event.Reason,
		SuspendedAt:  event.SuspendedAt,
	}
	return p.publish(ctx, eventSuspensionCreated, event.IdentityID, event.SuspendedAt, payload)
}

// PublishTokenFamilyRevoked publishes auth.token_family.revoked events.
func (p *EventPublisher) PublishTokenFamilyRevoked(ctx context.Context, event domain.TokenFamilyRevokedEvent) error {
	payload := struct {
		FamilyID   string    `json:"family_id"`
		IdentityID string    `json:"identity_id"`
		Revoked    int       `json:"revoked"`
		RevokedAt  time.Time `json:"revoked_at"`
	}{
		FamilyID:   event.FamilyID,
		IdentityID: event.IdentityID,
		Revoked:    event.Revoked,
		RevokedAt:  event.RevokedAt,
	}
	return p.publish(ctx, eventTokenFamilyRevoked, event.IdentityID, event.RevokedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
