package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/infra/logger"
	"github.com/framehost/authcore/internal/repository"
)

// LockoutTracker implements exponential-backoff lockout for credential flows.
// Counting is per (identifier, attempt type) so a login streak never locks
// registration, and counts survive process restarts.
type LockoutTracker struct {
	attempts port.AttemptRepository
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewLockoutTracker constructs a LockoutTracker instance.
func NewLockoutTracker(attempts port.AttemptRepository, events port.EventPublisher, log *zap.Logger) *LockoutTracker {
	if log == nil {
		log = zap.NewNop()
	}

	tracker := &LockoutTracker{
		attempts: attempts,
		events:   events,
		logger:   log,
	}
	tracker.now = func() time.Time { return time.Now().UTC() }
	return tracker
}

// WithClock overrides the tracker clock for deterministic tests.
func (t *LockoutTracker) WithClock(clock func() time.Time) *LockoutTracker {
	if clock != nil {
		t.now = clock
	}
	return t
}

// CheckLocked reports whether the identifier may attempt a credential right
// now. Read-only; it never mutates the record. A record idle past the reset
// horizon reads as clear. Store errors fail closed.
func (t *LockoutTracker) CheckLocked(ctx context.Context, identifier string, attemptType domain.AttemptType) (domain.LockoutStatus, error) {
	if !attemptType.Valid() {
		return domain.LockoutStatus{}, fmt.Errorf("unknown attempt type %q", attemptType)
	}

	record, err := t.attempts.Get(ctx, identifier, attemptType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.LockoutStatus{}, nil
		}
		t.logger.Error("lockout check failed",
			zap.String("identifier", logger.MaskEmail(identifier)),
			zap.Error(err),
		)
		return domain.LockoutStatus{Locked: true}, errors.Join(ErrStoreUnavailable, err)
	}

	now := t.now()
	if record.IsIdle(now) {
		return domain.LockoutStatus{}, nil
	}

	return t.status(*record, now), nil
}

// RecordFailure registers a failed credential attempt and returns the
// resulting status. Crossing the lockout threshold stamps the new expiry on
// the record; each further failure restarts the (longer) lockout.
func (t *LockoutTracker) RecordFailure(ctx context.Context, identifier string, attemptType domain.AttemptType) (domain.LockoutStatus, error) {
	if !attemptType.Valid() {
		return domain.LockoutStatus{}, fmt.Errorf("unknown attempt type %q", attemptType)
	}

	now := t.now()
	count, err := t.attempts.RecordFailure(ctx, identifier, attemptType, now)
	if err != nil {
		t.logger.Error("record failed attempt failed",
			zap.String("identifier", logger.MaskEmail(identifier)),
			zap.Error(err),
		)
		return domain.LockoutStatus{Locked: true}, errors.Join(ErrStoreUnavailable, err)
	}

	status := domain.LockoutStatus{
		FailureCount:    count,
		RequiresCaptcha: count >= domain.CaptchaThreshold,
	}

	duration := domain.LockoutDuration(count)
	if duration == 0 {
		return status, nil
	}

	until := now.Add(duration)
	if err := t.attempts.SetLockout(ctx, identifier, attemptType, until); err != nil {
		t.logger.Error("set lockout failed",
			zap.String("identifier", logger.MaskEmail(identifier)),
			zap.Error(err),
		)
		return domain.LockoutStatus{Locked: true}, errors.Join(ErrStoreUnavailable, err)
	}

	status.Locked = true
	status.Until = &until

	t.logger.Warn("lockout engaged",
		zap.String("identifier", logger.MaskEmail(identifier)),
		zap.String("attempt_type", string(attemptType)),
		zap.Int("failures", count),
		zap.Time("until", until),
	)

	if t.events != nil {
		event := domain.AccountLockedEvent{
			Identifier:   identifier,
			AttemptType:  attemptType,
			FailureCount: count,
			LockedUntil:  until,
			LockedAt:     now,
		}
		if err := t.events.PublishAccountLocked(ctx, event); err != nil {
			t.logger.Warn("publish account locked failed", zap.Error(err))
		}
	}

	return status, nil
}

// RecordSuccess clears the failure record after a successful credential
// attempt.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, identifier string, attemptType domain.AttemptType) error {
	if !attemptType.Valid() {
		return fmt.Errorf("unknown attempt type %q", attemptType)
	}

	if err := t.attempts.Clear(ctx, identifier, attemptType); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("clear failed attempts: %w", err)
	}
	return nil
}

func (t *LockoutTracker) status(record domain.FailedAttemptRecord, now time.Time) domain.LockoutStatus {
	status := domain.LockoutStatus{
		FailureCount:    record.AttemptCount,
		RequiresCaptcha: record.AttemptCount >= domain.CaptchaThreshold,
	}
	if record.LockedUntil != nil && record.LockedUntil.After(now) {
		status.Locked = true
		status.Until = record.LockedUntil
	}
	return status
}
