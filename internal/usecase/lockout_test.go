package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/repository"
)

type attemptKey struct {
	identifier  string
	attemptType domain.AttemptType
}

type fakeAttemptRepository struct {
	records  map[attemptKey]*domain.FailedAttemptRecord
	failWith error
}

func newFakeAttemptRepository() *fakeAttemptRepository {
	return &fakeAttemptRepository{records: map[attemptKey]*domain.FailedAttemptRecord{}}
}

func (r *fakeAttemptRepository) Get(_ context.Context, identifier string, attemptType domain.AttemptType) (*domain.FailedAttemptRecord, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	record, ok := r.records[attemptKey{identifier, attemptType}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *record
	return &copy, nil
}

func (r *fakeAttemptRepository) RecordFailure(_ context.Context, identifier string, attemptType domain.AttemptType, at time.Time) (int, error) {
	if r.failWith != nil {
		return 0, r.failWith
	}
	key := attemptKey{identifier, attemptType}
	record, ok := r.records[key]
	if !ok || record.IsIdle(at) {
		record = &domain.FailedAttemptRecord{
			Identifier:  identifier,
			AttemptType: attemptType,
		}
		r.records[key] = record
	}
	record.AttemptCount++
	record.LastAttemptAt = at
	return record.AttemptCount, nil
}

func (r *fakeAttemptRepository) SetLockout(_ context.Context, identifier string, attemptType domain.AttemptType, until time.Time) error {
	if r.failWith != nil {
		return r.failWith
	}
	record, ok := r.records[attemptKey{identifier, attemptType}]
	if !ok {
		return repository.ErrNotFound
	}
	record.LockedUntil = &until
	return nil
}

func (r *fakeAttemptRepository) Clear(_ context.Context, identifier string, attemptType domain.AttemptType) error {
	key := attemptKey{identifier, attemptType}
	if _, ok := r.records[key]; !ok {
		return repository.ErrNotFound
	}
	delete(r.records, key)
	return nil
}

func TestLockoutTracker_Escalation(t *testing.T) {
	repo := newFakeAttemptRepository()
	events := &recordingPublisher{}
	tracker := NewLockoutTracker(repo, events, zaptest.NewLogger(t))

	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tracker.WithClock(fixedClock(at))

	wantLockouts := map[int]time.Duration{
		5:  1 * time.Minute,
		6:  5 * time.Minute,
		7:  15 * time.Minute,
		8:  60 * time.Minute,
		9:  1440 * time.Minute,
		10: 1440 * time.Minute,
	}

	for attempt := 1; attempt <= 10; attempt++ {
		status, err := tracker.RecordFailure(context.Background(), "bob@example.com", domain.AttemptLogin)
		if err != nil {
			t.Fatalf("attempt %d: RecordFailure returned error: %v", attempt, err)
		}
		if status.FailureCount != attempt {
			t.Fatalf("attempt %d: count = %d", attempt, status.FailureCount)
		}

		want, locked := wantLockouts[attempt]
		if status.Locked != locked {
			t.Fatalf("attempt %d: locked = %v, want %v", attempt, status.Locked, locked)
		}
		if locked {
			if status.Until == nil {
				t.Fatalf("attempt %d: locked status missing expiry", attempt)
			}
			if got := status.Until.Sub(at); got != want {
				t.Fatalf("attempt %d: lockout = %v, want %v", attempt, got, want)
			}
		}
	}

	if len(events.locked) != 6 {
		t.Fatalf("expected 6 lockout events, got %d", len(events.locked))
	}
}

func TestLockoutTracker_CaptchaBeforeLockout(t *testing.T) {
	repo := newFakeAttemptRepository()
	tracker := NewLockoutTracker(repo, nil, zaptest.NewLogger(t))

	for attempt := 1; attempt <= 4; attempt++ {
		status, err := tracker.RecordFailure(context.Background(), "bob@example.com", domain.AttemptLogin)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if status.Locked {
			t.Fatalf("attempt %d: must not lock below the threshold", attempt)
		}
		if want := attempt >= 3; status.RequiresCaptcha != want {
			t.Fatalf("attempt %d: requires_captcha = %v, want %v", attempt, status.RequiresCaptcha, want)
		}
	}
}

func TestLockoutTracker_IdleResetsCount(t *testing.T) {
	repo := newFakeAttemptRepository()
	tracker := NewLockoutTracker(repo, nil, zaptest.NewLogger(t))

	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tracker.WithClock(fixedClock(at))

	for i := 0; i < 4; i++ {
		if _, err := tracker.RecordFailure(context.Background(), "bob@example.com", domain.AttemptLogin); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	// Just past the idle horizon: the read reports clear and the next failure
	// starts a fresh streak.
	tracker.WithClock(fixedClock(at.Add(time.Hour + time.Second)))

	status, err := tracker.CheckLocked(context.Background(), "bob@example.com", domain.AttemptLogin)
	if err != nil {
		t.Fatalf("CheckLocked: %v", err)
	}
	if status.FailureCount != 0 || status.RequiresCaptcha {
		t.Fatalf("idle record must read as clear, got %+v", status)
	}

	status, err = tracker.RecordFailure(context.Background(), "bob@example.com", domain.AttemptLogin)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if status.FailureCount != 1 {
		t.Fatalf("count after idle reset = %d, want 1", status.FailureCount)
	}
}

func TestLockoutTracker_SuccessClears(t *testing.T) {
	repo := newFakeAttemptRepository()
	tracker := NewLockoutTracker(repo, nil, zaptest.NewLogger(t))

	for i := 0; i < 4; i++ {
		if _, err := tracker.RecordFailure(context.Background(), "bob@example.com", domain.AttemptLogin); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	if err := tracker.RecordSuccess(context.Background(), "bob@example.com", domain.AttemptLogin); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	status, err := tracker.RecordFailure(context.Background(), "bob@example.com", domain.AttemptLogin)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if status.FailureCount != 1 {
		t.Fatalf("count after success = %d, want 1", status.FailureCount)
	}

	// Clearing an already-clear identifier is not an error.
	if err := tracker.RecordSuccess(context.Background(), "nobody@example.com", domain.AttemptLogin); err != nil {
		t.Fatalf("RecordSuccess on clear identifier: %v", err)
	}
}

func TestLockoutTracker_ScopedByAttemptType(t *testing.T) {
	repo := newFakeAttemptRepository()
	tracker := NewLockoutTracker(repo, nil, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		if _, err := tracker.RecordFailure(context.Background(), "bob@example.com", domain.AttemptLogin); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	status, err := tracker.CheckLocked(context.Background(), "bob@example.com", domain.AttemptRegister)
	if err != nil {
		t.Fatalf("CheckLocked: %v", err)
	}
	if status.Locked || status.FailureCount != 0 {
		t.Fatalf("login failures must not spill into register, got %+v", status)
	}
}

func TestLockoutTracker_StoreFailureFailsClosed(t *testing.T) {
	repo := newFakeAttemptRepository()
	repo.failWith = errors.New("connection refused")
	tracker := NewLockoutTracker(repo, nil, zaptest.NewLogger(t))

	status, err := tracker.CheckLocked(context.Background(), "bob@example.com", domain.AttemptLogin)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !status.Locked {
		t.Fatalf("store failure must read as locked")
	}

	status, err = tracker.RecordFailure(context.Background(), "bob@example.com", domain.AttemptLogin)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable on write, got %v", err)
	}
	if !status.Locked {
		t.Fatalf("store failure on write must read as locked")
	}
}
