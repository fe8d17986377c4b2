package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/repository"
)

// AttemptRepository persists failed-attempt records in the failed_attempts
// table, one row per (identifier, attempt_type).
type AttemptRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAttemptRepository constructs an attempt repository.
func NewAttemptRepository(exec pgExecutor) *AttemptRepository {
	return &AttemptRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Get returns the record for the pair, or repository.ErrNotFound.
func (r *AttemptRepository) Get(ctx context.Context, identifier string, attemptType domain.AttemptType) (*domain.FailedAttemptRecord, error) {
	stmt, args, err := r.builder.Select("identifier", "attempt_type", "attempt_count", "last_attempt_at", "locked_until").
		From("failed_attempts").
		Where(squirrel.Eq{"identifier": identifier, "attempt_type": string(attemptType)}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select attempt sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		record      domain.FailedAttemptRecord
		storedType  string
		lockedUntil sql.NullTime
	)

	if err := row.Scan(&record.Identifier, &storedType, &record.AttemptCount, &record.LastAttemptAt, &lockedUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan failed attempt: %w", err)
	}

	record.AttemptType = domain.AttemptType(storedType)
	if lockedUntil.Valid {
		t := lockedUntil.Time
		record.LockedUntil = &t
	}

	return &record, nil
}

// RecordFailure increments the attempt count atomically. The idle reset lives
// inside the upsert so that a stale row restarts at 1 rather than continuing
// an hour-old streak; the post-increment count comes back with the statement.
func (r *AttemptRepository) RecordFailure(ctx context.Context, identifier string, attemptType domain.AttemptType, at time.Time) (int, error) {
	const stmt = `
INSERT INTO failed_attempts (identifier, attempt_type, attempt_count, last_attempt_at, locked_until)
VALUES ($1, $2, 1, $3, NULL)
ON CONFLICT (identifier, attempt_type) DO UPDATE SET
    attempt_count = CASE
        WHEN failed_attempts.last_attempt_at < $3 - make_interval(secs => $4) THEN 1
        ELSE failed_attempts.attempt_count + 1
    END,
    locked_until = CASE
        WHEN failed_attempts.last_attempt_at < $3 - make_interval(secs => $4) THEN NULL
        ELSE failed_attempts.locked_until
    END,
    last_attempt_at = $3
RETURNING attempt_count`

	var count int
	err := r.exec.QueryRow(ctx, stmt, identifier, string(attemptType), at, domain.AttemptIdleReset.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("record failed attempt: %w", err)
	}

	return count, nil
}

// SetLockout stamps the lockout expiry on the row.
func (r *AttemptRepository) SetLockout(ctx context.Context, identifier string, attemptType domain.AttemptType, until time.Time) error {
	stmt, args, err := r.builder.Update("failed_attempts").
		Set("locked_until", until).
		Where(squirrel.Eq{"identifier": identifier, "attempt_type": string(attemptType)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set lockout sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("set lockout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Clear removes the record, returning the identifier to the clear state.
func (r *AttemptRepository) Clear(ctx context.Context, identifier string, attemptType domain.AttemptType) error {
	stmt, args, err := r.builder.Delete("failed_attempts").
		Where(squirrel.Eq{"identifier": identifier, "attempt_type": string(attemptType)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build clear attempt sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("clear failed attempts: %w", err)
	}

	return nil
}

var _ port.AttemptRepository = (*AttemptRepository)(nil)
