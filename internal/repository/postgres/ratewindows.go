package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
)

// CounterRepository persists fixed-window counters in the rate_windows table.
// One row per (subject_key, endpoint, window_start); the upsert is the single
// atomic step the whole rate-limit design leans on.
type CounterRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewCounterRepository constructs a counter repository.
func NewCounterRepository(exec pgExecutor) *CounterRepository {
	return &CounterRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Peek returns the current count for the window without recording anything.
func (r *CounterRepository) Peek(ctx context.Context, subject string, endpoint domain.EndpointClass, windowStart time.Time) (int, error) {
	stmt, args, err := r.builder.Select("count").
		From("rate_windows").
		Where(squirrel.Eq{
			"subject_key":  subject,
			"endpoint":     string(endpoint),
			"window_start": windowStart,
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build peek sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("peek rate window: %w", err)
	}

	return count, nil
}

// Increment records one request via insert-or-increment and returns the
// post-increment count. Concurrent callers serialize on the row; neither can
// observe a stale count.
func (r *CounterRepository) Increment(ctx context.Context, subject string, endpoint domain.EndpointClass, windowStart time.Time, _ time.Duration) (int, error) {
	stmt, args, err := r.builder.Insert("rate_windows").
		Columns("subject_key", "endpoint", "window_start", "count").
		Values(subject, string(endpoint), windowStart, 1).
		Suffix("ON CONFLICT (subject_key, endpoint, window_start) DO UPDATE SET count = rate_windows.count + 1 RETURNING count").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment rate window: %w", err)
	}

	return count, nil
}

// PruneBefore reclaims rows whose window started before the retention horizon.
func (r *CounterRepository) PruneBefore(ctx context.Context, horizon time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("rate_windows").
		Where(squirrel.Lt{"window_start": horizon}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build prune sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("prune rate windows: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

var _ port.CounterStore = (*CounterRepository)(nil)
