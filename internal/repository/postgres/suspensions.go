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

// suspensionDB is a pgExecutor that can also open transactions. Creating a
// suspension writes two tables and must commit them together.
type suspensionDB interface {
	pgExecutor
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SuspensionRepository reads and writes suspensions in the suspensions table.
type SuspensionRepository struct {
	db      suspensionDB
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewSuspensionRepository constructs a suspension repository.
func NewSuspensionRepository(db suspensionDB) *SuspensionRepository {
	repo := &SuspensionRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	repo.now = func() time.Time { return time.Now().UTC() }
	return repo
}

// Create inserts a suspension and mirrors the flag onto the identity row so
// credential checks see it without a join. Both writes commit in one
// transaction: a suspension row must never exist without its identity flag.
func (r *SuspensionRepository) Create(ctx context.Context, suspension domain.Suspension) error {
	stmt, args, err := r.builder.Insert("suspensions").
		Columns("id", "identity_id", "reason", "suspended_at", "suspended_until", "active").
		Values(suspension.ID, suspension.IdentityID, suspension.Reason, suspension.SuspendedAt, suspension.SuspendedUntil, suspension.Active).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert suspension sql: %w", err)
	}

	flagStmt, flagArgs, err := r.builder.Update("identities").
		Set("suspended", true).
		Where(squirrel.Eq{"id": suspension.IdentityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build flag identity sql: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin suspension tx: %w", err)
	}
	// No-op once the transaction commits.
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert suspension: %w", err)
	}
	if _, err := tx.Exec(ctx, flagStmt, flagArgs...); err != nil {
		return fmt.Errorf("flag identity suspended: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit suspension: %w", err)
	}

	return nil
}

// GetActive returns the in-effect suspension for the identity, or
// repository.ErrNotFound when none applies. A suspension whose window has
// elapsed is not in effect even while its row still says active.
func (r *SuspensionRepository) GetActive(ctx context.Context, identityID string) (*domain.Suspension, error) {
	now := r.now()
	stmt, args, err := r.builder.Select("id", "identity_id", "reason", "suspended_at", "suspended_until", "active").
		From("suspensions").
		Where(squirrel.Eq{"identity_id": identityID, "active": true}).
		Where(squirrel.Or{
			squirrel.Expr("suspended_until IS NULL"),
			squirrel.Gt{"suspended_until": now},
		}).
		OrderBy("suspended_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select suspension sql: %w", err)
	}

	row := r.db.QueryRow(ctx, stmt, args...)

	var (
		suspension domain.Suspension
		until      sql.NullTime
	)

	if err := row.Scan(&suspension.ID, &suspension.IdentityID, &suspension.Reason, &suspension.SuspendedAt, &until, &suspension.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan suspension: %w", err)
	}

	if until.Valid {
		t := until.Time
		suspension.SuspendedUntil = &t
	}

	return &suspension, nil
}

// Lift deactivates a suspension.
func (r *SuspensionRepository) Lift(ctx context.Context, suspensionID string) error {
	stmt, args, err := r.builder.Update("suspensions").
		Set("active", false).
		Where(squirrel.Eq{"id": suspensionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build lift suspension sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("lift suspension: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

var _ port.SuspensionRepository = (*SuspensionRepository)(nil)
