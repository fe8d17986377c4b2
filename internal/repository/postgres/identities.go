package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/repository"
)

const uniqueViolation = "23505"

// IdentityRepository implements port.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewIdentityRepository constructs a repository backed by any pgExecutor.
func NewIdentityRepository(exec pgExecutor) *IdentityRepository {
	return &IdentityRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var identityColumns = []string{
	"id",
	"email",
	"password_hash",
	"tier",
	"email_verified",
	"suspended",
	"created_at",
	"last_login",
}

// Create inserts a new identity record.
func (r *IdentityRepository) Create(ctx context.Context, identity domain.Identity) error {
	stmt, args, err := r.builder.Insert("identities").
		Columns(identityColumns...).
		Values(
			identity.ID,
			identity.Email,
			identity.PasswordHash,
			string(identity.Tier),
			identity.EmailVerified,
			identity.Suspended,
			identity.CreatedAt,
			identity.LastLogin,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert identity sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert identity: %w", err)
	}

	return nil
}

// GetByID retrieves an identity by primary key.
func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.getBy(ctx, squirrel.Eq{"id": id})
}

// GetByEmail retrieves an identity by email, matched case-insensitively.
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.getBy(ctx, squirrel.Expr("lower(email) = lower(?)", email))
}

func (r *IdentityRepository) getBy(ctx context.Context, pred any) (*domain.Identity, error) {
	stmt, args, err := r.builder.Select(identityColumns...).
		From("identities").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select identity sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		identity  domain.Identity
		tier      string
		lastLogin sql.NullTime
	)

	if err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.PasswordHash,
		&tier,
		&identity.EmailVerified,
		&identity.Suspended,
		&identity.CreatedAt,
		&lastLogin,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}

	identity.Tier = domain.ParseTier(tier)
	if lastLogin.Valid {
		t := lastLogin.Time
		identity.LastLogin = &t
	}

	return &identity, nil
}

// UpdatePassword replaces the stored credential hash.
func (r *IdentityRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	stmt, args, err := r.builder.Update("identities").
		Set("password_hash", passwordHash).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// MarkEmailVerified flips the verified flag.
func (r *IdentityRepository) MarkEmailVerified(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("identities").
		Set("email_verified", true).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark verified sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// TouchLastLogin records a successful authentication.
func (r *IdentityRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("identities").
		Set("last_login", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch last login sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}

	return nil
}

var _ port.IdentityRepository = (*IdentityRepository)(nil)
