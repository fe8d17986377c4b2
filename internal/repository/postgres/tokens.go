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

// TokenRepository implements port.TokenRepository using PostgreSQL tables.
type TokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewTokenRepository constructs a new token repository.
func NewTokenRepository(exec pgExecutor) *TokenRepository {
	repo := &TokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	repo.now = func() time.Time { return time.Now().UTC() }
	return repo
}

// CreateRefreshToken inserts a new refresh token record.
func (r *TokenRepository) CreateRefreshToken(ctx context.Context, token domain.RefreshToken) error {
	stmt, args, err := r.builder.Insert("refresh_tokens").
		Columns("id", "user_id", "token_hash", "family_id", "created_at", "expires_at", "used_at", "revoked_at").
		Values(token.ID, token.UserID, token.TokenHash, token.FamilyID, token.CreatedAt, token.ExpiresAt, token.UsedAt, token.RevokedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// GetRefreshTokenByHash retrieves a refresh token by its hashed value.
func (r *TokenRepository) GetRefreshTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select("id", "user_id", "token_hash", "family_id", "created_at", "expires_at", "used_at", "revoked_at").
		From("refresh_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		token     domain.RefreshToken
		usedAt    sql.NullTime
		revokedAt sql.NullTime
	)

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.FamilyID,
		&token.CreatedAt,
		&token.ExpiresAt,
		&usedAt,
		&revokedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	if usedAt.Valid {
		t := usedAt.Time
		token.UsedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		token.RevokedAt = &t
	}

	return &token, nil
}

// ConsumeRefreshToken marks the token used and revoked in a single conditional
// update. The WHERE clause is the arbiter for concurrent rotations: only the
// caller whose update affects a row has won the race.
func (r *TokenRepository) ConsumeRefreshToken(ctx context.Context, id string, at time.Time) (bool, error) {
	stmt, args, err := r.builder.Update("refresh_tokens").
		Set("used_at", at).
		Set("revoked_at", at).
		Where(squirrel.Eq{"id": id}).
		Where("used_at IS NULL").
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build consume refresh token sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("consume refresh token: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// RevokeRefreshTokensByFamily revokes every live token in the rotation lineage.
func (r *TokenRepository) RevokeRefreshTokensByFamily(ctx context.Context, familyID string) (int, error) {
	stmt, args, err := r.builder.Update("refresh_tokens").
		Set("revoked_at", r.now()).
		Where(squirrel.Eq{"family_id": familyID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke family sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens by family: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// RevokeRefreshTokensForUser revokes every non-expired token for the user.
func (r *TokenRepository) RevokeRefreshTokensForUser(ctx context.Context, userID string) (int, error) {
	now := r.now()
	stmt, args, err := r.builder.Update("refresh_tokens").
		Set("revoked_at", now).
		Where(squirrel.Eq{"user_id": userID}).
		Where("revoked_at IS NULL").
		Where(squirrel.Gt{"expires_at": now}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke user tokens sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens for user: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// CreatePasswordReset inserts a new password reset token record.
func (r *TokenRepository) CreatePasswordReset(ctx context.Context, token domain.PasswordResetToken) error {
	stmt, args, err := r.builder.Insert("password_reset_tokens").
		Columns("id", "user_id", "token_hash", "created_at", "expires_at", "used_at").
		Values(token.ID, token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.UsedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert password reset sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert password reset token: %w", err)
	}

	return nil
}

// GetPasswordResetByHash retrieves a password reset token by its hashed value.
func (r *TokenRepository) GetPasswordResetByHash(ctx context.Context, hash string) (*domain.PasswordResetToken, error) {
	stmt, args, err := r.builder.Select("id", "user_id", "token_hash", "created_at", "expires_at", "used_at").
		From("password_reset_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select password reset sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		token  domain.PasswordResetToken
		usedAt sql.NullTime
	)

	if err := row.Scan(&token.ID, &token.UserID, &token.TokenHash, &token.CreatedAt, &token.ExpiresAt, &usedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan password reset token: %w", err)
	}

	if usedAt.Valid {
		t := usedAt.Time
		token.UsedAt = &t
	}

	return &token, nil
}

// ConsumePasswordReset marks the reset token used.
func (r *TokenRepository) ConsumePasswordReset(ctx context.Context, id string, at time.Time) error {
	return r.consume(ctx, "password_reset_tokens", id, at)
}

// CreateVerification inserts a new verification token record.
func (r *TokenRepository) CreateVerification(ctx context.Context, token domain.VerificationToken) error {
	stmt, args, err := r.builder.Insert("verification_tokens").
		Columns("id", "user_id", "token_hash", "created_at", "expires_at", "used_at").
		Values(token.ID, token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.UsedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert verification sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert verification token: %w", err)
	}

	return nil
}

// GetVerificationByHash retrieves a verification token by its hashed value.
func (r *TokenRepository) GetVerificationByHash(ctx context.Context, hash string) (*domain.VerificationToken, error) {
	stmt, args, err := r.builder.Select("id", "user_id", "token_hash", "created_at", "expires_at", "used_at").
		From("verification_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select verification sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		token  domain.VerificationToken
		usedAt sql.NullTime
	)

	if err := row.Scan(&token.ID, &token.UserID, &token.TokenHash, &token.CreatedAt, &token.ExpiresAt, &usedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan verification token: %w", err)
	}

	if usedAt.Valid {
		t := usedAt.Time
		token.UsedAt = &t
	}

	return &token, nil
}

// ConsumeVerification marks the verification token used.
func (r *TokenRepository) ConsumeVerification(ctx context.Context, id string, at time.Time) error {
	return r.consume(ctx, "verification_tokens", id, at)
}

func (r *TokenRepository) consume(ctx context.Context, table, id string, at time.Time) error {
	stmt, args, err := r.builder.Update(table).
		Set("used_at", at).
		Where(squirrel.Eq{"id": id}).
		Where("used_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume token sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

var _ port.TokenRepository = (*TokenRepository)(nil)
