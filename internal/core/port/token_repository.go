package port

import (
	"context"
	"time"

	"github.com/framehost/authcore/internal/core/domain"
)

// TokenRepository manages refresh, password-reset, and verification token records.
type TokenRepository interface {
	CreateRefreshToken(ctx context.Context, token domain.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// ConsumeRefreshToken atomically marks the token used+revoked. It affects
	// zero rows when another rotation already claimed the token; ok reports
	// whether this caller won.
	ConsumeRefreshToken(ctx context.Context, id string, at time.Time) (ok bool, err error)
	RevokeRefreshTokensByFamily(ctx context.Context, familyID string) (int, error)
	RevokeRefreshTokensForUser(ctx context.Context, userID string) (int, error)

	CreatePasswordReset(ctx context.Context, token domain.PasswordResetToken) error
	GetPasswordResetByHash(ctx context.Context, hash string) (*domain.PasswordResetToken, error)
	ConsumePasswordReset(ctx context.Context, id string, at time.Time) error

	CreateVerification(ctx context.Context, token domain.VerificationToken) error
	GetVerificationByHash(ctx context.Context, hash string) (*domain.VerificationToken, error)
	ConsumeVerification(ctx context.Context, id string, at time.Time) error
}
