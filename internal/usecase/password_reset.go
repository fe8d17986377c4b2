package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/infra/logger"
	"github.com/framehost/authcore/internal/infra/security"
	"github.com/framehost/authcore/internal/repository"
)

const resetTemplate = "password_reset"

// ErrResetTokenInvalid indicates the reset token is unknown, used, or expired.
var ErrResetTokenInvalid = errors.New("reset token invalid")

// PasswordResetService issues and redeems password-reset tokens.
type PasswordResetService struct {
	identities        port.IdentityRepository
	tokens            *TokenService
	mailer            port.Mailer
	passwordValidator *security.PasswordValidator
	logger            *zap.Logger
}

// NewPasswordResetService constructs a password reset service.
func NewPasswordResetService(identities port.IdentityRepository, tokens *TokenService, mailer port.Mailer, validator *security.PasswordValidator, log *zap.Logger) *PasswordResetService {
	if validator == nil {
		validator = security.DefaultPasswordValidator()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PasswordResetService{
		identities:        identities,
		tokens:            tokens,
		mailer:            mailer,
		passwordValidator: validator,
		logger:            log,
	}
}

// Request issues a reset token for the email and dispatches it. Unknown
// emails succeed silently so the endpoint does not expose which addresses
// hold accounts.
func (s *PasswordResetService) Request(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup identity: %w", err)
	}

	token, err := s.tokens.IssuePasswordReset(ctx, identity.ID)
	if err != nil {
		return err
	}

	if s.mailer == nil {
		return nil
	}
	if err := s.mailer.Send(ctx, identity.Email, resetTemplate, token); err != nil {
		s.logger.Warn("send reset mail failed",
			zap.String("email", logger.MaskEmail(identity.Email)),
			zap.Error(err),
		)
	}
	return nil
}

// Reset redeems a reset token and replaces the password. Every refresh token
// the identity holds is revoked; a stolen session does not survive a reset.
func (s *PasswordResetService) Reset(ctx context.Context, token, newPassword string) error {
	if err := s.passwordValidator.Validate(newPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicyViolation, err)
	}

	identityID, err := s.tokens.RedeemPasswordReset(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) || errors.Is(err, ErrExpiredRefreshToken) {
			return ErrResetTokenInvalid
		}
		return err
	}

	passwordHash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.identities.UpdatePassword(ctx, identityID, passwordHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	revoked, err := s.tokens.RevokeAll(ctx, identityID)
	if err != nil {
		return err
	}

	s.logger.Info("password reset completed",
		zap.String("user_id", identityID),
		zap.Int("sessions_revoked", revoked),
	)
	return nil
}
