package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/infra/logger"
	"github.com/framehost/authcore/internal/infra/security"
	"github.com/framehost/authcore/internal/repository"
)

const verificationTemplate = "verify_email"

var (
	// ErrEmailTaken indicates the email already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrPasswordPolicyViolation indicates the password does not satisfy strength requirements.
	ErrPasswordPolicyViolation = errors.New("password does not meet strength requirements")
)

// RegistrationService handles new account onboarding and email verification.
type RegistrationService struct {
	identities        port.IdentityRepository
	tokens            *TokenService
	lockouts          *LockoutTracker
	mailer            port.Mailer
	passwordValidator *security.PasswordValidator
	logger            *zap.Logger
	now               func() time.Time
}

// NewRegistrationService constructs a registration service.
func NewRegistrationService(identities port.IdentityRepository, tokens *TokenService, lockouts *LockoutTracker, mailer port.Mailer, validator *security.PasswordValidator, log *zap.Logger) *RegistrationService {
	if validator == nil {
		validator = security.DefaultPasswordValidator()
	}
	if log == nil {
		log = zap.NewNop()
	}

	service := &RegistrationService{
		identities:        identities,
		tokens:            tokens,
		lockouts:          lockouts,
		mailer:            mailer,
		passwordValidator: validator,
		logger:            log,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *RegistrationService) WithClock(clock func() time.Time) *RegistrationService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Register creates the identity, issues the initial token pair, and
// dispatches a verification mail. New accounts start on the free tier.
func (s *RegistrationService) Register(ctx context.Context, email, password string) (domain.Identity, domain.TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.Identity{}, domain.TokenPair{}, fmt.Errorf("email is required")
	}
	if password == "" {
		return domain.Identity{}, domain.TokenPair{}, fmt.Errorf("password is required")
	}

	if err := s.passwordValidator.Validate(password); err != nil {
		s.noteFailure(ctx, email)
		return domain.Identity{}, domain.TokenPair{}, fmt.Errorf("%w: %v", ErrPasswordPolicyViolation, err)
	}

	passwordHash, err := security.HashPassword(password)
	if err != nil {
		return domain.Identity{}, domain.TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	identity := domain.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Tier:         domain.TierFree,
		CreatedAt:    s.now(),
	}

	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.noteFailure(ctx, email)
			return domain.Identity{}, domain.TokenPair{}, ErrEmailTaken
		}
		return domain.Identity{}, domain.TokenPair{}, fmt.Errorf("create identity: %w", err)
	}

	if err := s.lockouts.RecordSuccess(ctx, email, domain.AttemptRegister); err != nil {
		s.logger.Warn("clear registration lockout failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
	}

	s.dispatchVerification(ctx, identity)

	pair, err := s.tokens.IssuePair(ctx, identity)
	if err != nil {
		return domain.Identity{}, domain.TokenPair{}, err
	}

	identity.PasswordHash = ""
	return identity, pair, nil
}

// VerifyEmail consumes a verification token and marks the owner verified.
func (s *RegistrationService) VerifyEmail(ctx context.Context, token string) error {
	identityID, err := s.tokens.RedeemVerification(ctx, token)
	if err != nil {
		return err
	}

	if err := s.identities.MarkEmailVerified(ctx, identityID); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// account. Unknown and already-verified emails succeed silently so the
// endpoint does not expose which addresses hold accounts.
func (s *RegistrationService) ResendVerification(ctx context.Context, email string) error {
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
	if identity.EmailVerified {
		return nil
	}

	s.dispatchVerification(ctx, *identity)
	return nil
}

// dispatchVerification issues and mails a verification token. Fire-and-forget:
// registration never fails because mail could not be produced.
func (s *RegistrationService) dispatchVerification(ctx context.Context, identity domain.Identity) {
	token, err := s.tokens.IssueVerification(ctx, identity.ID)
	if err != nil {
		s.logger.Error("issue verification token failed",
			zap.String("user_id", identity.ID),
			zap.Error(err),
		)
		return
	}

	if s.mailer == nil {
		return
	}
	if err := s.mailer.Send(ctx, identity.Email, verificationTemplate, token); err != nil {
		s.logger.Warn("send verification mail failed",
			zap.String("email", logger.MaskEmail(identity.Email)),
			zap.Error(err),
		)
	}
}

func (s *RegistrationService) noteFailure(ctx context.Context, email string) {
	if _, err := s.lockouts.RecordFailure(ctx, email, domain.AttemptRegister); err != nil {
		s.logger.Warn("record registration failure failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
	}
}
