package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/infra/logger"
	"github.com/framehost/authcore/internal/infra/security"
	"github.com/framehost/authcore/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the provided email or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountSuspended indicates the account is under an active suspension.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrAccountLocked indicates the identifier is under a lockout.
	ErrAccountLocked = errors.New("account locked")
)

// AuthService coordinates the credential flows: login, refresh, logout.
// Lockout pre-checks happen at the gateway; this service records outcomes.
type AuthService struct {
	identities port.IdentityRepository
	tokens     *TokenService
	lockouts   *LockoutTracker
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(identities port.IdentityRepository, tokens *TokenService, lockouts *LockoutTracker, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}

	service := &AuthService{
		identities: identities,
		tokens:     tokens,
		lockouts:   lockouts,
		logger:     log,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) *AuthService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Login validates credentials and issues a token pair. Every failure feeds
// the lockout counter for the identifier, including failures against emails
// that do not exist, so probing unknown accounts locks out too. The returned
// LockoutStatus carries the CAPTCHA hint and lockout expiry for the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (domain.TokenPair, *domain.Identity, domain.LockoutStatus, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.TokenPair{}, nil, domain.LockoutStatus{}, ErrInvalidCredentials
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			status := s.recordFailure(ctx, email)
			return domain.TokenPair{}, nil, status, ErrInvalidCredentials
		}
		return domain.TokenPair{}, nil, domain.LockoutStatus{}, fmt.Errorf("lookup identity: %w", err)
	}

	ok, err := security.VerifyPassword(password, identity.PasswordHash)
	if err != nil {
		return domain.TokenPair{}, nil, domain.LockoutStatus{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		status := s.recordFailure(ctx, email)
		return domain.TokenPair{}, nil, status, ErrInvalidCredentials
	}

	if identity.Suspended {
		return domain.TokenPair{}, nil, domain.LockoutStatus{}, ErrAccountSuspended
	}

	if err := s.lockouts.RecordSuccess(ctx, email, domain.AttemptLogin); err != nil {
		s.logger.Warn("clear lockout record failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
	}

	if err := s.identities.TouchLastLogin(ctx, identity.ID, s.now()); err != nil {
		s.logger.Warn("touch last login failed",
			zap.String("user_id", identity.ID),
			zap.Error(err),
		)
	}

	pair, err := s.tokens.IssuePair(ctx, *identity)
	if err != nil {
		return domain.TokenPair{}, nil, domain.LockoutStatus{}, err
	}

	sanitized := *identity
	sanitized.PasswordHash = ""

	return pair, &sanitized, domain.LockoutStatus{}, nil
}

// Refresh exchanges a refresh token for a successor pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	record, err := s.tokens.LookupRefreshToken(ctx, refreshToken)
	if err != nil {
		return domain.TokenPair{}, err
	}

	identity, err := s.identities.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.TokenPair{}, ErrInvalidRefreshToken
		}
		return domain.TokenPair{}, fmt.Errorf("lookup identity: %w", err)
	}

	if identity.Suspended {
		return domain.TokenPair{}, ErrAccountSuspended
	}

	return s.tokens.Rotate(ctx, refreshToken, *identity)
}

// Logout revokes the presented refresh token's entire family, ending the
// session on every device that shares the lineage.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.RevokeFamilyOf(ctx, refreshToken)
}

func (s *AuthService) recordFailure(ctx context.Context, email string) domain.LockoutStatus {
	status, err := s.lockouts.RecordFailure(ctx, email, domain.AttemptLogin)
	if err != nil {
		s.logger.Error("record login failure failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
	}
	return status
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
