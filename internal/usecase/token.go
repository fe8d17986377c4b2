package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/infra/config"
	"github.com/framehost/authcore/internal/infra/security"
	"github.com/framehost/authcore/internal/repository"
)

var (
	// ErrInvalidRefreshToken indicates the provided refresh token does not exist.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrExpiredRefreshToken indicates the provided refresh token has expired.
	ErrExpiredRefreshToken = errors.New("refresh token expired")
	// ErrRevokedRefreshToken indicates the token was already rotated or revoked.
	// Reuse of a rotated token is the theft signal that tears down its lineage.
	ErrRevokedRefreshToken = errors.New("refresh token revoked")
)

const refreshTokenBytes = 32

// TokenService issues, verifies, and rotates access/refresh token pairs.
// Access tokens are stateless; refresh tokens are store-tracked and rotate on
// every use, chained by family.
type TokenService struct {
	cfg    *config.AppConfig
	signer *security.JWTSigner
	tokens port.TokenRepository
	events port.EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(cfg *config.AppConfig, signer *security.JWTSigner, tokens port.TokenRepository, events port.EventPublisher, logger *zap.Logger) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &TokenService{
		cfg:    cfg,
		signer: signer,
		tokens: tokens,
		events: events,
		logger: logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) *TokenService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// IssuePair mints a fresh access/refresh pair for the identity, starting a new
// refresh-token family.
func (s *TokenService) IssuePair(ctx context.Context, identity domain.Identity) (domain.TokenPair, error) {
	return s.issuePair(ctx, identity, uuid.NewString())
}

func (s *TokenService) issuePair(ctx context.Context, identity domain.Identity, familyID string) (domain.TokenPair, error) {
	if identity.ID == "" {
		return domain.TokenPair{}, fmt.Errorf("identity id is required")
	}

	accessToken, expiresAt, err := s.signer.Sign(identity.ID, string(identity.Tier), uuid.NewString())
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}

	raw, err := security.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now()
	ttl := s.cfg.JWT.RefreshTokenTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	record := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    identity.ID,
		TokenHash: security.HashToken(raw),
		FamilyID:  familyID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.tokens.CreateRefreshToken(ctx, record); err != nil {
		return domain.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}

	return domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: raw,
		ExpiresAt:    expiresAt,
	}, nil
}

// Verify validates an access token offline. Pure CPU, no store lookup; a
// revoked account keeps a working access token until natural expiry, which is
// the accepted trade-off for a store-free hot path.
func (s *TokenService) Verify(tokenString string) (*security.AccessClaims, error) {
	return s.signer.Verify(tokenString)
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// consumed atomically; of N concurrent calls with the same token exactly one
// wins, and the rest receive ErrRevokedRefreshToken. Presenting a token that
// was already rotated revokes its entire family, since reuse strongly
// suggests the token was stolen.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string, identity domain.Identity) (domain.TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.TokenPair{}, ErrInvalidRefreshToken
	}

	record, err := s.tokens.GetRefreshTokenByHash(ctx, security.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.TokenPair{}, ErrInvalidRefreshToken
		}
		return domain.TokenPair{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	now := s.now()

	if record.UsedAt != nil || record.IsRevoked() {
		s.handleReuse(ctx, record)
		return domain.TokenPair{}, ErrRevokedRefreshToken
	}
	if record.IsExpired(now) {
		return domain.TokenPair{}, ErrExpiredRefreshToken
	}

	won, err := s.tokens.ConsumeRefreshToken(ctx, record.ID, now)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("consume refresh token: %w", err)
	}
	if !won {
		// Lost the race against a concurrent rotation of the same token.
		return domain.TokenPair{}, ErrRevokedRefreshToken
	}

	pair, err := s.issuePair(ctx, identity, record.FamilyID)
	if err != nil {
		return domain.TokenPair{}, err
	}

	return pair, nil
}

// LookupRefreshToken resolves the owner of a presented refresh token without
// consuming it. Rotation callers use it to load the identity first.
func (s *TokenService) LookupRefreshToken(ctx context.Context, refreshToken string) (*domain.RefreshToken, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	record, err := s.tokens.GetRefreshTokenByHash(ctx, security.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	return record, nil
}

// RevokeFamilyOf revokes the family of the presented refresh token. An
// unknown or already-revoked token is not an error; logout is idempotent.
func (s *TokenService) RevokeFamilyOf(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	record, err := s.tokens.GetRefreshTokenByHash(ctx, security.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup refresh token: %w", err)
	}

	if _, err := s.tokens.RevokeRefreshTokensByFamily(ctx, record.FamilyID); err != nil {
		return fmt.Errorf("revoke token family: %w", err)
	}
	return nil
}

// RevokeAll revokes every non-expired refresh token for the identity. Called
// on password reset and on lineage-reuse detection.
func (s *TokenService) RevokeAll(ctx context.Context, identityID string) (int, error) {
	if strings.TrimSpace(identityID) == "" {
		return 0, fmt.Errorf("identity id is required")
	}

	count, err := s.tokens.RevokeRefreshTokensForUser(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}

	return count, nil
}

// handleReuse tears down the family of a reused token. Best effort: the
// caller's rejection does not depend on it.
func (s *TokenService) handleReuse(ctx context.Context, record *domain.RefreshToken) {
	revoked, err := s.tokens.RevokeRefreshTokensByFamily(ctx, record.FamilyID)
	if err != nil {
		s.logger.Error("revoke token family failed",
			zap.String("family_id", record.FamilyID),
			zap.Error(err),
		)
		return
	}

	s.logger.Warn("refresh token reuse detected, family revoked",
		zap.String("family_id", record.FamilyID),
		zap.String("user_id", record.UserID),
		zap.Int("revoked", revoked),
	)

	if s.events != nil {
		event := domain.TokenFamilyRevokedEvent{
			FamilyID:   record.FamilyID,
			IdentityID: record.UserID,
			Revoked:    revoked,
			RevokedAt:  s.now(),
		}
		if err := s.events.PublishTokenFamilyRevoked(ctx, event); err != nil {
			s.logger.Warn("publish token family revoked failed", zap.Error(err))
		}
	}
}

// IssuePasswordReset mints a single-use password-reset token.
func (s *TokenService) IssuePasswordReset(ctx context.Context, identityID string) (string, error) {
	raw, err := security.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}

	now := s.now()
	ttl := s.cfg.JWT.PasswordResetTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	record := domain.PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    identityID,
		TokenHash: security.HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.tokens.CreatePasswordReset(ctx, record); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	return raw, nil
}

// RedeemPasswordReset consumes a reset token and returns its owner.
func (s *TokenService) RedeemPasswordReset(ctx context.Context, token string) (string, error) {
	record, err := s.tokens.GetPasswordResetByHash(ctx, security.HashToken(strings.TrimSpace(token)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidRefreshToken
		}
		return "", fmt.Errorf("lookup reset token: %w", err)
	}

	now := s.now()
	if record.UsedAt != nil || record.IsExpired(now) {
		return "", ErrExpiredRefreshToken
	}

	if err := s.tokens.ConsumePasswordReset(ctx, record.ID, now); err != nil {
		return "", fmt.Errorf("consume reset token: %w", err)
	}

	return record.UserID, nil
}

// IssueVerification mints a single-use email-verification token.
func (s *TokenService) IssueVerification(ctx context.Context, identityID string) (string, error) {
	raw, err := security.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}

	now := s.now()
	ttl := s.cfg.JWT.EmailVerificationTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	record := domain.VerificationToken{
		ID:        uuid.NewString(),
		UserID:    identityID,
		TokenHash: security.HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.tokens.CreateVerification(ctx, record); err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}

	return raw, nil
}

// RedeemVerification consumes a verification token and returns its owner.
func (s *TokenService) RedeemVerification(ctx context.Context, token string) (string, error) {
	record, err := s.tokens.GetVerificationByHash(ctx, security.HashToken(strings.TrimSpace(token)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidRefreshToken
		}
		return "", fmt.Errorf("lookup verification token: %w", err)
	}

	now := s.now()
	if record.UsedAt != nil || record.IsExpired(now) {
		return "", ErrExpiredRefreshToken
	}

	if err := s.tokens.ConsumeVerification(ctx, record.ID, now); err != nil {
		return "", fmt.Errorf("consume verification token: %w", err)
	}

	return record.UserID, nil
}
