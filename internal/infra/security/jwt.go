package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidAccessToken indicates the token is malformed or its signature
	// failed verification.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the token is past its expiry.
	ErrExpiredAccessToken = errors.New("access token expired")
)

// AccessClaims augments registered claims with the subject's tier.
type AccessClaims struct {
	UserID string `json:"uid"`
	Tier   string `json:"tier"`
	jwt.RegisteredClaims
}

// JWTSigner signs and verifies HS256 access tokens. Verification is pure CPU:
// it recomputes the signature and checks expiry, never touching a store. The
// consequence is an accepted staleness window — a compromised access token
// cannot be revoked before its natural expiry; only refresh tokens can.
type JWTSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTSigner constructs a signer with the given symmetric secret.
func NewJWTSigner(secret, issuer string, ttl time.Duration) (*JWTSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	signer := &JWTSigner{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
	}
	signer.now = func() time.Time { return time.Now().UTC() }
	return signer, nil
}

// WithClock overrides the signer clock for deterministic tests.
func (s *JWTSigner) WithClock(clock func() time.Time) *JWTSigner {
	if clock != nil {
		s.now = clock
	}
	return s
}

// TTL reports the configured access-token lifetime.
func (s *JWTSigner) TTL() time.Duration {
	return s.ttl
}

// Sign issues a token for the subject, returning the compact form and its expiry.
func (s *JWTSigner) Sign(userID, tier, jti string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, fmt.Errorf("user id is required")
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := AccessClaims{
		UserID: userID,
		Tier:   tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify validates the compact token and returns its claims.
func (s *JWTSigner) Verify(tokenString string) (*AccessClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidAccessToken
	}

	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredAccessToken
		}
		return nil, ErrInvalidAccessToken
	}

	if parsed == nil || !parsed.Valid {
		return nil, ErrInvalidAccessToken
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidAccessToken
	}

	return claims, nil
}
