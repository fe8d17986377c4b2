package domain

import "time"

// TokenPair is what a successful login, registration, or rotation hands back to
// the client: a short-lived signed access token and its opaque refresh companion.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// RefreshToken represents a persisted refresh token (stored as a hash).
// FamilyID ties together the rotation lineage descending from one issuance.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	FamilyID  string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	RevokedAt *time.Time
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsRevoked reports whether the token has been explicitly revoked.
func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActive returns true when the token can still be presented for rotation.
func (t RefreshToken) IsActive(at time.Time) bool {
	if t.IsRevoked() || t.UsedAt != nil {
		return false
	}
	return !t.IsExpired(at)
}

// PasswordResetToken represents a single-use password reset token hash.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// IsExpired reports whether the password reset token can still be redeemed.
func (t PasswordResetToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// Consume marks the password reset token as used.
// Returns true when the token transitions from unused to used.
func (t *PasswordResetToken) Consume(at time.Time) bool {
	if t.UsedAt != nil {
		return false
	}
	timeCopy := at
	t.UsedAt = &timeCopy
	return true
}

// VerificationToken captures the email verification flow.
type VerificationToken struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// IsExpired reports whether the verification token can still be redeemed.
func (t VerificationToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// Consume marks the verification token as used.
func (t *VerificationToken) Consume(at time.Time) bool {
	if t.UsedAt != nil {
		return false
	}
	timeCopy := at
	t.UsedAt = &timeCopy
	return true
}
