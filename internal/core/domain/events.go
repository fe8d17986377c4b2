package domain

import "time"

// ContentFlaggedEvent notifies the moderation queue that an upload tripped a
// content or pattern heuristic.
type ContentFlaggedEvent struct {
	FlagID     string
	ImageID    string
	IdentityID string
	FlagType   string
	Confidence float64
	Reasons    []string
	FlaggedAt  time.Time
}

// AccountLockedEvent records a lockout engaging for an identifier.
type AccountLockedEvent struct {
	Identifier   string
	AttemptType  AttemptType
	FailureCount int
	LockedUntil  time.Time
	LockedAt     time.Time
}

// SuspensionCreatedEvent records an automated suspension.
type SuspensionCreatedEvent struct {
	SuspensionID string
	IdentityID   string
	Reason       string
	SuspendedAt  time.Time
}

// TokenFamilyRevokedEvent records a refresh-token lineage being torn down
// after reuse of an already-rotated token was detected.
type TokenFamilyRevokedEvent struct {
	FamilyID   string
	IdentityID string
	Revoked    int
	RevokedAt  time.Time
}
