package domain

import "time"

// AttemptType distinguishes the credential flows that can lock out.
type AttemptType string

const (
	AttemptLogin    AttemptType = "login"
	AttemptRegister AttemptType = "register"
)

// Valid reports whether the attempt type is known.
func (a AttemptType) Valid() bool {
	return a == AttemptLogin || a == AttemptRegister
}

const (
	// CaptchaThreshold is the failure count at which the caller is told to
	// present a CAPTCHA. A hint, not an enforced block.
	CaptchaThreshold = 3
	// LockoutThreshold is the failure count at which lockout engages.
	LockoutThreshold = 5
	// AttemptIdleReset is how long a record may sit untouched before it is
	// treated as clear on the next read, without a write.
	AttemptIdleReset = time.Hour
)

// lockoutSchedule holds the escalation steps, in minutes, starting at the
// fifth failure.
var lockoutSchedule = [5]time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	1440 * time.Minute,
}

// LockoutDuration maps a failure count to its lockout duration. Counts below
// the threshold yield zero.
func LockoutDuration(count int) time.Duration {
	if count < LockoutThreshold {
		return 0
	}
	step := count - LockoutThreshold
	if step >= len(lockoutSchedule) {
		step = len(lockoutSchedule) - 1
	}
	return lockoutSchedule[step]
}

// FailedAttemptRecord is one row per (identifier, attempt type).
type FailedAttemptRecord struct {
	Identifier    string
	AttemptType   AttemptType
	AttemptCount  int
	LastAttemptAt time.Time
	LockedUntil   *time.Time
}

// IsIdle reports whether the record has aged past the lazy-reset horizon.
func (r FailedAttemptRecord) IsIdle(at time.Time) bool {
	return at.Sub(r.LastAttemptAt) > AttemptIdleReset
}

// LockoutStatus is the answer to "may this identifier attempt a credential?".
type LockoutStatus struct {
	Locked          bool
	Until           *time.Time
	RequiresCaptcha bool
	FailureCount    int
}
