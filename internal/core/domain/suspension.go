package domain

import "time"

// Suspension denies an identity all access while active. Created either by an
// automated malware-confidence crossing or by admin action outside this service.
type Suspension struct {
	ID             string
	IdentityID     string
	Reason         string
	SuspendedAt    time.Time
	SuspendedUntil *time.Time
	Active         bool
}

// InEffect reports whether the suspension still applies at the given instant.
// A nil SuspendedUntil means indefinite.
func (s Suspension) InEffect(at time.Time) bool {
	if !s.Active {
		return false
	}
	if s.SuspendedUntil == nil {
		return true
	}
	return s.SuspendedUntil.After(at)
}
