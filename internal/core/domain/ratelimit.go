package domain

import "time"

// EndpointClass buckets request paths for quota purposes. Limits are resolved
// against this closed enumeration rather than raw paths so that a typo can
// never fall through to unlimited.
type EndpointClass string

const (
	EndpointUpload  EndpointClass = "upload"
	EndpointAPI     EndpointClass = "api"
	EndpointAuth    EndpointClass = "auth"
	EndpointGeneral EndpointClass = "general"
)

// Valid reports whether the class is a known enumeration member.
func (c EndpointClass) Valid() bool {
	switch c {
	case EndpointUpload, EndpointAPI, EndpointAuth, EndpointGeneral:
		return true
	}
	return false
}

// Limit describes a quota over a fixed window. Unlimited is an explicit state,
// never a sentinel large integer.
type Limit struct {
	Count     int
	Window    time.Duration
	Unlimited bool
}

// NoLimit returns the unlimited sentinel.
func NoLimit() Limit {
	return Limit{Unlimited: true}
}

// Per builds a bounded limit.
func Per(count int, window time.Duration) Limit {
	return Limit{Count: count, Window: window}
}

// LimitFor resolves the quota for an authenticated subject. The mapping is
// exhaustive over both enumerations; unknown inputs resolve to the free tier's
// general limit, the most restrictive interpretation.
func LimitFor(tier Tier, class EndpointClass) Limit {
	switch class {
	case EndpointUpload:
		switch tier {
		case TierFree:
			return Per(100, 24*time.Hour)
		case TierStarter:
			return Per(1000, 24*time.Hour)
		case TierPro:
			return Per(10000, 24*time.Hour)
		case TierBusiness, TierEnterprise:
			return NoLimit()
		}
	case EndpointAPI:
		switch tier {
		case TierFree:
			return Per(1000, 24*time.Hour)
		case TierStarter:
			return Per(5000, 24*time.Hour)
		case TierPro:
			return Per(50000, 24*time.Hour)
		case TierBusiness, TierEnterprise:
			return NoLimit()
		}
	case EndpointAuth:
		return Per(10, time.Hour)
	case EndpointGeneral:
		return Per(1000, time.Hour)
	}
	return Per(100, time.Hour)
}

// IPLimitFor resolves the stricter quota applied to unauthenticated requests,
// keyed by client IP.
func IPLimitFor(class EndpointClass) Limit {
	if class == EndpointAuth {
		return Per(10, time.Hour)
	}
	return Per(100, time.Hour)
}

// RateWindow is one fixed-window counter row: at most one row exists per
// (subject, endpoint class, window start), and its count only increases
// within the window.
type RateWindow struct {
	SubjectKey  string
	Endpoint    EndpointClass
	WindowStart time.Time
	Count       int
}

// WindowStart buckets an instant into its fixed window.
func WindowStart(at time.Time, window time.Duration) time.Time {
	return at.Truncate(window)
}

// RateDecision is the outcome of a quota check or reservation.
type RateDecision struct {
	Allowed   bool
	Limit     Limit
	Remaining int
	ResetAt   time.Time
}

// RetryAfter derives the wait until the window rolls over.
func (d RateDecision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
