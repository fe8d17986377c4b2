package domain

import "time"

// Tier enumerates subscription tiers. The zero value is intentionally invalid so
// that an unmapped tier can never resolve to an unlimited quota by accident.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierBusiness   Tier = "business"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether the tier is one of the known enumeration members.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierPro, TierBusiness, TierEnterprise:
		return true
	}
	return false
}

// ParseTier resolves a stored tier string, falling back to free for unknown values.
func ParseTier(s string) Tier {
	t := Tier(s)
	if !t.Valid() {
		return TierFree
	}
	return t
}

// Identity mirrors the persisted representation in the identities table.
type Identity struct {
	ID            string
	Email         string
	PasswordHash  string
	Tier          Tier
	EmailVerified bool
	Suspended     bool
	CreatedAt     time.Time
	LastLogin     *time.Time
}
