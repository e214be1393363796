package entitlements

import "strings"

// Tier is a membership level. Ordering comes from the rank table only.
type Tier string

const (
	TierRookie    Tier = "rookie"
	TierContender Tier = "contender"
	TierWarrior   Tier = "warrior"
	TierLegend    Tier = "legend"
)

// DefaultTier applies to users without an active subscription.
const DefaultTier = TierRookie

var tierRanks = map[Tier]int{
	TierRookie:    0,
	TierContender: 1,
	TierWarrior:   2,
	TierLegend:    3,
}

// AllTiers lists the tiers from lowest to highest rank.
func AllTiers() []Tier {
	return []Tier{TierRookie, TierContender, TierWarrior, TierLegend}
}

// RankOf returns the privilege rank of a tier. Unknown tiers rank below
// rookie so they never satisfy a requirement.
func RankOf(t Tier) int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return -1
}

// Valid reports whether t is a catalog tier.
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

func (t Tier) String() string { return string(t) }

// ParseTier normalizes a tier name.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", false
	}
	return t, true
}
