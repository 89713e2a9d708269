package models

import "strings"

// Tier is an ordinal-ranked subscription level gating model access.
type Tier string

// Tier constants from lowest to highest rank.
const (
	// TierFree is the default tier for unsubscribed users.
	TierFree Tier = "free"
	// TierStarter is the entry paid tier.
	TierStarter Tier = "starter"
	// TierBasic is the mid paid tier.
	TierBasic Tier = "basic"
	// TierPro is the highest paid tier.
	TierPro Tier = "pro"
)

// tierRanks maps each tier to its ordinal rank.
var tierRanks = map[Tier]int{
	TierFree:    0,
	TierStarter: 1,
	TierBasic:   2,
	TierPro:     3,
}

// Rank returns the tier's ordinal rank; unknown tiers rank below free.
func (t Tier) Rank() int {
	if rank, ok := tierRanks[t]; ok {
		return rank
	}
	return -1
}

// AtLeast reports whether the tier ranks at or above the minimum tier.
func (t Tier) AtLeast(min Tier) bool {
	return t.Rank() >= min.Rank()
}

// ParseTier normalizes a tier string, defaulting unknown values to free.
func ParseTier(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierRanks[t]; ok {
		return t
	}
	return TierFree
}
