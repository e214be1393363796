package entitlements

import "github.com/ManuelReschke/FitClash/app/models"

// Source tells whether an entitlement comes from a subscription row or from
// the implicit default.
type Source string

const (
	SourceSubscription Source = "subscription"
	SourceDefault      Source = "default"
)

// Entitlement is the resolved tier for a user. Subscription is only set when
// Source is SourceSubscription.
type Entitlement struct {
	Source       Source
	Tier         Tier
	Subscription *models.Subscription
}

// Resolve turns an optional subscription into a concrete entitlement.
func Resolve(sub *models.Subscription) Entitlement {
	if sub == nil || !sub.IsActive {
		return Entitlement{Source: SourceDefault, Tier: DefaultTier}
	}
	t, ok := ParseTier(sub.Tier)
	if !ok {
		return Entitlement{Source: SourceDefault, Tier: DefaultTier}
	}
	return Entitlement{Source: SourceSubscription, Tier: t, Subscription: sub}
}

// EffectiveTier is the tier used for access decisions.
func EffectiveTier(sub *models.Subscription) Tier {
	return Resolve(sub).Tier
}

// HasAccess reports whether userTier satisfies requiredTier.
func HasAccess(userTier, requiredTier Tier) bool {
	if !requiredTier.Valid() {
		return false
	}
	return RankOf(userTier) >= RankOf(requiredTier)
}

// IsAdminOverride reports whether the grant lets its holder bypass tier checks.
func IsAdminOverride(grant *models.AdminGrant) bool {
	return grant != nil && grant.ID != 0 && grant.RevokedAt == nil
}
