package entitlements

import (
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// Catalog maps payment processor price ids to tiers. It is built once at
// startup and never mutated afterwards.
type Catalog struct {
	prices map[string]Tier
}

// NewCatalog builds a catalog from a price id -> tier table. Entries with an
// empty price id or an unknown tier are skipped.
func NewCatalog(prices map[string]Tier) *Catalog {
	c := &Catalog{prices: make(map[string]Tier, len(prices))}
	for id, tier := range prices {
		id = strings.TrimSpace(id)
		if id == "" || !tier.Valid() {
			log.Warnf("entitlements: skipping catalog entry price=%q tier=%q", id, tier)
			continue
		}
		c.prices[id] = tier
	}
	return c
}

// DefaultCatalog is the table used when no price ids are configured.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[string]Tier{
		"price_contender": TierContender,
		"price_warrior":   TierWarrior,
		"price_legend":    TierLegend,
	})
}

// PriceIDToTier resolves a price id. Unknown ids resolve to the lowest tier
// so an unrecognized price never grants more than intended.
func (c *Catalog) PriceIDToTier(priceID string) Tier {
	if t, ok := c.prices[strings.TrimSpace(priceID)]; ok {
		return t
	}
	log.Warnf("entitlements: unrecognized price id %q, falling back to %s", priceID, DefaultTier)
	return DefaultTier
}

// KnownPrice reports whether the price id is part of the catalog.
func (c *Catalog) KnownPrice(priceID string) bool {
	_, ok := c.prices[strings.TrimSpace(priceID)]
	return ok
}
