// Package access is the single checkpoint feature code calls before
// admitting a user to tier-gated functionality.
package access

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/FitClash/app/models"
	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
	"github.com/ManuelReschke/FitClash/internal/pkg/metrics"
	"github.com/ManuelReschke/FitClash/internal/pkg/subscription"
)

// Deny reasons.
const (
	ReasonUnauthenticated  = "unauthenticated"
	ReasonInsufficientTier = "insufficient_tier"
)

// Decision is the result of an authorization check. AdminGrantID is set when
// the decision was an admin override.
type Decision struct {
	Allowed      bool                `json:"allowed"`
	Reason       string              `json:"reason,omitempty"`
	Required     entitlements.Tier   `json:"required_tier"`
	Tier         entitlements.Tier   `json:"tier,omitempty"`
	Source       entitlements.Source `json:"source,omitempty"`
	AdminGrantID uint                `json:"admin_grant_id,omitempty"`
}

// Gate answers Allow/Deny for (user, required tier). It never mutates state
// and fails closed: when the tier cannot be determined it returns an error.
type Gate struct {
	subs   subscription.Reader
	admins AdminStore
}

// NewGate creates a gate. A nil admin store disables admin overrides.
func NewGate(subs subscription.Reader, admins AdminStore) *Gate {
	return &Gate{subs: subs, admins: admins}
}

// Authorize decides whether userID may use a feature requiring required.
func (g *Gate) Authorize(ctx context.Context, userID string, required entitlements.Tier) (Decision, error) {
	const op = "access.authorize"
	d := Decision{Required: required}
	if !required.Valid() {
		metrics.AccessDecisionsTotal.WithLabelValues("invalid", "error").Inc()
		return Decision{}, apperror.Invalid(op, "unknown required tier", "tier", required)
	}
	if userID == "" {
		d.Reason = ReasonUnauthenticated
		d.Tier = entitlements.DefaultTier
		g.observe(d, "deny")
		return d, nil
	}

	grant, err := g.AdminGrant(ctx, userID)
	if err != nil {
		g.observe(d, "error")
		return Decision{}, err
	}
	if entitlements.IsAdminOverride(grant) {
		d.Allowed = true
		d.AdminGrantID = grant.ID
		log.Infow("access: admin override",
			"grant_id", grant.ID, "user_id", userID, "required_tier", required)
		g.observe(d, "admin_override")
		return d, nil
	}

	sub, err := g.subs.GetActive(ctx, userID)
	if err != nil {
		g.observe(d, "error")
		return Decision{}, err
	}
	ent := entitlements.Resolve(sub)
	d.Tier = ent.Tier
	d.Source = ent.Source
	if entitlements.HasAccess(ent.Tier, required) {
		d.Allowed = true
		g.observe(d, "allow")
		return d, nil
	}
	d.Reason = ReasonInsufficientTier
	g.observe(d, "deny")
	return d, nil
}

// AdminGrant returns the user's active admin grant, or nil.
func (g *Gate) AdminGrant(ctx context.Context, userID string) (*models.AdminGrant, error) {
	if g.admins == nil || userID == "" {
		return nil, nil
	}
	grant, err := g.admins.ActiveGrant(ctx, userID)
	if err != nil {
		var appErr *apperror.Error
		if !errors.As(err, &appErr) {
			err = apperror.New(apperror.KindUnavailable, "access.admin_grant", err, "user_id", userID)
		}
		return nil, err
	}
	return grant, nil
}

func (g *Gate) observe(d Decision, result string) {
	metrics.AccessDecisionsTotal.WithLabelValues(string(d.Required), result).Inc()
}
