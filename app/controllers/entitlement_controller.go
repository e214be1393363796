package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/FitClash/internal/pkg/access"
	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
	"github.com/ManuelReschke/FitClash/internal/pkg/subscription"
	"github.com/ManuelReschke/FitClash/internal/pkg/usercontext"
)

// EntitlementController answers "what can I use" questions for the caller.
type EntitlementController struct {
	subs subscription.Reader
	gate *access.Gate
}

func NewEntitlementController(subs subscription.Reader, gate *access.Gate) *EntitlementController {
	return &EntitlementController{subs: subs, gate: gate}
}

// HandleMe returns the caller's effective tier and its source.
func (ec *EntitlementController) HandleMe(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	sub, err := ec.subs.GetActive(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	grant, err := ec.gate.AdminGrant(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}

	ent := entitlements.Resolve(sub)
	body := fiber.Map{
		"user_id":      userID,
		"tier":         ent.Tier,
		"rank":         entitlements.RankOf(ent.Tier),
		"source":       ent.Source,
		"subscription": ent.Subscription,
		"is_admin":     entitlements.IsAdminOverride(grant),
	}
	return c.JSON(body)
}

// HandleCheck evaluates the gate for ?tier= and returns the decision.
func (ec *EntitlementController) HandleCheck(c *fiber.Ctx) error {
	required, ok := entitlements.ParseTier(c.Query("tier"))
	if !ok {
		return respondError(c, apperror.Invalid("entitlements.check", "unknown tier", "tier", c.Query("tier")))
	}

	d, err := ec.gate.Authorize(c.UserContext(), usercontext.GetUserID(c), required)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "access_check_failed",
			"message": "unable to determine entitlement",
		})
	}
	status := fiber.StatusOK
	if !d.Allowed {
		status = fiber.StatusForbidden
		if d.Reason == access.ReasonUnauthenticated {
			status = fiber.StatusUnauthorized
		}
	}
	return c.Status(status).JSON(d)
}

// HandleFeature answers for a tier-gated feature group once RequireTier has
// admitted the caller.
func HandleFeature(feature string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		d, _ := c.Locals(usercontext.KeyDecision).(access.Decision)
		return c.JSON(fiber.Map{
			"feature":  feature,
			"decision": d,
		})
	}
}
