package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/FitClash/internal/pkg/access"
	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
	icuser "github.com/ManuelReschke/FitClash/internal/pkg/usercontext"
)

// RequireAPISessionAuth ensures a logged-in session for API routes and returns JSON 401 instead of redirect.
func RequireAPISessionAuth(c *fiber.Ctx) error {
	if !icuser.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}

// RequireTier admits the request only when the gate allows the caller for
// the required tier. The decision is stored in Locals for handlers.
func RequireTier(gate *access.Gate, required entitlements.Tier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := icuser.GetUserID(c)
		d, err := gate.Authorize(c.UserContext(), userID, required)
		if err != nil {
			log.Errorf("access check failed for user %s (required %s): %v", userID, required, err)
			return c.Status(apperror.HTTPStatus(err)).JSON(fiber.Map{
				"error":   "access_check_failed",
				"message": "unable to determine entitlement",
			})
		}
		if !d.Allowed {
			status := fiber.StatusForbidden
			if d.Reason == access.ReasonUnauthenticated {
				status = fiber.StatusUnauthorized
			}
			return c.Status(status).JSON(fiber.Map{
				"error":         d.Reason,
				"required_tier": d.Required,
				"tier":          d.Tier,
			})
		}
		c.Locals(icuser.KeyDecision, d)
		return c.Next()
	}
}

// RequireAdmin ensures the caller holds an active admin grant.
func RequireAdmin(gate *access.Gate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := icuser.GetUserID(c)
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "login required",
			})
		}
		grant, err := gate.AdminGrant(c.UserContext(), userID)
		if err != nil {
			log.Errorf("admin check failed for user %s: %v", userID, err)
			return c.Status(apperror.HTTPStatus(err)).JSON(fiber.Map{
				"error":   "access_check_failed",
				"message": "unable to determine admin role",
			})
		}
		if !entitlements.IsAdminOverride(grant) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "admin role required",
			})
		}
		log.Infow("admin request", "grant_id", grant.ID, "user_id", userID, "path", c.Path())
		return c.Next()
	}
}
