package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/FitClash/app/models"
	"github.com/ManuelReschke/FitClash/internal/pkg/access"
	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/billing"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
	"github.com/ManuelReschke/FitClash/internal/pkg/subscription"
	"github.com/ManuelReschke/FitClash/internal/pkg/usercontext"
)

// AdminController handles direct administrative changes. Every handler runs
// behind RequireAdmin.
type AdminController struct {
	subs       subscription.Store
	admins     access.AdminStore
	reconciler *billing.Reconciler
	retention  time.Duration
}

// NewAdminController creates a new admin controller with its dependencies
func NewAdminController(subs subscription.Store, admins access.AdminStore, reconciler *billing.Reconciler, retention time.Duration) *AdminController {
	return &AdminController{
		subs:       subs,
		admins:     admins,
		reconciler: reconciler,
		retention:  retention,
	}
}

type assignTierRequest struct {
	UserID string `json:"user_id" validate:"required,max=191"`
	Tier   string `json:"tier" validate:"required,oneof=rookie contender warrior legend"`
}

type grantRequest struct {
	UserID string `json:"user_id" validate:"required,max=191"`
	Reason string `json:"reason" validate:"max=255"`
}

// HandleAssignTier activates a tier for a user without a processor
// reference (support and demo assignments).
func (ac *AdminController) HandleAssignTier(c *fiber.Ctx) error {
	var req assignTierRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	tier, _ := entitlements.ParseTier(req.Tier)

	sub, err := ac.subs.Activate(c.UserContext(), req.UserID, tier, "")
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("admin %s assigned %s to user %s", usercontext.GetUserID(c), tier, req.UserID)
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// HandleRevokeSubscription ends the user's active subscription.
func (ac *AdminController) HandleRevokeSubscription(c *fiber.Ctx) error {
	userID := c.Params("userID")
	sub, err := ac.subs.DeactivateForUser(c.UserContext(), userID, models.EndReasonRevoked)
	if err != nil {
		return respondError(c, err)
	}
	if sub == nil {
		return respondError(c, apperror.New(apperror.KindNotFound, "admin.revoke_subscription",
			errors.New("no active subscription"), "user_id", userID))
	}
	log.Infof("admin %s revoked subscription %s of user %s", usercontext.GetUserID(c), sub.ID, userID)
	return c.JSON(sub)
}

// HandleSubscriptionHistory lists all rows of a user, newest first.
func (ac *AdminController) HandleSubscriptionHistory(c *fiber.Ctx) error {
	subs, err := ac.subs.ListByUser(c.UserContext(), c.Params("userID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

// HandleGrantAdmin gives a user the admin role.
func (ac *AdminController) HandleGrantAdmin(c *fiber.Ctx) error {
	var req grantRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	grant, err := ac.admins.Grant(c.UserContext(), req.UserID, usercontext.GetUserID(c), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("admin %s granted admin grant %d to user %s", usercontext.GetUserID(c), grant.ID, req.UserID)
	return c.Status(fiber.StatusCreated).JSON(grant)
}

// HandleRevokeAdmin revokes a grant by id.
func (ac *AdminController) HandleRevokeAdmin(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return respondError(c, apperror.Invalid("admin.revoke_grant", "invalid grant id"))
	}
	grant, err := ac.admins.Revoke(c.UserContext(), uint(id))
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("admin %s revoked admin grant %d", usercontext.GetUserID(c), grant.ID)
	return c.JSON(grant)
}

// HandlePruneWebhookEvents drops ledger entries older than the retention.
func (ac *AdminController) HandlePruneWebhookEvents(c *fiber.Ctx) error {
	n, err := ac.reconciler.PruneLedger(c.UserContext(), ac.retention)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": n})
}
