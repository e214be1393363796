package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/FitClash/app/controllers"
	"github.com/ManuelReschke/FitClash/internal/pkg/constants"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
	"github.com/ManuelReschke/FitClash/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group(constants.APIv1Route, middleware.RequireAPISessionAuth)

	v1.Post("/billing/checkout", h.deps.Billing.HandleCheckout)
	v1.Get("/entitlements/me", h.deps.Entitlement.HandleMe)
	v1.Get("/entitlements/check", h.deps.Entitlement.HandleCheck)

	// Tier-gated feature groups
	battles := v1.Group("/battles", middleware.RequireTier(h.deps.Gate, entitlements.TierContender))
	battles.Get("/", controllers.HandleFeature("battles"))
	trainer := v1.Group("/trainer", middleware.RequireTier(h.deps.Gate, entitlements.TierWarrior))
	trainer.Get("/", controllers.HandleFeature("trainer"))

	admin := v1.Group("/admin", middleware.RequireAdmin(h.deps.Gate))
	admin.Post("/subscriptions", h.deps.Admin.HandleAssignTier)
	admin.Get("/subscriptions/:userID", h.deps.Admin.HandleSubscriptionHistory)
	admin.Post("/subscriptions/:userID/revoke", h.deps.Admin.HandleRevokeSubscription)
	admin.Post("/grants", h.deps.Admin.HandleGrantAdmin)
	admin.Post("/grants/:id/revoke", h.deps.Admin.HandleRevokeAdmin)
	admin.Post("/webhook-events/prune", h.deps.Admin.HandlePruneWebhookEvents)
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
