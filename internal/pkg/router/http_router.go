package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/ManuelReschke/FitClash/app/controllers"
	"github.com/ManuelReschke/FitClash/internal/pkg/constants"
	"github.com/ManuelReschke/FitClash/internal/pkg/metrics"
	"github.com/ManuelReschke/FitClash/internal/pkg/middleware"
)

type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	app.Get(constants.HealthRoute, controllers.HandleHealth)

	if h.deps.MetricsUser != "" {
		app.Get(constants.MetricsRoute, basicauth.New(basicauth.Config{
			Users: map[string]string{
				h.deps.MetricsUser: h.deps.MetricsPassword,
			},
		}), metrics.Handler())
	} else {
		app.Get(constants.MetricsRoute, metrics.Handler())
	}

	// Stripe authenticates with the signature header, not the session.
	app.Post(constants.StripeWebhookRoute, h.deps.Billing.HandleStripeWebhook)
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}
