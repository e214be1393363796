package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/FitClash/app/controllers"
	"github.com/ManuelReschke/FitClash/internal/pkg/access"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps are the wired components routes are built from.
type Deps struct {
	Gate        *access.Gate
	Billing     *controllers.BillingController
	Entitlement *controllers.EntitlementController
	Admin       *controllers.AdminController

	// LimiterStorage backs the API rate limiter; nil keeps it in memory.
	LimiterStorage fiber.Storage

	MetricsUser     string
	MetricsPassword string
}

func InstallRouter(app *fiber.App, deps Deps) {
	// Install HttpRouter first: it registers the UserContext middleware the
	// API routes depend on.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
