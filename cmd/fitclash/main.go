package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fibersession "github.com/gofiber/fiber/v2/middleware/session"

	"github.com/ManuelReschke/FitClash/app/controllers"
	"github.com/ManuelReschke/FitClash/internal/pkg/access"
	"github.com/ManuelReschke/FitClash/internal/pkg/billing"
	"github.com/ManuelReschke/FitClash/internal/pkg/cache"
	"github.com/ManuelReschke/FitClash/internal/pkg/config"
	"github.com/ManuelReschke/FitClash/internal/pkg/database"
	"github.com/ManuelReschke/FitClash/internal/pkg/env"
	"github.com/ManuelReschke/FitClash/internal/pkg/middleware"
	"github.com/ManuelReschke/FitClash/internal/pkg/router"
	"github.com/ManuelReschke/FitClash/internal/pkg/session"
	"github.com/ManuelReschke/FitClash/internal/pkg/subscription"
)

// webhook payloads and admin bodies are small
const bodyLimit = 64 * 1024

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("Shutdown: %v", err)
		}
	}()

	if err := app.Listen(cfg.ListenAddr()); err != nil {
		log.Fatal(err)
	}
}

// components are the stores the application is built on.
type components struct {
	subs           subscription.Store
	ledger         billing.Ledger
	admins         access.AdminStore
	limiterStorage fiber.Storage
}

func NewApplication(cfg config.Config) (*fiber.App, error) {
	comps, err := setupComponents(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	if err := access.Bootstrap(ctx, comps.admins, cfg.AdminBootstrapUserIDs); err != nil {
		return nil, err
	}

	catalog := cfg.Catalog()
	gate := access.NewGate(comps.subs, comps.admins)
	reconciler := billing.NewReconciler(comps.subs, catalog, comps.ledger)
	checkout := billing.NewCheckoutClient(billing.CheckoutConfig{
		SecretKey:  cfg.StripeSecretKey,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
	}, catalog)

	if cfg.StripeWebhookSecret == "" {
		log.Warn("STRIPE_WEBHOOK_SECRET is not set, billing webhooks are refused")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: bodyLimit,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())
	app.Use(middleware.RequestDeadline(cfg.RequestTimeout))

	router.InstallRouter(app, router.Deps{
		Gate:            gate,
		Billing:         controllers.NewBillingController(reconciler, checkout, cfg.StripeWebhookSecret),
		Entitlement:     controllers.NewEntitlementController(comps.subs, gate),
		Admin:           controllers.NewAdminController(comps.subs, comps.admins, reconciler, cfg.WebhookEventRetention),
		LimiterStorage:  comps.limiterStorage,
		MetricsUser:     cfg.MetricsUser,
		MetricsPassword: cfg.MetricsPassword,
	})

	return app, nil
}

func setupComponents(cfg config.Config) (components, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("STORE_DRIVER=memory: subscriptions are not persisted")
		session.NewWithConfig(fibersession.Config{
			CookieHTTPOnly: true,
			CookieSameSite: "Lax",
			Expiration:     time.Hour * 1,
			KeyLookup:      "cookie:session_id",
		})
		return components{
			subs:   subscription.NewMemoryStore(),
			ledger: billing.NewMemoryLedger(),
			admins: access.NewMemoryAdminStore(),
		}, nil
	}

	db, err := database.SetupDatabase(cfg.MySQLDSN())
	if err != nil {
		return components{}, err
	}
	rdb := cache.SetupCache(cfg.CacheAddr(), cfg.CachePassword)
	session.NewSessionStore(rdb)

	return components{
		subs:           subscription.NewCachedStore(subscription.NewGormStore(db), rdb, cfg.CacheTTL),
		ledger:         billing.NewGormLedger(db),
		admins:         access.NewGormAdminStore(db),
		limiterStorage: session.NewRedisStorage(rdb, session.RedisDBLimiter),
	}, nil
}
