// Package config collects the typed settings of the service from env.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
	"github.com/ManuelReschke/FitClash/internal/pkg/env"
)

// Store drivers.
const (
	StoreDriverMySQL  = "mysql"
	StoreDriverMemory = "memory"
)

type Config struct {
	AppHost string
	AppPort string

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	CacheHost     string
	CachePort     string
	CachePassword string
	CacheTTL      time.Duration

	StoreDriver string

	StripeSecretKey     string
	StripeWebhookSecret string
	PriceContender      string
	PriceWarrior        string
	PriceLegend         string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	WebhookEventRetention time.Duration
	AdminBootstrapUserIDs []string
	RequestTimeout        time.Duration

	MetricsUser     string
	MetricsPassword string
}

// Load reads the configuration. env.SetupEnvFile must run first when a .env
// file should be honored.
func Load() (Config, error) {
	cfg := Config{
		AppHost: env.GetEnv("APP_HOST", "localhost"),
		AppPort: env.GetEnv("APP_PORT", "4000"),

		DBUser:     env.GetEnv("DB_USER", "fitclash"),
		DBPassword: env.GetEnv("DB_PASSWORD", "fitclash"),
		DBHost:     env.GetEnv("DB_HOST", "127.0.0.1"),
		DBPort:     env.GetEnv("DB_PORT", "3306"),
		DBName:     env.GetEnv("DB_NAME", "fitclash_db"),

		CacheHost:     env.GetEnv("CACHE_HOST", "localhost"),
		CachePort:     env.GetEnv("CACHE_PORT", "6379"),
		CachePassword: env.GetEnv("CACHE_PASSWORD", ""),
		CacheTTL:      env.GetDuration("ENTITLEMENT_CACHE_TTL", 30*time.Second),

		StoreDriver: strings.ToLower(strings.TrimSpace(env.GetEnv("STORE_DRIVER", StoreDriverMySQL))),

		StripeSecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		PriceContender:      env.GetEnv("STRIPE_PRICE_CONTENDER", "price_contender"),
		PriceWarrior:        env.GetEnv("STRIPE_PRICE_WARRIOR", "price_warrior"),
		PriceLegend:         env.GetEnv("STRIPE_PRICE_LEGEND", "price_legend"),
		CheckoutSuccessURL:  env.GetEnv("CHECKOUT_SUCCESS_URL", "http://localhost:4000/billing/success"),
		CheckoutCancelURL:   env.GetEnv("CHECKOUT_CANCEL_URL", "http://localhost:4000/billing/cancel"),

		WebhookEventRetention: env.GetDuration("WEBHOOK_EVENT_RETENTION", 30*24*time.Hour),
		AdminBootstrapUserIDs: env.GetList("ADMIN_BOOTSTRAP_USER_IDS"),
		RequestTimeout:        env.GetDuration("REQUEST_TIMEOUT", 5*time.Second),

		MetricsUser:     env.GetEnv("METRICS_USER", ""),
		MetricsPassword: env.GetEnv("METRICS_PASSWORD", ""),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverMySQL, StoreDriverMemory:
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: REQUEST_TIMEOUT must be positive")
	}
	seen := map[string]string{}
	for name, id := range map[string]string{
		"STRIPE_PRICE_CONTENDER": c.PriceContender,
		"STRIPE_PRICE_WARRIOR":   c.PriceWarrior,
		"STRIPE_PRICE_LEGEND":    c.PriceLegend,
	} {
		if other, dup := seen[id]; dup && id != "" {
			return fmt.Errorf("config: %s and %s share price id %q", name, other, id)
		}
		seen[id] = name
	}
	return nil
}

// Catalog builds the price table from the configured price ids.
func (c Config) Catalog() *entitlements.Catalog {
	return entitlements.NewCatalog(map[string]entitlements.Tier{
		c.PriceContender: entitlements.TierContender,
		c.PriceWarrior:   entitlements.TierWarrior,
		c.PriceLegend:    entitlements.TierLegend,
	})
}

// MySQLDSN is the go-sql-driver DSN used by gorm.
func (c Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL is the golang-migrate database URL.
func (c Config) MigrateURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// CacheAddr is host:port of the Redis server.
func (c Config) CacheAddr() string {
	return fmt.Sprintf("%s:%s", c.CacheHost, c.CachePort)
}

// ListenAddr is host:port of the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}
