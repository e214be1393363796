// Package metrics registers the Prometheus collectors of the service.
package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BillingEventsTotal counts reconciled billing events by event type and outcome.
	BillingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitclash",
		Subsystem: "billing",
		Name:      "events_total",
		Help:      "Billing events handled by the reconciler by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// WebhookRequestsTotal counts Stripe webhook requests by HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitclash",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Stripe webhook requests by HTTP status.",
	}, []string{"status"})

	// AccessDecisionsTotal counts access gate decisions by required tier and result.
	AccessDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitclash",
		Subsystem: "access",
		Name:      "decisions_total",
		Help:      "Access gate decisions by required tier and result.",
	}, []string{"required_tier", "result"})

	// SubscriptionCacheTotal counts entitlement cache lookups by result.
	SubscriptionCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitclash",
		Subsystem: "subscription",
		Name:      "cache_lookups_total",
		Help:      "Entitlement cache lookups by result (hit, miss, error).",
	}, []string{"result"})
)

// Handler exposes the default registry for fiber.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
