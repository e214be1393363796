package constants

// Route paths outside the versioned API
const (
	HealthRoute        = "/healthz"
	MetricsRoute       = "/metrics"
	StripeWebhookRoute = "/webhooks/stripe"
)

// API route prefixes
const (
	APIRoute   = "/api"
	APIv1Route = "/v1"
)
