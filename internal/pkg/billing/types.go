// Package billing turns payment processor webhooks into subscription store
// changes and starts hosted checkouts.
package billing

import (
	"time"

	"github.com/ManuelReschke/FitClash/app/models"
)

// EventType is the processor-neutral kind of a billing event.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout-completed"
	EventSubscriptionUpdated  EventType = "subscription-updated"
	EventSubscriptionCanceled EventType = "subscription-canceled"
	EventUnknown              EventType = "unknown"
)

// Event is a verified billing notification reduced to the fields the
// reconciler acts on. UserID is only set for checkout-completed.
type Event struct {
	Type                   EventType
	ID                     string
	ExternalSubscriptionID string
	UserID                 string
	PriceID                string
	Status                 string
	OccurredAt             time.Time

	// RawType and Payload are kept for the webhook ledger.
	RawType string
	Payload []byte
}

// Outcome describes what handling an event did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = models.WebhookOutcomeNoop
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMalformed Outcome = "malformed"
	OutcomeFailed    Outcome = "failed"
)

// Result is returned by Reconciler.Handle. Subscription is the row written
// by an applied event.
type Result struct {
	Outcome      Outcome
	Subscription *models.Subscription
}

// subscriptionStatusActive is the only processor status that entitles.
const subscriptionStatusActive = "active"
