package billing

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
)

// Stripe event types handled by the reconciler.
const (
	stripeCheckoutSessionCompleted = "checkout.session.completed"
	stripeSubscriptionUpdated      = "customer.subscription.updated"
	stripeSubscriptionDeleted      = "customer.subscription.deleted"
)

// Metadata keys written on checkout sessions and their subscriptions.
const (
	metadataUserID  = "user_id"
	metadataPriceID = "price_id"
)

// stripeCheckoutSession is the subset of checkout.session used here.
type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Status            string            `json:"status"`
	Metadata          map[string]string `json:"metadata"`
}

// stripeSubscription is the subset of subscription used here.
type stripeSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// ParseStripeEvent verifies the Stripe-Signature header and converts the
// payload into an Event. Verification failures are KindUnverified. A verified
// event whose object cannot be decoded is returned together with a
// KindMalformed error so it can still be acknowledged and recorded.
func ParseStripeEvent(payload []byte, sigHeader, secret string) (Event, error) {
	const op = "billing.parse_stripe_event"
	if strings.TrimSpace(secret) == "" {
		return Event{}, apperror.New(apperror.KindUnverified, op, errors.New("webhook secret not configured"))
	}
	if strings.TrimSpace(sigHeader) == "" {
		return Event{}, apperror.New(apperror.KindUnverified, op, errors.New("missing Stripe signature"))
	}

	se, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, apperror.New(apperror.KindUnverified, op, err)
	}
	return decodeStripeEvent(se, payload)
}

func decodeStripeEvent(se stripe.Event, payload []byte) (Event, error) {
	const op = "billing.decode_stripe_event"
	ev := Event{
		Type:    EventUnknown,
		ID:      se.ID,
		RawType: string(se.Type),
		Payload: payload,
	}
	if se.Created > 0 {
		ev.OccurredAt = time.Unix(se.Created, 0).UTC()
	}

	var raw json.RawMessage
	if se.Data != nil {
		raw = se.Data.Raw
	}

	switch string(se.Type) {
	case stripeCheckoutSessionCompleted:
		ev.Type = EventCheckoutCompleted
		var session stripeCheckoutSession
		if err := decodeObject(raw, &session); err != nil {
			return ev, apperror.New(apperror.KindMalformed, op, err, "event_id", se.ID, "type", se.Type)
		}
		ev.ExternalSubscriptionID = strings.TrimSpace(session.Subscription)
		ev.UserID = strings.TrimSpace(session.ClientReferenceID)
		if ev.UserID == "" {
			ev.UserID = strings.TrimSpace(session.Metadata[metadataUserID])
		}
		ev.PriceID = strings.TrimSpace(session.Metadata[metadataPriceID])
		ev.Status = session.Status

	case stripeSubscriptionUpdated, stripeSubscriptionDeleted:
		ev.Type = EventSubscriptionUpdated
		if string(se.Type) == stripeSubscriptionDeleted {
			ev.Type = EventSubscriptionCanceled
		}
		var sub stripeSubscription
		if err := decodeObject(raw, &sub); err != nil {
			return ev, apperror.New(apperror.KindMalformed, op, err, "event_id", se.ID, "type", se.Type)
		}
		ev.ExternalSubscriptionID = strings.TrimSpace(sub.ID)
		ev.Status = strings.ToLower(strings.TrimSpace(sub.Status))
		if len(sub.Items.Data) > 0 {
			ev.PriceID = strings.TrimSpace(sub.Items.Data[0].Price.ID)
		}
	}
	return ev, nil
}

func decodeObject(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("event has no data object")
	}
	return json.Unmarshal(raw, v)
}
