package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
)

// CheckoutConfig holds the Stripe settings for hosted checkout.
type CheckoutConfig struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the part of a created session returned to clients.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// CheckoutClient starts Stripe Checkout sessions for catalog prices.
type CheckoutClient struct {
	cfg      CheckoutConfig
	catalog  *entitlements.Catalog
	sessions stripesession.Client

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewCheckoutClient creates a client using the live Stripe API. The key is
// bound to the client; the package-level stripe.Key is left alone.
func NewCheckoutClient(cfg CheckoutConfig, catalog *entitlements.Catalog) *CheckoutClient {
	c := &CheckoutClient{
		cfg:     cfg,
		catalog: catalog,
		sessions: stripesession.Client{
			B:   stripe.GetBackend(stripe.APIBackend),
			Key: strings.TrimSpace(cfg.SecretKey),
		},
	}
	c.createCheckoutSession = c.sessions.New
	return c
}

// Create opens a subscription checkout for userID. The user id travels as
// client_reference_id and, with the price id, as metadata on both the session
// and the resulting subscription so webhooks can be attributed.
func (c *CheckoutClient) Create(ctx context.Context, userID, priceID string) (*CheckoutSession, error) {
	const op = "billing.checkout.create"
	if err := ctx.Err(); err != nil {
		return nil, apperror.New(apperror.KindUnavailable, op, err)
	}
	userID = strings.TrimSpace(userID)
	priceID = strings.TrimSpace(priceID)
	if userID == "" {
		return nil, apperror.Invalid(op, "user_id is required")
	}
	if !c.catalog.KnownPrice(priceID) {
		return nil, apperror.Invalid(op, "unknown price", "price_id", priceID)
	}
	if strings.TrimSpace(c.cfg.SecretKey) == "" {
		return nil, apperror.New(apperror.KindUnavailable, op, errors.New("stripe secret key not configured"))
	}

	metadata := map[string]string{
		metadataUserID:  userID,
		metadataPriceID: priceID,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		ClientReferenceID: stripe.String(userID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		Metadata: metadata,
	}

	session, err := c.createCheckoutSession(params)
	if err != nil {
		log.Errorw("stripe checkout session failed", "user_id", userID, "price_id", priceID, "error", err)
		return nil, apperror.New(apperror.KindUpstream, op, err, "price_id", priceID)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return nil, apperror.New(apperror.KindUpstream, op, errors.New("stripe returned empty checkout URL"))
	}
	return &CheckoutSession{ID: session.ID, URL: strings.TrimSpace(session.URL)}, nil
}
