package controllers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/billing"
	"github.com/ManuelReschke/FitClash/internal/pkg/metrics"
	"github.com/ManuelReschke/FitClash/internal/pkg/usercontext"
)

// CheckoutCreator starts a hosted checkout for a user.
type CheckoutCreator interface {
	Create(ctx context.Context, userID, priceID string) (*billing.CheckoutSession, error)
}

// BillingController serves the Stripe webhook and checkout endpoints.
type BillingController struct {
	reconciler    *billing.Reconciler
	checkout      CheckoutCreator
	webhookSecret string
}

func NewBillingController(reconciler *billing.Reconciler, checkout CheckoutCreator, webhookSecret string) *BillingController {
	return &BillingController{
		reconciler:    reconciler,
		checkout:      checkout,
		webhookSecret: webhookSecret,
	}
}

type checkoutRequest struct {
	PriceID string `json:"price_id" validate:"required,max=255"`
}

// HandleStripeWebhook verifies and applies a Stripe event. Only retryable
// failures answer with 5xx so Stripe delivers again.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	if strings.TrimSpace(bc.webhookSecret) == "" {
		return bc.webhookResponse(c, fiber.StatusServiceUnavailable, fiber.Map{"error": "webhook secret not configured"})
	}

	payload := append([]byte(nil), c.Body()...)
	ctx := c.UserContext()

	ev, err := billing.ParseStripeEvent(payload, c.Get("Stripe-Signature"), bc.webhookSecret)
	if err != nil {
		if apperror.Is(err, apperror.KindMalformed) {
			log.Warnf("stripe webhook: undecodable %s event %s: %v", ev.RawType, ev.ID, err)
			bc.reconciler.Reject(ctx, ev, err)
			return bc.webhookResponse(c, fiber.StatusOK, fiber.Map{"received": true, "outcome": billing.OutcomeMalformed})
		}
		log.Warnf("stripe webhook: rejected unverified request from %s: %v", c.IP(), err)
		return bc.webhookResponse(c, fiber.StatusBadRequest, fiber.Map{"error": "invalid_signature"})
	}

	res, err := bc.reconciler.Handle(ctx, ev)
	if err != nil {
		if apperror.IsRetryable(err) {
			log.Errorf("stripe webhook: processing %s event %s failed: %v", ev.RawType, ev.ID, err)
			return bc.webhookResponse(c, fiber.StatusInternalServerError, fiber.Map{"error": "processing failed"})
		}
		log.Warnf("stripe webhook: acknowledging %s event %s without effect: %v", ev.RawType, ev.ID, err)
	}
	return bc.webhookResponse(c, fiber.StatusOK, fiber.Map{"received": true, "outcome": res.Outcome})
}

func (bc *BillingController) webhookResponse(c *fiber.Ctx, status int, body fiber.Map) error {
	metrics.WebhookRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	return c.Status(status).JSON(body)
}

// HandleCheckout creates a Stripe Checkout session for the logged-in user.
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	var req checkoutRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	session, err := bc.checkout.Create(c.UserContext(), userID, req.PriceID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}
