package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
)

func newTestCheckoutClient(create func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)) *CheckoutClient {
	c := NewCheckoutClient(CheckoutConfig{
		SecretKey:  "sk_test_123",
		SuccessURL: "https://fitclash.example/billing/success",
		CancelURL:  "https://fitclash.example/billing/cancel",
	}, entitlements.DefaultCatalog())
	c.createCheckoutSession = create
	return c
}

func TestCheckoutClientCreate(t *testing.T) {
	var got *stripe.CheckoutSessionParams
	c := newTestCheckoutClient(func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		got = p
		return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
	})

	globalKey := stripe.Key
	session, err := c.Create(context.Background(), "u1", "price_warrior")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", session.URL)

	require.NotNil(t, got)
	assert.Equal(t, string(stripe.CheckoutSessionModeSubscription), *got.Mode)
	assert.Equal(t, "u1", *got.ClientReferenceID)
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, "price_warrior", *got.LineItems[0].Price)
	assert.Equal(t, "u1", got.Metadata["user_id"])
	assert.Equal(t, "price_warrior", got.SubscriptionData.Metadata["price_id"])
	assert.Equal(t, "sk_test_123", c.sessions.Key)
	assert.Equal(t, globalKey, stripe.Key)
}

func TestCheckoutClientConcurrentCreates(t *testing.T) {
	c := newTestCheckoutClient(func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return &stripe.CheckoutSession{ID: "cs_" + *p.ClientReferenceID, URL: "https://checkout.stripe.com/c/pay/" + *p.ClientReferenceID}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			session, err := c.Create(context.Background(), userID, "price_contender")
			if assert.NoError(t, err) {
				assert.Equal(t, "cs_"+userID, session.ID)
			}
		}(fmt.Sprintf("u%d", i))
	}
	wg.Wait()
}

func TestCheckoutClientRejectsUnknownPrice(t *testing.T) {
	called := false
	c := newTestCheckoutClient(func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		called = true
		return nil, nil
	})

	_, err := c.Create(context.Background(), "u1", "price_free_lunch")
	require.Error(t, err)
	assert.Equal(t, apperror.KindInvalid, apperror.KindOf(err))
	assert.False(t, called)
}

func TestCheckoutClientUpstreamFailure(t *testing.T) {
	c := newTestCheckoutClient(func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("stripe: 500")
	})

	_, err := c.Create(context.Background(), "u1", "price_legend")
	require.Error(t, err)
	assert.Equal(t, apperror.KindUpstream, apperror.KindOf(err))

	c = newTestCheckoutClient(func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return &stripe.CheckoutSession{ID: "cs_empty"}, nil
	})
	_, err = c.Create(context.Background(), "u1", "price_legend")
	assert.Equal(t, apperror.KindUpstream, apperror.KindOf(err))
}

func TestCheckoutClientRequiresConfiguration(t *testing.T) {
	c := NewCheckoutClient(CheckoutConfig{}, entitlements.DefaultCatalog())
	_, err := c.Create(context.Background(), "u1", "price_legend")
	assert.Equal(t, apperror.KindUnavailable, apperror.KindOf(err))

	_, err = c.Create(context.Background(), "", "price_legend")
	assert.Equal(t, apperror.KindInvalid, apperror.KindOf(err))
}
