package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
	"github.com/ManuelReschke/FitClash/internal/pkg/metrics"
	"github.com/ManuelReschke/FitClash/internal/pkg/subscription"
)

// Reconciler applies billing events to the subscription store. Deliveries
// are at least once and in any order: events for unknown external ids are
// no-ops and a successfully handled event id is never applied twice.
type Reconciler struct {
	store   subscription.Store
	catalog *entitlements.Catalog
	ledger  Ledger
}

// NewReconciler wires a reconciler. A nil ledger disables deduplication.
func NewReconciler(store subscription.Store, catalog *entitlements.Catalog, ledger Ledger) *Reconciler {
	return &Reconciler{store: store, catalog: catalog, ledger: ledger}
}

// Handle applies one event. Malformed events return a KindMalformed error
// that callers acknowledge; retryable errors mean the processor should
// deliver again.
func (r *Reconciler) Handle(ctx context.Context, ev Event) (Result, error) {
	entryID, done, err := r.record(ctx, ev)
	if err != nil {
		r.observe(ev, OutcomeFailed)
		return Result{Outcome: OutcomeFailed}, err
	}
	if done {
		log.Infof("billing: duplicate delivery of event %s (%s) skipped", ev.ID, ev.RawType)
		r.observe(ev, OutcomeDuplicate)
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	res, err := r.apply(ctx, ev)
	if err != nil {
		res.Outcome = OutcomeFailed
		if apperror.Is(err, apperror.KindMalformed) {
			res.Outcome = OutcomeMalformed
		}
	}
	r.finish(ctx, ev, entryID, res.Outcome, err)
	r.observe(ev, res.Outcome)
	return res, err
}

// Reject records an event that could not be decoded. It never fails.
func (r *Reconciler) Reject(ctx context.Context, ev Event, cause error) {
	if entryID, _, err := r.record(ctx, ev); err == nil {
		r.finish(ctx, ev, entryID, OutcomeMalformed, cause)
	}
	r.observe(ev, OutcomeMalformed)
}

func (r *Reconciler) apply(ctx context.Context, ev Event) (Result, error) {
	switch ev.Type {
	case EventCheckoutCompleted:
		return r.checkoutCompleted(ctx, ev)
	case EventSubscriptionUpdated:
		return r.subscriptionUpdated(ctx, ev)
	case EventSubscriptionCanceled:
		return r.subscriptionCanceled(ctx, ev)
	default:
		log.Infof("billing: ignoring unhandled event type %q (event %s)", ev.RawType, ev.ID)
		return Result{Outcome: OutcomeIgnored}, nil
	}
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, ev Event) (Result, error) {
	const op = "billing.checkout_completed"
	userID := strings.TrimSpace(ev.UserID)
	subID := strings.TrimSpace(ev.ExternalSubscriptionID)
	if userID == "" || subID == "" {
		return Result{}, apperror.New(apperror.KindMalformed, op,
			errors.New("checkout event without user id or subscription id"), "event_id", ev.ID)
	}

	tier := r.catalog.PriceIDToTier(ev.PriceID)
	sub, err := r.store.Activate(ctx, userID, tier, subID)
	if err != nil {
		return Result{}, err
	}
	log.Infof("billing: activated %s for user %s (subscription %s, event %s)", tier, userID, subID, ev.ID)
	return Result{Outcome: OutcomeApplied, Subscription: sub}, nil
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, ev Event) (Result, error) {
	const op = "billing.subscription_updated"
	subID := strings.TrimSpace(ev.ExternalSubscriptionID)
	if subID == "" {
		return Result{}, apperror.New(apperror.KindMalformed, op,
			errors.New("subscription event without id"), "event_id", ev.ID)
	}

	tier := r.catalog.PriceIDToTier(ev.PriceID)
	active := strings.EqualFold(strings.TrimSpace(ev.Status), subscriptionStatusActive)
	sub, err := r.store.UpdateTierByExternalID(ctx, subID, tier, active)
	if err != nil {
		return Result{}, err
	}
	if sub == nil {
		// The checkout for this subscription has not been applied yet.
		log.Infof("billing: update for unknown subscription %s (event %s) is a no-op", subID, ev.ID)
		return Result{Outcome: OutcomeNoop}, nil
	}
	return Result{Outcome: OutcomeApplied, Subscription: sub}, nil
}

func (r *Reconciler) subscriptionCanceled(ctx context.Context, ev Event) (Result, error) {
	const op = "billing.subscription_canceled"
	subID := strings.TrimSpace(ev.ExternalSubscriptionID)
	if subID == "" {
		return Result{}, apperror.New(apperror.KindMalformed, op,
			errors.New("subscription event without id"), "event_id", ev.ID)
	}

	sub, err := r.store.DeactivateByExternalID(ctx, subID)
	if err != nil {
		return Result{}, err
	}
	if sub == nil {
		log.Infof("billing: cancel for unknown subscription %s (event %s) is a no-op", subID, ev.ID)
		return Result{Outcome: OutcomeNoop}, nil
	}
	return Result{Outcome: OutcomeApplied, Subscription: sub}, nil
}

// record registers the delivery. done is true when an earlier delivery of the
// same event finished successfully.
func (r *Reconciler) record(ctx context.Context, ev Event) (uint, bool, error) {
	if r.ledger == nil {
		return 0, false, nil
	}
	if strings.TrimSpace(ev.ID) == "" {
		log.Warnf("billing: event without id (%s) processed without deduplication", ev.RawType)
		return 0, false, nil
	}
	entry, err := r.ledger.Record(ctx, ev)
	if err != nil {
		return 0, false, err
	}
	return entry.ID, entry.Succeeded(), nil
}

func (r *Reconciler) finish(ctx context.Context, ev Event, entryID uint, outcome Outcome, cause error) {
	if r.ledger == nil || entryID == 0 {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	// The store mutation already happened; a ledger failure only means a
	// redelivery will be applied again.
	if err := r.ledger.MarkProcessed(context.WithoutCancel(ctx), entryID, outcome, msg); err != nil {
		log.Errorf("billing: failed to record outcome of event %s: %v", ev.ID, err)
	}
}

func (r *Reconciler) observe(ev Event, outcome Outcome) {
	metrics.BillingEventsTotal.WithLabelValues(string(ev.Type), string(outcome)).Inc()
}

// PruneLedger drops ledger entries older than retention.
func (r *Reconciler) PruneLedger(ctx context.Context, retention time.Duration) (int64, error) {
	if r.ledger == nil {
		return 0, nil
	}
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	n, err := r.ledger.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	log.Infof("billing: pruned %d webhook events older than %s", n, retention)
	return n, nil
}
