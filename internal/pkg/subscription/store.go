// Package subscription owns every read and write of subscription rows and
// enforces the single-active-subscription invariant.
package subscription

import (
	"context"
	"strings"

	"github.com/ManuelReschke/FitClash/app/models"
	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
)

// Reader is the read side used by the access gate.
type Reader interface {
	// GetActive returns the active row of the user, or nil when there is none.
	GetActive(ctx context.Context, userID string) (*models.Subscription, error)
}

// Store is the only component allowed to mutate subscription rows. Methods
// that match by external reference return (nil, nil) when nothing matches.
type Store interface {
	Reader
	Activate(ctx context.Context, userID string, tier entitlements.Tier, externalRef string) (*models.Subscription, error)
	DeactivateByExternalID(ctx context.Context, externalRef string) (*models.Subscription, error)
	UpdateTierByExternalID(ctx context.Context, externalRef string, tier entitlements.Tier, isActive bool) (*models.Subscription, error)
	DeactivateForUser(ctx context.Context, userID, reason string) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]models.Subscription, error)
}

// ExternalRefResolver maps a processor reference back to its user, including
// references whose rows are already terminal.
type ExternalRefResolver interface {
	UserIDByExternalID(ctx context.Context, externalRef string) (string, error)
}

const maxActivateAttempts = 3

// reopenableReasons are end reasons a processor update may still change.
var reopenableReasons = []string{"", models.EndReasonSuspended}

func requireUserID(op, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperror.Invalid(op, "user_id is required")
	}
	return nil
}

func requireExternalRef(op, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return apperror.Invalid(op, "external_reference_id is required")
	}
	return nil
}

func requireTier(op string, tier entitlements.Tier) error {
	if !tier.Valid() {
		return apperror.Invalid(op, "unknown tier", "tier", tier)
	}
	return nil
}

func validEndReason(reason string) bool {
	switch reason {
	case models.EndReasonCanceled, models.EndReasonRevoked, models.EndReasonSuperseded, models.EndReasonSuspended:
		return true
	default:
		return false
	}
}
