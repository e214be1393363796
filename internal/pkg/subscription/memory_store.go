package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/FitClash/app/models"
	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
)

// MemoryStore keeps subscriptions in process memory. It is used for demo
// deployments (STORE_DRIVER=memory) and tests. A single mutex serializes all
// mutations, which makes every operation atomic.
type MemoryStore struct {
	mu   sync.Mutex
	rows []*models.Subscription
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) GetActive(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "subscription.get_active"
	if err := requireUserID(op, userID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Storage(op, err, false, "user_id", userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(userID).Clone(), nil
}

func (s *MemoryStore) Activate(ctx context.Context, userID string, tier entitlements.Tier, externalRef string) (*models.Subscription, error) {
	const op = "subscription.activate"
	if err := requireUserID(op, userID); err != nil {
		return nil, err
	}
	if err := requireTier(op, tier); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Storage(op, err, true, "user_id", userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, row := range s.rows {
		if row.UserID == userID && row.IsActive {
			row.Deactivate(models.EndReasonSuperseded, now)
		}
	}
	sub := models.NewActiveSubscription(userID, string(tier), externalRef, now)
	s.rows = append(s.rows, sub)
	return sub.Clone(), nil
}

func (s *MemoryStore) DeactivateByExternalID(ctx context.Context, externalRef string) (*models.Subscription, error) {
	const op = "subscription.deactivate_by_external_id"
	if err := requireExternalRef(op, externalRef); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Storage(op, err, true, "external_reference_id", externalRef)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.openByExternalRefLocked(externalRef)
	if row == nil {
		return nil, nil
	}
	row.Deactivate(models.EndReasonCanceled, s.now())
	return row.Clone(), nil
}

func (s *MemoryStore) UpdateTierByExternalID(ctx context.Context, externalRef string, tier entitlements.Tier, isActive bool) (*models.Subscription, error) {
	const op = "subscription.update_tier_by_external_id"
	if err := requireExternalRef(op, externalRef); err != nil {
		return nil, err
	}
	if err := requireTier(op, tier); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Storage(op, err, true, "external_reference_id", externalRef)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.openByExternalRefLocked(externalRef)
	if row == nil {
		return nil, nil
	}
	now := s.now()
	row.Tier = string(tier)
	row.UpdatedAt = now
	switch {
	case isActive && !row.IsActive:
		for _, other := range s.rows {
			if other != row && other.UserID == row.UserID && other.IsActive {
				other.Deactivate(models.EndReasonSuperseded, now)
			}
		}
		row.Reactivate(now)
	case !isActive && row.IsActive:
		row.Deactivate(models.EndReasonSuspended, now)
	}
	return row.Clone(), nil
}

func (s *MemoryStore) DeactivateForUser(ctx context.Context, userID, reason string) (*models.Subscription, error) {
	const op = "subscription.deactivate_for_user"
	if err := requireUserID(op, userID); err != nil {
		return nil, err
	}
	if !validEndReason(reason) {
		return nil, apperror.Invalid(op, "unknown end reason", "reason", reason)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Storage(op, err, true, "user_id", userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.activeLocked(userID)
	if row == nil {
		return nil, nil
	}
	row.Deactivate(reason, s.now())
	return row.Clone(), nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]models.Subscription, error) {
	const op = "subscription.list_by_user"
	if err := requireUserID(op, userID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Storage(op, err, false, "user_id", userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Subscription
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].UserID == userID {
			out = append(out, *s.rows[i].Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) activeLocked(userID string) *models.Subscription {
	for _, row := range s.rows {
		if row.UserID == userID && row.IsActive {
			return row
		}
	}
	return nil
}

func (s *MemoryStore) UserIDByExternalID(ctx context.Context, externalRef string) (string, error) {
	const op = "subscription.user_id_by_external_id"
	if err := requireExternalRef(op, externalRef); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", apperror.Storage(op, err, false, "external_reference_id", externalRef)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].External() == externalRef {
			return s.rows[i].UserID, nil
		}
	}
	return "", nil
}

// openByExternalRefLocked returns the newest row for the reference that
// processor events may still change.
func (s *MemoryStore) openByExternalRefLocked(externalRef string) *models.Subscription {
	for i := len(s.rows) - 1; i >= 0; i-- {
		row := s.rows[i]
		if row.External() == externalRef && !row.IsTerminal() {
			return row
		}
	}
	return nil
}
