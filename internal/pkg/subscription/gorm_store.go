package subscription

import (
	"context"
	"errors"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/FitClash/app/models"
	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
)

// GormStore persists subscriptions in MySQL. Activations lock the user's
// active rows and rely on the unique active_user_id index to reject a second
// concurrent active insert.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a store from a gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) GetActive(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "subscription.get_active"
	if err := requireUserID(op, userID); err != nil {
		return nil, err
	}

	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("start_date DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Storage(op, err, false, "user_id", userID)
	}
	return &sub, nil
}

func (s *GormStore) Activate(ctx context.Context, userID string, tier entitlements.Tier, externalRef string) (*models.Subscription, error) {
	const op = "subscription.activate"
	if err := requireUserID(op, userID); err != nil {
		return nil, err
	}
	if err := requireTier(op, tier); err != nil {
		return nil, err
	}

	var created *models.Subscription
	err := s.withConflictRetry(ctx, op, func(tx *gorm.DB) error {
		now := s.now()
		if err := s.supersedeActive(tx, userID, "", now); err != nil {
			return err
		}
		sub := models.NewActiveSubscription(userID, string(tier), externalRef, now)
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, s.storageError(op, err, "user_id", userID, "external_reference_id", externalRef)
	}
	return created, nil
}

func (s *GormStore) DeactivateByExternalID(ctx context.Context, externalRef string) (*models.Subscription, error) {
	const op = "subscription.deactivate_by_external_id"
	if err := requireExternalRef(op, externalRef); err != nil {
		return nil, err
	}

	var result *models.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.lockOpenByExternalRef(tx, externalRef)
		if err != nil || row == nil {
			return err
		}
		row.Deactivate(models.EndReasonCanceled, s.now())
		if err := s.saveState(tx, row); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		return nil, s.storageError(op, err, "external_reference_id", externalRef)
	}
	return result, nil
}

func (s *GormStore) UpdateTierByExternalID(ctx context.Context, externalRef string, tier entitlements.Tier, isActive bool) (*models.Subscription, error) {
	const op = "subscription.update_tier_by_external_id"
	if err := requireExternalRef(op, externalRef); err != nil {
		return nil, err
	}
	if err := requireTier(op, tier); err != nil {
		return nil, err
	}

	var result *models.Subscription
	err := s.withConflictRetry(ctx, op, func(tx *gorm.DB) error {
		result = nil
		row, err := s.lockOpenByExternalRef(tx, externalRef)
		if err != nil || row == nil {
			return err
		}
		now := s.now()
		row.Tier = string(tier)
		row.UpdatedAt = now
		switch {
		case isActive && !row.IsActive:
			if err := s.supersedeActive(tx, row.UserID, row.ID, now); err != nil {
				return err
			}
			row.Reactivate(now)
		case !isActive && row.IsActive:
			row.Deactivate(models.EndReasonSuspended, now)
		}
		if err := s.saveState(tx, row); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		return nil, s.storageError(op, err, "external_reference_id", externalRef)
	}
	return result, nil
}

func (s *GormStore) DeactivateForUser(ctx context.Context, userID, reason string) (*models.Subscription, error) {
	const op = "subscription.deactivate_for_user"
	if err := requireUserID(op, userID); err != nil {
		return nil, err
	}
	if !validEndReason(reason) {
		return nil, apperror.Invalid(op, "unknown end reason", "reason", reason)
	}

	var result *models.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND is_active = ?", userID, true).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		row.Deactivate(reason, s.now())
		if err := s.saveState(tx, &row); err != nil {
			return err
		}
		result = &row
		return nil
	})
	if err != nil {
		return nil, s.storageError(op, err, "user_id", userID)
	}
	return result, nil
}

func (s *GormStore) ListByUser(ctx context.Context, userID string) ([]models.Subscription, error) {
	const op = "subscription.list_by_user"
	if err := requireUserID(op, userID); err != nil {
		return nil, err
	}
	var subs []models.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&subs).Error; err != nil {
		return nil, apperror.Storage(op, err, false, "user_id", userID)
	}
	return subs, nil
}

// UserIDByExternalID returns the owner of the newest row carrying the
// processor reference, terminal rows included. "" when no row matches.
func (s *GormStore) UserIDByExternalID(ctx context.Context, externalRef string) (string, error) {
	const op = "subscription.user_id_by_external_id"
	if err := requireExternalRef(op, externalRef); err != nil {
		return "", err
	}
	var row models.Subscription
	err := s.db.WithContext(ctx).
		Select("user_id").
		Where("external_reference_id = ?", externalRef).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperror.Storage(op, err, false, "external_reference_id", externalRef)
	}
	return row.UserID, nil
}

// MySQL errors raised when concurrent activations of the same user collide.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// withConflictRetry runs fn in a transaction and retries the whole
// transaction when it lost a race against a concurrent activation: the
// unique active index rejected the insert, or InnoDB picked it as a deadlock
// victim on the user's gap locks. The later attempt supersedes the winner's row.
func (s *GormStore) withConflictRetry(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxActivateAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if !isActivationConflict(err) {
			return err
		}
		log.Warnf("%s: concurrent activation detected, retrying (attempt %d/%d): %v", op, attempt, maxActivateAttempts, err)
	}
	return apperror.New(apperror.KindConflict, op, err, "attempts", maxActivateAttempts)
}

func isActivationConflict(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return true
		}
	}
	return false
}

// supersedeActive ends every active row of the user except keepID.
func (s *GormStore) supersedeActive(tx *gorm.DB, userID, keepID string, now time.Time) error {
	var active []models.Subscription
	q := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ? AND is_active = ?", userID, true)
	if keepID != "" {
		q = q.Where("id <> ?", keepID)
	}
	if err := q.Find(&active).Error; err != nil {
		return err
	}
	for i := range active {
		active[i].Deactivate(models.EndReasonSuperseded, now)
		if err := s.saveState(tx, &active[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) lockOpenByExternalRef(tx *gorm.DB, externalRef string) (*models.Subscription, error) {
	var row models.Subscription
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_reference_id = ? AND end_reason IN ?", externalRef, reopenableReasons).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// saveState writes the lifecycle columns of an existing row.
func (s *GormStore) saveState(tx *gorm.DB, row *models.Subscription) error {
	return tx.Model(&models.Subscription{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"tier":           row.Tier,
			"is_active":      row.IsActive,
			"active_user_id": row.ActiveUserID,
			"end_date":       row.EndDate,
			"end_reason":     row.EndReason,
			"updated_at":     row.UpdatedAt,
		}).Error
}

func (s *GormStore) storageError(op string, err error, kv ...any) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.Storage(op, err, true, kv...)
}
