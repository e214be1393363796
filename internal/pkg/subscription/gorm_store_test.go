package subscription

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/FitClash/app/models"
	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
)

func newMockGormStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := NewGormStore(db)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, mock
}

func TestGormStoreGetActiveAbsent(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectQuery("SELECT \\* FROM `subscriptions` WHERE user_id = \\? AND is_active = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "tier", "is_active"}))

	sub, err := store.GetActive(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreGetActiveFound(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectQuery("SELECT \\* FROM `subscriptions` WHERE user_id = \\? AND is_active = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "tier", "is_active"}).
			AddRow("3f7c", "u1", "warrior", true))

	sub, err := store.GetActive(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "warrior", sub.Tier)
	assert.True(t, sub.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreGetActiveStorageFailureIsNotAbsence(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectQuery("SELECT \\* FROM `subscriptions`").
		WillReturnError(errors.New("dial tcp 10.0.0.5:3306: connect: connection refused"))

	sub, err := store.GetActive(context.Background(), "u1")
	assert.Nil(t, sub)
	require.Error(t, err)
	assert.Equal(t, apperror.KindUnavailable, apperror.KindOf(err))
	assert.True(t, apperror.IsRetryable(err))
}

func TestGormStoreActivateInsertsInTransaction(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `subscriptions` WHERE user_id = \\? AND is_active = \\? FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "is_active"}).AddRow("old", "u1", true))
	mock.ExpectExec("UPDATE `subscriptions` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `subscriptions`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := store.Activate(context.Background(), "u1", entitlements.TierWarrior, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "warrior", sub.Tier)
	assert.Equal(t, "sub_1", sub.External())
	assert.True(t, sub.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreActivateRetriesAfterDuplicateActiveRow(t *testing.T) {
	store, mock := newMockGormStore(t)

	// First attempt loses the race on the unique active index.
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "is_active"}))
	mock.ExpectExec("INSERT INTO `subscriptions`").
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'u1' for key 'ux_subscriptions_active_user'"})
	mock.ExpectRollback()

	// Second attempt sees the winner and supersedes it.
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "is_active"}).AddRow("winner", "u1", true))
	mock.ExpectExec("UPDATE `subscriptions` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `subscriptions`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := store.Activate(context.Background(), "u1", entitlements.TierLegend, "sub_2")
	require.NoError(t, err)
	assert.Equal(t, "legend", sub.Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreActivateRetriesLockConflicts(t *testing.T) {
	for _, number := range []uint16{1213, 1205} {
		t.Run(fmt.Sprintf("mysql_%d", number), func(t *testing.T) {
			store, mock := newMockGormStore(t)

			mock.ExpectBegin()
			mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "is_active"}))
			mock.ExpectExec("INSERT INTO `subscriptions`").
				WillReturnError(&mysqldriver.MySQLError{Number: number, Message: "Deadlock found when trying to get lock; try restarting transaction"})
			mock.ExpectRollback()

			mock.ExpectBegin()
			mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "is_active"}))
			mock.ExpectExec("INSERT INTO `subscriptions`").WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			sub, err := store.Activate(context.Background(), "u1", entitlements.TierContender, "sub_1")
			require.NoError(t, err)
			assert.Equal(t, "contender", sub.Tier)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStoreActivateGivesUpAfterRepeatedDeadlocks(t *testing.T) {
	store, mock := newMockGormStore(t)
	for i := 0; i < maxActivateAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "is_active"}))
		mock.ExpectExec("INSERT INTO `subscriptions`").WillReturnError(&mysqldriver.MySQLError{Number: 1213})
		mock.ExpectRollback()
	}

	_, err := store.Activate(context.Background(), "u1", entitlements.TierWarrior, "sub_1")
	require.Error(t, err)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreActivateDoesNotRetryOtherMySQLErrors(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "is_active"}))
	mock.ExpectExec("INSERT INTO `subscriptions`").WillReturnError(&mysqldriver.MySQLError{Number: 1146, Message: "Table 'fitclash.subscriptions' doesn't exist"})
	mock.ExpectRollback()

	_, err := store.Activate(context.Background(), "u1", entitlements.TierWarrior, "sub_1")
	require.Error(t, err)
	assert.Equal(t, apperror.KindUnavailable, apperror.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreActivateDeadlineIsUnknownOutcome(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectBegin().WillReturnError(context.DeadlineExceeded)

	_, err := store.Activate(context.Background(), "u1", entitlements.TierWarrior, "sub_1")
	require.Error(t, err)
	assert.Equal(t, apperror.KindUnknownOutcome, apperror.KindOf(err))
}

func TestGormStoreDeactivateByExternalIDNoMatch(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `subscriptions` WHERE external_reference_id = \\? AND end_reason IN").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	sub, err := store.DeactivateByExternalID(context.Background(), "sub_missing")
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreDeactivateByExternalID(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("WHERE external_reference_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "tier", "is_active", "external_reference_id"}).
			AddRow("row1", "u1", "warrior", true, "sub_1"))
	mock.ExpectExec("UPDATE `subscriptions` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := store.DeactivateByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.False(t, sub.IsActive)
	require.NotNil(t, sub.EndDate)
	assert.Equal(t, store.now(), *sub.EndDate)
	assert.Equal(t, "u1", sub.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreDeactivateByExternalIDTwiceIsNoop(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("WHERE external_reference_id = \\? AND end_reason IN").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "tier", "is_active", "external_reference_id"}).
			AddRow("row1", "u1", "warrior", true, "sub_1"))
	mock.ExpectExec("UPDATE `subscriptions` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	// The canceled row no longer matches the reopenable end reasons.
	mock.ExpectBegin()
	mock.ExpectQuery("WHERE external_reference_id = \\? AND end_reason IN").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	first, err := store.DeactivateByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, models.EndReasonCanceled, first.EndReason)

	second, err := store.DeactivateByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreUpdateTierByExternalIDSuspends(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("WHERE external_reference_id = \\? AND end_reason IN .* FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "tier", "is_active", "external_reference_id"}).
			AddRow("row1", "u1", "warrior", true, "sub_1"))
	mock.ExpectExec("UPDATE `subscriptions` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := store.UpdateTierByExternalID(context.Background(), "sub_1", entitlements.TierLegend, false)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.False(t, sub.IsActive)
	assert.Equal(t, models.EndReasonSuspended, sub.EndReason)
	assert.Equal(t, "legend", sub.Tier)
	assert.Nil(t, sub.ActiveUserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreUpdateTierByExternalIDReactivatesAndSupersedes(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("WHERE external_reference_id = \\? AND end_reason IN").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "tier", "is_active", "external_reference_id", "end_reason"}).
			AddRow("row1", "u1", "warrior", false, "sub_1", models.EndReasonSuspended))
	mock.ExpectQuery("user_id = \\? AND is_active = \\?\\)? AND id <> \\? FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "tier", "is_active"}).
			AddRow("row2", "u1", "contender", true))
	mock.ExpectExec("UPDATE `subscriptions` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `subscriptions` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := store.UpdateTierByExternalID(context.Background(), "sub_1", entitlements.TierLegend, true)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.True(t, sub.IsActive)
	assert.Empty(t, sub.EndReason)
	assert.Nil(t, sub.EndDate)
	assert.Equal(t, "legend", sub.Tier)
	require.NotNil(t, sub.ActiveUserID)
	assert.Equal(t, "u1", *sub.ActiveUserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreUpdateTierByExternalIDNoMatch(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("WHERE external_reference_id = \\? AND end_reason IN").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	sub, err := store.UpdateTierByExternalID(context.Background(), "sub_gone", entitlements.TierWarrior, true)
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreDeactivateForUser(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("WHERE user_id = \\? AND is_active = \\?.* FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "tier", "is_active"}).
			AddRow("row1", "u1", "legend", true))
	mock.ExpectExec("UPDATE `subscriptions` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := store.DeactivateForUser(context.Background(), "u1", models.EndReasonRevoked)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.False(t, sub.IsActive)
	assert.Equal(t, models.EndReasonRevoked, sub.EndReason)
	require.NotNil(t, sub.EndDate)
	assert.Equal(t, store.now(), *sub.EndDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreDeactivateForUserWithoutActiveRow(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("WHERE user_id = \\? AND is_active = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	sub, err := store.DeactivateForUser(context.Background(), "u1", models.EndReasonRevoked)
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreListByUserNewestFirst(t *testing.T) {
	store, mock := newMockGormStore(t)
	newer := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT \\* FROM `subscriptions` WHERE user_id = \\? ORDER BY created_at DESC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "tier", "is_active", "created_at"}).
			AddRow("row2", "u1", "legend", true, newer).
			AddRow("row1", "u1", "warrior", false, older))

	subs, err := store.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "row2", subs[0].ID)
	assert.Equal(t, "row1", subs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreUserIDByExternalID(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectQuery("SELECT `user_id` FROM `subscriptions` WHERE external_reference_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u9"))
	mock.ExpectQuery("SELECT `user_id` FROM `subscriptions` WHERE external_reference_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	userID, err := store.UserIDByExternalID(context.Background(), "sub_9")
	require.NoError(t, err)
	assert.Equal(t, "u9", userID)

	userID, err = store.UserIDByExternalID(context.Background(), "sub_unknown")
	require.NoError(t, err)
	assert.Empty(t, userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
