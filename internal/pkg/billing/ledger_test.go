package billing

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
)

func newMockLedger(t *testing.T) (Ledger, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormLedger(db), mock
}

func TestGormLedgerRecordNewEvent(t *testing.T) {
	ledger, mock := newMockLedger(t)
	mock.ExpectExec("INSERT INTO `billing_webhook_events`.*ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery("SELECT \\* FROM `billing_webhook_events` WHERE provider = \\? AND provider_event_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "provider_event_id", "event_type"}).
			AddRow(7, "stripe", "evt_1", "checkout.session.completed"))

	entry, err := ledger.Record(context.Background(), Event{ID: "evt_1", RawType: "checkout.session.completed"})
	require.NoError(t, err)
	assert.Equal(t, uint(7), entry.ID)
	assert.False(t, entry.Succeeded())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLedgerRecordSeenEvent(t *testing.T) {
	ledger, mock := newMockLedger(t)
	processed := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO `billing_webhook_events`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `billing_webhook_events`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "provider_event_id", "outcome", "processed_at", "processing_error"}).
			AddRow(3, "stripe", "evt_1", "applied", processed, ""))

	entry, err := ledger.Record(context.Background(), Event{ID: "evt_1"})
	require.NoError(t, err)
	assert.True(t, entry.Succeeded())
}

func TestGormLedgerRecordStorageFailure(t *testing.T) {
	ledger, mock := newMockLedger(t)
	mock.ExpectExec("INSERT INTO `billing_webhook_events`").WillReturnError(context.DeadlineExceeded)

	_, err := ledger.Record(context.Background(), Event{ID: "evt_1"})
	require.Error(t, err)
	assert.True(t, apperror.IsRetryable(err))
}

func TestGormLedgerMarkProcessedAndPrune(t *testing.T) {
	ledger, mock := newMockLedger(t)
	mock.ExpectExec("UPDATE `billing_webhook_events` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM `billing_webhook_events` WHERE created_at < \\?").
		WillReturnResult(sqlmock.NewResult(0, 4))

	require.NoError(t, ledger.MarkProcessed(context.Background(), 3, OutcomeApplied, ""))
	n, err := ledger.Prune(context.Background(), time.Now().Add(-DefaultEventRetention))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryLedgerRecordIsIdempotent(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	first, err := l.Record(ctx, Event{ID: "evt_1"})
	require.NoError(t, err)
	second, err := l.Record(ctx, Event{ID: "evt_1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.Succeeded())

	require.NoError(t, l.MarkProcessed(ctx, first.ID, OutcomeApplied, ""))
	third, err := l.Record(ctx, Event{ID: "evt_1"})
	require.NoError(t, err)
	assert.True(t, third.Succeeded())
	assert.Equal(t, "applied", third.Outcome)
}

func TestMemoryLedgerNoopDeliveryIsNotComplete(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	first, err := l.Record(ctx, Event{ID: "evt_early"})
	require.NoError(t, err)
	require.NoError(t, l.MarkProcessed(ctx, first.ID, OutcomeNoop, ""))

	again, err := l.Record(ctx, Event{ID: "evt_early"})
	require.NoError(t, err)
	require.NotNil(t, again.ProcessedAt)
	assert.False(t, again.Succeeded())
}
