package billing

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/FitClash/app/models"
	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
)

// DefaultEventRetention is how long processed webhook events are remembered.
const DefaultEventRetention = 30 * 24 * time.Hour

// Ledger is the persisted set of processed processor event ids.
type Ledger interface {
	// Record stores the delivery if it is new and returns the stored entry.
	// An entry that Succeeded means the event was already handled.
	Record(ctx context.Context, ev Event) (*models.BillingWebhookEvent, error)
	// MarkProcessed stores the outcome of handling the entry.
	MarkProcessed(ctx context.Context, id uint, outcome Outcome, processingError string) error
	// Prune removes entries created before the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type gormLedger struct {
	db *gorm.DB
}

// NewGormLedger creates a ledger backed by the billing_webhook_events table.
func NewGormLedger(db *gorm.DB) Ledger {
	return &gormLedger{db: db}
}

func (l *gormLedger) Record(ctx context.Context, ev Event) (*models.BillingWebhookEvent, error) {
	const op = "billing.ledger.record"
	entry := newLedgerEntry(ev)
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(entry).Error
	if err != nil {
		return nil, apperror.Storage(op, err, true, "event_id", ev.ID)
	}

	var stored models.BillingWebhookEvent
	if err := l.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", entry.Provider, entry.ProviderEventID).
		First(&stored).Error; err != nil {
		return nil, apperror.Storage(op, err, false, "event_id", ev.ID)
	}
	return &stored, nil
}

func (l *gormLedger) MarkProcessed(ctx context.Context, id uint, outcome Outcome, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"outcome":          string(outcome),
		"processing_error": processingError,
	}
	err := l.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return apperror.Storage("billing.ledger.mark_processed", err, true, "id", id)
	}
	return nil
}

func (l *gormLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx := l.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.BillingWebhookEvent{})
	if tx.Error != nil {
		return 0, apperror.Storage("billing.ledger.prune", tx.Error, true)
	}
	return tx.RowsAffected, nil
}

func newLedgerEntry(ev Event) *models.BillingWebhookEvent {
	payload := string(ev.Payload)
	if payload == "" {
		payload = "{}"
	}
	return &models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.RawType,
		PayloadJSON:     payload,
	}
}

// MemoryLedger keeps the processed-event set in process memory. It is used
// with the memory subscription store and in tests.
type MemoryLedger struct {
	mu     sync.Mutex
	nextID uint
	byKey  map[string]*models.BillingWebhookEvent
	now    func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{byKey: make(map[string]*models.BillingWebhookEvent), now: time.Now}
}

func (l *MemoryLedger) Record(ctx context.Context, ev Event) (*models.BillingWebhookEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.Storage("billing.ledger.record", err, true, "event_id", ev.ID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byKey[ev.ID]
	if !ok {
		l.nextID++
		entry = newLedgerEntry(ev)
		entry.ID = l.nextID
		entry.CreatedAt = l.now()
		entry.UpdatedAt = entry.CreatedAt
		l.byKey[ev.ID] = entry
	}
	c := *entry
	return &c, nil
}

func (l *MemoryLedger) MarkProcessed(ctx context.Context, id uint, outcome Outcome, processingError string) error {
	if err := ctx.Err(); err != nil {
		return apperror.Storage("billing.ledger.mark_processed", err, true, "id", id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.byKey {
		if entry.ID != id {
			continue
		}
		now := l.now()
		entry.ProcessedAt = &now
		entry.Outcome = string(outcome)
		entry.ProcessingError = processingError
		entry.UpdatedAt = now
		return nil
	}
	return nil
}

func (l *MemoryLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperror.Storage("billing.ledger.prune", err, true)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for key, entry := range l.byKey {
		if entry.CreatedAt.Before(before) {
			delete(l.byKey, key)
			n++
		}
	}
	return n, nil
}
