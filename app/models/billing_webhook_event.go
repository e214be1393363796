package models

import "time"

// BillingProviderStripe is the only payment processor wired today.
const BillingProviderStripe = "stripe"

// BillingWebhookEvent is the processed-event ledger used to deduplicate
// webhook deliveries by provider event id.
type BillingWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_billing_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Outcome         string     `gorm:"type:varchar(32);not null;default:''" json:"outcome"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// WebhookOutcomeNoop marks a delivery whose target subscription was not
// known yet. Such a delivery is not complete: a redelivery is applied again.
const WebhookOutcomeNoop = "noop"

// Succeeded reports whether a previous delivery finished without error and
// took effect.
func (e *BillingWebhookEvent) Succeeded() bool {
	return e != nil && e.ProcessedAt != nil && e.ProcessingError == "" && e.Outcome != WebhookOutcomeNoop
}
