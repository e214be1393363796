package models

import (
	"time"

	"github.com/google/uuid"
)

// End reasons recorded when a subscription row stops being active.
const (
	EndReasonSuperseded = "superseded"
	EndReasonCanceled   = "canceled"
	EndReasonSuspended  = "suspended"
	EndReasonRevoked    = "revoked"
)

// Subscription is one entitlement period of a user. At most one row per user
// has IsActive set; ActiveUserID mirrors UserID on that row only so the unique
// index rejects a second active row.
type Subscription struct {
	ID                  string     `gorm:"type:char(36);primaryKey" json:"id"`
	UserID              string     `gorm:"type:varchar(191);not null;index:idx_subscriptions_user_active,priority:1" json:"user_id"`
	Tier                string     `gorm:"type:varchar(32);not null;default:'rookie'" json:"tier"`
	StartDate           time.Time  `gorm:"type:timestamp;not null" json:"start_date"`
	EndDate             *time.Time `gorm:"type:timestamp;default:null" json:"end_date,omitempty"`
	IsActive            bool       `gorm:"not null;default:false;index:idx_subscriptions_user_active,priority:2" json:"is_active"`
	ActiveUserID        *string    `gorm:"type:varchar(191);default:null;uniqueIndex:ux_subscriptions_active_user" json:"-"`
	ExternalReferenceID *string    `gorm:"type:varchar(191);default:null;index" json:"external_reference_id,omitempty"`
	EndReason           string     `gorm:"type:varchar(32);not null;default:''" json:"end_reason,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewActiveSubscription builds an active row starting at now. An empty
// externalRef leaves ExternalReferenceID nil (admin or default assignment).
func NewActiveSubscription(userID, tier, externalRef string, now time.Time) *Subscription {
	uid := userID
	s := &Subscription{
		ID:           uuid.NewString(),
		UserID:       userID,
		Tier:         tier,
		StartDate:    now,
		IsActive:     true,
		ActiveUserID: &uid,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if externalRef != "" {
		ref := externalRef
		s.ExternalReferenceID = &ref
	}
	return s
}

// External returns the processor reference or an empty string.
func (s *Subscription) External() string {
	if s == nil || s.ExternalReferenceID == nil {
		return ""
	}
	return *s.ExternalReferenceID
}

// IsTerminal reports whether the row can no longer be changed through its
// external reference.
func (s *Subscription) IsTerminal() bool {
	switch s.EndReason {
	case EndReasonSuperseded, EndReasonCanceled, EndReasonRevoked:
		return true
	default:
		return false
	}
}

// Deactivate ends the row at now with the given reason. The end date of an
// already inactive row is kept.
func (s *Subscription) Deactivate(reason string, now time.Time) {
	if s.IsActive {
		end := now
		s.EndDate = &end
	}
	s.IsActive = false
	s.ActiveUserID = nil
	s.EndReason = reason
	s.UpdatedAt = now
}

// Reactivate turns a suspended row back on.
func (s *Subscription) Reactivate(now time.Time) {
	uid := s.UserID
	s.IsActive = true
	s.ActiveUserID = &uid
	s.EndDate = nil
	s.EndReason = ""
	s.UpdatedAt = now
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndDate != nil {
		t := *s.EndDate
		c.EndDate = &t
	}
	if s.ActiveUserID != nil {
		v := *s.ActiveUserID
		c.ActiveUserID = &v
	}
	if s.ExternalReferenceID != nil {
		v := *s.ExternalReferenceID
		c.ExternalReferenceID = &v
	}
	return &c
}
