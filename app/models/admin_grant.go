package models

import "time"

// AdminGrant is an explicit admin role assignment. Every admin override of a
// tier check is attributed to one grant.
type AdminGrant struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    string     `gorm:"type:varchar(191);not null;index" json:"user_id"`
	GrantedBy string     `gorm:"type:varchar(191);not null" json:"granted_by"`
	Reason    string     `gorm:"type:varchar(255);default:''" json:"reason"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	RevokedAt *time.Time `gorm:"type:timestamp;default:null;index" json:"revoked_at,omitempty"`
}
