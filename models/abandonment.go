package models

import (
	"time"

	"github.com/google/uuid"
)

// AbandonmentLog records one notification attempt for a (user, cart fingerprint) pair.
type AbandonmentLog struct {
	ID                int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID            uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index:idx_user_fingerprint_created,priority:1"`
	CartFingerprint   string     `json:"cart_fingerprint" gorm:"type:varchar(64);not null;index:idx_user_fingerprint_created,priority:2"`
	CartTotal         float64    `json:"cart_total" gorm:"type:numeric(10,2);not null"`
	DiscountOffered   float64    `json:"discount_offered" gorm:"type:numeric(5,2);not null"`
	EmailSent         bool       `json:"email_sent" gorm:"not null"`
	EmailOpened       bool       `json:"email_opened" gorm:"not null"`
	LinkClicked       bool       `json:"link_clicked" gorm:"not null"`
	PurchaseCompleted bool       `json:"purchase_completed" gorm:"not null"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	OpenedAt          *time.Time `json:"opened_at,omitempty"`
	ClickedAt         *time.Time `json:"clicked_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	ClickCount        int        `json:"click_count" gorm:"not null"`
	CreatedAt         time.Time  `json:"created_at" gorm:"not null;index:idx_user_fingerprint_created,priority:3"`
}

func (AbandonmentLog) TableName() string { return "cart_abandonment_log" }

// AbandonmentFilter narrows listings of the abandonment log.
type AbandonmentFilter struct {
	UserID   uuid.UUID
	SentOnly bool
	Page     int
	PageSize int
}
