package models

import "time"

// Subscription status values mirror the Stripe subscription lifecycle.
const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusUnpaid            = "unpaid"
)

// Subscription mirrors a Stripe subscription for one user. The primary key is
// the provider-assigned subscription id, which makes webhook upserts
// idempotent: redelivery of the same event rewrites the same row.
//
// A user may accumulate rows over time (resubscribes, plan switches). The
// authoritative row is the most recent by the provider-side creation time.
// Rows are written only by the webhook ingestor, never by request handlers.
type Subscription struct {
	ID                 string     `gorm:"type:varchar(191);primaryKey" json:"id"`
	UserID             uint       `gorm:"not null;index" json:"user_id"`
	Status             string     `gorm:"type:varchar(32);not null;index" json:"status"`
	PriceID            string     `gorm:"type:varchar(191)" json:"price_id"`
	Quantity           int64      `gorm:"default:1" json:"quantity"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CancelAt           *time.Time `gorm:"type:timestamp;default:null" json:"cancel_at,omitempty"`
	CanceledAt         *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	Created            *time.Time `gorm:"type:timestamp;default:null;index" json:"created,omitempty"`
	EndedAt            *time.Time `gorm:"type:timestamp;default:null" json:"ended_at,omitempty"`
	TrialStart         *time.Time `gorm:"type:timestamp;default:null" json:"trial_start,omitempty"`
	TrialEnd           *time.Time `gorm:"type:timestamp;default:null" json:"trial_end,omitempty"`
	RawPayloadJSON     string     `gorm:"type:longtext" json:"-"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
