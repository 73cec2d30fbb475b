// Package domain contains the read-side subscription snapshot. The rows
// are maintained by an external subscription lifecycle collaborator; this
// service only reads them.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription is one billing agreement snapshot.
type Subscription struct {
	ID               snowflake.ID       `gorm:"primaryKey"`
	AccountID        snowflake.ID       `gorm:"not null;index:ix_subscriptions_account"`
	Status           SubscriptionStatus `gorm:"type:text;not null"`
	CurrentPeriodEnd *time.Time         `gorm:""`
	CreatedAt        time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// IsActive reports whether the subscription still grants a usable window.
func (s Subscription) IsActive(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
	default:
		return false
	}
	if s.CurrentPeriodEnd == nil {
		return true
	}
	return now.Before(*s.CurrentPeriodEnd)
}

type Repository interface {
	// ActiveForAccount returns the account's active subscription with the
	// latest period end, or nil when none exists.
	ActiveForAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) (*Subscription, error)
}
