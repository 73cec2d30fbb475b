// Package domain contains the payment-event reconciliation contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentEvent is an external payment notification delivered by webhook,
// at-least-once and possibly out of order. EventID is the idempotency key.
type PaymentEvent struct {
	EventID         string
	CustomerEmail   string
	AmountPaidCents int64
	OccurredAt      time.Time
	RawPayload      []byte
}

// PendingGrant parks a paid event whose user has not signed up yet. It is
// applied exactly once when the matching account is created.
type PendingGrant struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Email           string         `gorm:"type:text;not null;index:ix_pending_grants_email"`
	SourceEventID   string         `gorm:"type:text;not null;uniqueIndex:ux_pending_grants_source_event"`
	Credits         int64          `gorm:"not null"`
	PlanName        string         `gorm:"type:text;not null"`
	AmountPaidCents int64          `gorm:"not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt      time.Time      `gorm:"not null"`
	AppliedAt       *time.Time     `gorm:""`
	AppliedBatchID  *snowflake.ID  `gorm:""`
}

// TableName sets the database table name.
func (PendingGrant) TableName() string { return "pending_grants" }

// Reasons reported on the non-granting reconcile paths.
const (
	ReasonDuplicateEvent = "duplicate_event"
	ReasonPendingSignup  = "pending_signup"
)

// ReconcileResult reports the outcome of one payment event. A duplicate
// delivery is a normal outcome, not an error.
type ReconcileResult struct {
	Granted  bool          `json:"granted"`
	BatchID  *snowflake.ID `json:"batch_id,omitempty"`
	PlanName string        `json:"plan_name,omitempty"`
	Credits  int64         `json:"credits,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

type Service interface {
	Reconcile(ctx context.Context, event PaymentEvent) (ReconcileResult, error)
}

var (
	ErrInvalidEvent  = errors.New("invalid_event")
	ErrInvalidEmail  = errors.New("invalid_email")
	ErrInvalidAmount = errors.New("invalid_amount")
)

type PendingGrantRepository interface {
	// Insert stores the grant unless its source event id was seen before.
	// The reported bool is false on the duplicate path.
	Insert(ctx context.Context, db *gorm.DB, grant *PendingGrant) (bool, error)

	FindBySourceEvent(ctx context.Context, db *gorm.DB, sourceEventID string) (*PendingGrant, error)

	// UnappliedByEmail returns grants waiting for the account with this
	// email, oldest first.
	UnappliedByEmail(ctx context.Context, db *gorm.DB, email string) ([]*PendingGrant, error)

	// MarkApplied stamps the grant as applied. The reported bool is false
	// when another transaction already applied it.
	MarkApplied(ctx context.Context, db *gorm.DB, id, batchID snowflake.ID, now time.Time) (bool, error)
}
