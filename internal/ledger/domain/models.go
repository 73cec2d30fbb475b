// Package domain contains persistence models for credit batches and the
// deduction engine contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CreditBatch is a discrete grant of credits from one payment or
// allocation event. Batches are consumed oldest-expiry-first and are
// never resurrected once exhausted.
type CreditBatch struct {
	ID               snowflake.ID   `gorm:"primaryKey"`
	AccountID        snowflake.ID   `gorm:"not null;index:ix_credit_batches_account_expiry,priority:1"`
	CreditsGranted   int64          `gorm:"not null"`
	CreditsRemaining int64          `gorm:"not null"`
	PlanName         string         `gorm:"type:text;not null"`
	SourceEventID    string         `gorm:"type:text;not null;uniqueIndex:ux_credit_batches_source_event"`
	Payload          datatypes.JSON `gorm:"type:jsonb"`
	GrantedAt        time.Time      `gorm:"not null"`
	ExpiresAt        *time.Time     `gorm:"index:ix_credit_batches_account_expiry,priority:2"`
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditBatch) TableName() string { return "credit_batches" }

// Active reports whether the batch can still fund deductions.
func (b CreditBatch) Active(now time.Time) bool {
	if b.CreditsRemaining <= 0 {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

// AttemptOutcome is the recorded result of an idempotent deduction attempt.
type AttemptOutcome string

const (
	AttemptOutcomeSucceeded    AttemptOutcome = "succeeded"
	AttemptOutcomeInsufficient AttemptOutcome = "insufficient"
)

// DeductionAttempt stores the outcome of a deduction keyed by a
// caller-supplied idempotency key, replayed on retry instead of
// re-executing the deduction.
type DeductionAttempt struct {
	ID               snowflake.ID   `gorm:"primaryKey"`
	AccountID        snowflake.ID   `gorm:"not null;uniqueIndex:ux_deduction_attempts_account_key,priority:1"`
	IdempotencyKey   string         `gorm:"type:text;not null;uniqueIndex:ux_deduction_attempts_account_key,priority:2"`
	CreditsRequested int64          `gorm:"not null"`
	Outcome          AttemptOutcome `gorm:"type:text;not null"`
	RemainingBalance int64          `gorm:"not null;default:0"`
	Available        int64          `gorm:"not null;default:0"`
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DeductionAttempt) TableName() string { return "deduction_attempts" }
