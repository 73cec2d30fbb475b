// Package domain contains the immutable usage audit trail.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// UsageRecord is one successful deduction, logged against the account.
// Records are append-only; nothing mutates or deletes them.
type UsageRecord struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	AccountID   snowflake.ID `gorm:"not null;index:ix_usage_records_account_used,priority:1"`
	Tool        string       `gorm:"type:text;not null"`
	CreditsUsed int64        `gorm:"not null"`
	Description string       `gorm:"type:text;not null;default:''"`
	UsedAt      time.Time    `gorm:"not null;index:ix_usage_records_account_used,priority:2"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// Entry is a usage record waiting to be written.
type Entry struct {
	AccountID   snowflake.ID
	Tool        string
	CreditsUsed int64
	Description string
	UsedAt      time.Time
}

// Recorder accepts usage entries without blocking the deduction path.
// A failed write is surfaced to monitoring, never to the caller.
type Recorder interface {
	Record(entry Entry)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int) ([]*UsageRecord, error)
}
