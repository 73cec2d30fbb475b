package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// ActiveBatches returns unexhausted, unexpired batches for the account
	// ordered soonest-expiry-first (never-expiring batches last), oldest
	// grant first as tie-break.
	ActiveBatches(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) ([]*CreditBatch, error)

	// UpdateBatchRemaining moves credits_remaining from one value to
	// another. The reported bool is false when the expected value no
	// longer matches (a concurrent writer got there first).
	UpdateBatchRemaining(ctx context.Context, db *gorm.DB, batchID snowflake.ID, from, to int64) (bool, error)

	// InsertBatch inserts a batch unless one with the same source event id
	// already exists. The reported bool is false on the duplicate path.
	InsertBatch(ctx context.Context, db *gorm.DB, batch *CreditBatch) (bool, error)

	FindBatchBySourceEvent(ctx context.Context, db *gorm.DB, sourceEventID string) (*CreditBatch, error)

	// SoonestExpiry returns the nearest non-null expiry among batches that
	// still hold credits, or nil when nothing expires.
	SoonestExpiry(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*time.Time, error)

	FindAttempt(ctx context.Context, db *gorm.DB, accountID snowflake.ID, key string) (*DeductionAttempt, error)
	InsertAttempt(ctx context.Context, db *gorm.DB, attempt *DeductionAttempt) error
}
