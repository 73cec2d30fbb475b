package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Account, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Account, error)

	// LockByUserID loads the account under a row lock where the backend
	// supports one. All balance-affecting transactions go through it so
	// writes to one account are serialized.
	LockByUserID(ctx context.Context, db *gorm.DB, userID string) (*Account, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)

	UpdateBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, balance int64, now time.Time) error

	// RepairBalance rewrites the balance column only while it still holds
	// the observed value. A write that committed in between keeps its
	// fresher value and the repair reports false.
	RepairBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, observed, balance int64, now time.Time) (bool, error)
}
