// Package domain contains the account model and service contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account carries the denormalized credit balance for one user. Balance is
// derived from batch sums and is written only inside deduction and grant
// transactions; every other code path treats it as read-only.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    string       `gorm:"type:text;not null;uniqueIndex:ux_accounts_user_id"`
	Email     string       `gorm:"type:text;not null;index:ix_accounts_email"`
	Balance   int64        `gorm:"not null;default:0"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

type CreateAccountRequest struct {
	UserID string
	Email  string
}

// CreateAccountResponse reports the new account plus any pending grants
// applied during creation.
type CreateAccountResponse struct {
	Account        Account
	GrantedCredits int64
	AppliedGrants  int
}

type Service interface {
	Create(ctx context.Context, req CreateAccountRequest) (CreateAccountResponse, error)
	GetByUserID(ctx context.Context, userID string) (*Account, error)
}

var (
	ErrInvalidUserID = errors.New("invalid_user_id")
	ErrInvalidEmail  = errors.New("invalid_email")
	ErrAlreadyExists = errors.New("account_already_exists")
	ErrNotFound      = errors.New("not_found")
)
