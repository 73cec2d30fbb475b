package repository

import (
	"context"
	"strings"
	"time"

	"github.com/agencykit/creditd/internal/account/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, user_id, email, balance, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.UserID,
		account.Email,
		account.Balance,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, email, balance, created_at, updated_at
		 FROM accounts WHERE user_id = ?`,
		userID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, email, balance, created_at, updated_at
		 FROM accounts WHERE email = ?
		 ORDER BY created_at ASC LIMIT 1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) LockByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.Account, error) {
	var account domain.Account
	err := lockStmt(ctx, db).
		Where("user_id = ?", userID).
		Find(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := lockStmt(ctx, db).
		Where("id = ?", id).
		Find(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) UpdateBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, balance int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		balance,
		now,
		id,
	).Error
}

func (r *repo) RepairBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, observed, balance int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ? AND balance = ?`,
		balance,
		now,
		id,
		observed,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// lockStmt adds FOR UPDATE on backends that support it. sqlite rejects the
// clause and serializes writers on its own.
func lockStmt(ctx context.Context, db *gorm.DB) *gorm.DB {
	stmt := db.WithContext(ctx).Model(&domain.Account{})
	if db.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return stmt
}
