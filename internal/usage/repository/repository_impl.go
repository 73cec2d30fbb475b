package repository

import (
	"context"

	"github.com/agencykit/creditd/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.UsageRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (id, account_id, tool, credits_used, description, used_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.AccountID,
		record.Tool,
		record.CreditsUsed,
		record.Description,
		record.UsedAt,
	).Error
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int) ([]*domain.UsageRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var records []*domain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, tool, credits_used, description, used_at
		 FROM usage_records
		 WHERE account_id = ?
		 ORDER BY used_at DESC, id DESC
		 LIMIT ?`,
		accountID,
		limit,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
