package repository

import (
	"context"
	"time"

	"github.com/agencykit/creditd/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ActiveForAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) (*domain.Subscription, error) {
	var subs []*domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, status, current_period_end, created_at, updated_at
		 FROM subscriptions
		 WHERE account_id = ? AND status IN (?, ?)
		 ORDER BY current_period_end DESC`,
		accountID,
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusTrialing,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.IsActive(now) {
			return sub, nil
		}
	}
	return nil, nil
}
