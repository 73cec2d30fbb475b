package repository

import (
	"context"
	"time"

	"github.com/agencykit/creditd/internal/ledger/domain"
	"github.com/agencykit/creditd/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ActiveBatches(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, now time.Time) ([]*domain.CreditBatch, error) {
	var batches []*domain.CreditBatch
	err := conn.WithContext(ctx).Raw(
		`SELECT id, account_id, credits_granted, credits_remaining, plan_name,
		        source_event_id, payload, granted_at, expires_at, created_at
		 FROM credit_batches
		 WHERE account_id = ?
		   AND credits_remaining > 0
		   AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY (expires_at IS NULL) ASC, expires_at ASC, granted_at ASC, id ASC`,
		accountID,
		now,
	).Scan(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repo) UpdateBatchRemaining(ctx context.Context, conn *gorm.DB, batchID snowflake.ID, from, to int64) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE credit_batches SET credits_remaining = ?
		 WHERE id = ? AND credits_remaining = ?`,
		to,
		batchID,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertBatch(ctx context.Context, conn *gorm.DB, batch *domain.CreditBatch) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`INSERT INTO credit_batches (
			id, account_id, credits_granted, credits_remaining, plan_name,
			source_event_id, payload, granted_at, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_event_id) DO NOTHING`,
		batch.ID,
		batch.AccountID,
		batch.CreditsGranted,
		batch.CreditsRemaining,
		batch.PlanName,
		batch.SourceEventID,
		batch.Payload,
		batch.GrantedAt,
		batch.ExpiresAt,
		batch.CreatedAt,
	)
	if result.Error != nil {
		// MySQL has no ON CONFLICT; the unique index still reports the race.
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindBatchBySourceEvent(ctx context.Context, conn *gorm.DB, sourceEventID string) (*domain.CreditBatch, error) {
	var batch domain.CreditBatch
	err := conn.WithContext(ctx).Raw(
		`SELECT id, account_id, credits_granted, credits_remaining, plan_name,
		        source_event_id, payload, granted_at, expires_at, created_at
		 FROM credit_batches WHERE source_event_id = ?`,
		sourceEventID,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) SoonestExpiry(ctx context.Context, conn *gorm.DB, accountID snowflake.ID) (*time.Time, error) {
	var row struct {
		ExpiresAt *time.Time
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT MIN(expires_at) AS expires_at
		 FROM credit_batches
		 WHERE account_id = ? AND credits_remaining > 0 AND expires_at IS NOT NULL`,
		accountID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return row.ExpiresAt, nil
}

func (r *repo) FindAttempt(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, key string) (*domain.DeductionAttempt, error) {
	var attempt domain.DeductionAttempt
	err := conn.WithContext(ctx).Raw(
		`SELECT id, account_id, idempotency_key, credits_requested, outcome,
		        remaining_balance, available, created_at
		 FROM deduction_attempts
		 WHERE account_id = ? AND idempotency_key = ?`,
		accountID,
		key,
	).Scan(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.ID == 0 {
		return nil, nil
	}
	return &attempt, nil
}

func (r *repo) InsertAttempt(ctx context.Context, conn *gorm.DB, attempt *domain.DeductionAttempt) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO deduction_attempts (
			id, account_id, idempotency_key, credits_requested, outcome,
			remaining_balance, available, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		attempt.AccountID,
		attempt.IdempotencyKey,
		attempt.CreditsRequested,
		attempt.Outcome,
		attempt.RemainingBalance,
		attempt.Available,
		attempt.CreatedAt,
	).Error
}
