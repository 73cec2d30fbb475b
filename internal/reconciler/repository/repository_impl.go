package repository

import (
	"context"
	"time"

	"github.com/agencykit/creditd/internal/reconciler/domain"
	"github.com/agencykit/creditd/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.PendingGrantRepository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, grant *domain.PendingGrant) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`INSERT INTO pending_grants (
			id, email, source_event_id, credits, plan_name,
			amount_paid_cents, payload, received_at, applied_at, applied_batch_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
		ON CONFLICT (source_event_id) DO NOTHING`,
		grant.ID,
		grant.Email,
		grant.SourceEventID,
		grant.Credits,
		grant.PlanName,
		grant.AmountPaidCents,
		grant.Payload,
		grant.ReceivedAt,
	)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindBySourceEvent(ctx context.Context, conn *gorm.DB, sourceEventID string) (*domain.PendingGrant, error) {
	var grant domain.PendingGrant
	err := conn.WithContext(ctx).Raw(
		`SELECT id, email, source_event_id, credits, plan_name,
		        amount_paid_cents, payload, received_at, applied_at, applied_batch_id
		 FROM pending_grants WHERE source_event_id = ?`,
		sourceEventID,
	).Scan(&grant).Error
	if err != nil {
		return nil, err
	}
	if grant.ID == 0 {
		return nil, nil
	}
	return &grant, nil
}

func (r *repo) UnappliedByEmail(ctx context.Context, conn *gorm.DB, email string) ([]*domain.PendingGrant, error) {
	var grants []*domain.PendingGrant
	err := conn.WithContext(ctx).Raw(
		`SELECT id, email, source_event_id, credits, plan_name,
		        amount_paid_cents, payload, received_at, applied_at, applied_batch_id
		 FROM pending_grants
		 WHERE email = ? AND applied_at IS NULL
		 ORDER BY received_at ASC, id ASC`,
		email,
	).Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repo) MarkApplied(ctx context.Context, conn *gorm.DB, id, batchID snowflake.ID, now time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE pending_grants SET applied_at = ?, applied_batch_id = ?
		 WHERE id = ? AND applied_at IS NULL`,
		now,
		batchID,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
