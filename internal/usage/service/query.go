package service

import (
	"context"

	accountdomain "github.com/agencykit/creditd/internal/account/domain"
	ledgerdomain "github.com/agencykit/creditd/internal/ledger/domain"
	"github.com/agencykit/creditd/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type QueryParams struct {
	fx.In

	DB          *gorm.DB
	Repo        domain.Repository
	AccountRepo accountdomain.Repository
}

// Query reads the usage trail for display.
type Query struct {
	db          *gorm.DB
	repo        domain.Repository
	accountRepo accountdomain.Repository
}

func NewQuery(p QueryParams) *Query {
	return &Query{
		db:          p.DB,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
	}
}

func (q *Query) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.UsageRecord, error) {
	account, err := q.accountRepo.FindByUserID(ctx, q.db, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return q.repo.ListByAccount(ctx, q.db, account.ID, limit)
}
