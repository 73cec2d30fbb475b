package service

import (
	"context"
	"math"
	"strings"
	"time"

	accountdomain "github.com/agencykit/creditd/internal/account/domain"
	"github.com/agencykit/creditd/internal/clock"
	"github.com/agencykit/creditd/internal/config"
	"github.com/agencykit/creditd/internal/expiry/domain"
	ledgerdomain "github.com/agencykit/creditd/internal/ledger/domain"
	subscriptiondomain "github.com/agencykit/creditd/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Clock            clock.Clock
	Cfg              config.Config
	AccountRepo      accountdomain.Repository
	LedgerRepo       ledgerdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	clock            clock.Clock
	soonWindowDays   int
	accountRepo      accountdomain.Repository
	ledgerRepo       ledgerdomain.Repository
	subscriptionRepo subscriptiondomain.Repository
}

func NewService(p Params) domain.Service {
	window := p.Cfg.Credit.ExpiringSoonDays
	if window <= 0 {
		window = 7
	}
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("expiry.service"),
		clock:            p.Clock,
		soonWindowDays:   window,
		accountRepo:      p.AccountRepo,
		ledgerRepo:       p.LedgerRepo,
		subscriptionRepo: p.SubscriptionRepo,
	}
}

// GetExpirationInfo prefers the active subscription's period end over
// batch expiry; a renewing subscription keeps refreshing the usable
// window regardless of how individual batches are dated.
func (s *Service) GetExpirationInfo(ctx context.Context, userID string) (*domain.Info, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}

	account, err := s.accountRepo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}

	now := s.clock.Now()

	var expiresAt *time.Time
	sub, err := s.subscriptionRepo.ActiveForAccount(ctx, s.db, account.ID, now)
	if err != nil {
		return nil, err
	}
	if sub != nil && sub.CurrentPeriodEnd != nil {
		expiresAt = sub.CurrentPeriodEnd
	} else {
		expiresAt, err = s.ledgerRepo.SoonestExpiry(ctx, s.db, account.ID)
		if err != nil {
			return nil, err
		}
	}
	if expiresAt == nil {
		return nil, nil
	}

	days := daysUntil(now, *expiresAt)
	return &domain.Info{
		ExpiresAt:       expiresAt.UTC(),
		DaysUntilExpiry: days,
		ExpiringSoon:    days <= s.soonWindowDays,
		Expired:         days <= 0,
	}, nil
}

func daysUntil(now, expiry time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}
