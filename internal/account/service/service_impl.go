package service

import (
	"context"
	"strings"
	"time"

	"github.com/agencykit/creditd/internal/account/domain"
	"github.com/agencykit/creditd/internal/clock"
	"github.com/agencykit/creditd/internal/config"
	ledgerdomain "github.com/agencykit/creditd/internal/ledger/domain"
	obsmetrics "github.com/agencykit/creditd/internal/observability/metrics"
	reconcilerdomain "github.com/agencykit/creditd/internal/reconciler/domain"
	"github.com/agencykit/creditd/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	Plans       *config.PlanConfigHolder
	Repo        domain.Repository
	LedgerRepo  ledgerdomain.Repository
	PendingRepo reconcilerdomain.PendingGrantRepository
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.CreditConfig
	plans       *config.PlanConfigHolder
	repo        domain.Repository
	ledgerRepo  ledgerdomain.Repository
	pendingRepo reconcilerdomain.PendingGrantRepository
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("account.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg.Credit,
		plans:       p.Plans,
		repo:        p.Repo,
		ledgerRepo:  p.LedgerRepo,
		pendingRepo: p.PendingRepo,
		obsMetrics:  p.ObsMetrics,
	}
}

// Create inserts the account and applies any pending grants parked for its
// email, all in one transaction so a payment made before signup lands
// exactly once.
func (s *Service) Create(ctx context.Context, req domain.CreateAccountRequest) (domain.CreateAccountResponse, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return domain.CreateAccountResponse{}, domain.ErrInvalidUserID
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return domain.CreateAccountResponse{}, domain.ErrInvalidEmail
	}

	now := s.clock.Now()
	account := domain.Account{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		Email:     req.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var (
		granted       int64
		applied       int
		appliedGrants []*reconcilerdomain.PendingGrant
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &account); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyExists
			}
			return err
		}

		grants, err := s.pendingRepo.UnappliedByEmail(ctx, tx, req.Email)
		if err != nil {
			return err
		}
		for _, grant := range grants {
			// The expiry window starts at signup, not at payment time, so
			// credits paid for before registering are not already aging.
			var expiresAt *time.Time
			if plan, mapped := s.plans.Resolve(grant.AmountPaidCents, s.cfg.CentsPerCredit); mapped && plan.ExpiresInDays > 0 {
				expiry := now.AddDate(0, 0, plan.ExpiresInDays)
				expiresAt = &expiry
			}
			batch := &ledgerdomain.CreditBatch{
				ID:               s.genID.Generate(),
				AccountID:        account.ID,
				CreditsGranted:   grant.Credits,
				CreditsRemaining: grant.Credits,
				PlanName:         grant.PlanName,
				SourceEventID:    grant.SourceEventID,
				Payload:          grant.Payload,
				GrantedAt:        grant.ReceivedAt,
				ExpiresAt:        expiresAt,
				CreatedAt:        now,
			}
			inserted, err := s.ledgerRepo.InsertBatch(ctx, tx, batch)
			if err != nil {
				return err
			}
			if !inserted {
				// A concurrent path already turned this event into a batch.
				continue
			}
			marked, err := s.pendingRepo.MarkApplied(ctx, tx, grant.ID, batch.ID, now)
			if err != nil {
				return err
			}
			if !marked {
				continue
			}
			granted += grant.Credits
			applied++
			appliedGrants = append(appliedGrants, grant)
		}

		if granted > 0 {
			account.Balance = granted
			if err := s.repo.UpdateBalance(ctx, tx, account.ID, granted, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.CreateAccountResponse{}, err
	}

	for _, grant := range appliedGrants {
		s.obsMetrics.RecordGrant(ctx, grant.PlanName, grant.Credits)
	}
	if applied > 0 {
		s.log.Info("pending grants applied at signup",
			zap.String("user_id", req.UserID),
			zap.Int("grants", applied),
			zap.Int64("credits", granted),
		)
	}
	return domain.CreateAccountResponse{
		Account:        account,
		GrantedCredits: granted,
		AppliedGrants:  applied,
	}, nil
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (*domain.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	account, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrNotFound
	}
	return account, nil
}
