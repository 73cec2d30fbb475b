package service

import (
	"context"
	"strings"
	"time"

	accountdomain "github.com/agencykit/creditd/internal/account/domain"
	"github.com/agencykit/creditd/internal/cache"
	"github.com/agencykit/creditd/internal/clock"
	"github.com/agencykit/creditd/internal/config"
	ledgerdomain "github.com/agencykit/creditd/internal/ledger/domain"
	obsmetrics "github.com/agencykit/creditd/internal/observability/metrics"
	"github.com/agencykit/creditd/internal/reconciler/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Plans        *config.PlanConfigHolder
	Repo         domain.PendingGrantRepository
	LedgerRepo   ledgerdomain.Repository
	AccountRepo  accountdomain.Repository
	BalanceCache *cache.BalanceCache `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	cfg          config.CreditConfig
	plans        *config.PlanConfigHolder
	repo         domain.PendingGrantRepository
	ledgerRepo   ledgerdomain.Repository
	accountRepo  accountdomain.Repository
	balanceCache *cache.BalanceCache
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("reconciler.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          p.Cfg.Credit,
		plans:        p.Plans,
		repo:         p.Repo,
		ledgerRepo:   p.LedgerRepo,
		accountRepo:  p.AccountRepo,
		balanceCache: p.BalanceCache,
		obsMetrics:   p.ObsMetrics,
	}
}

// Reconcile turns a payment event into at most one credit batch. The
// unique source event id makes redelivery a no-op, and events that arrive
// before signup are parked as pending grants.
func (s *Service) Reconcile(ctx context.Context, event domain.PaymentEvent) (domain.ReconcileResult, error) {
	event.EventID = strings.TrimSpace(event.EventID)
	if event.EventID == "" {
		return domain.ReconcileResult{}, domain.ErrInvalidEvent
	}
	event.CustomerEmail = strings.ToLower(strings.TrimSpace(event.CustomerEmail))
	if event.CustomerEmail == "" {
		return domain.ReconcileResult{}, domain.ErrInvalidEmail
	}
	if event.AmountPaidCents <= 0 {
		return domain.ReconcileResult{}, domain.ErrInvalidAmount
	}

	plan, mapped := s.plans.Resolve(event.AmountPaidCents, s.cfg.CentsPerCredit)
	if !mapped {
		// Still processed; flagged for manual review.
		s.log.Warn("payment amount missing from plan table, using fallback formula",
			zap.String("event_id", event.EventID),
			zap.Int64("amount_cents", event.AmountPaidCents),
			zap.Int64("credits", plan.Credits),
		)
		s.obsMetrics.RecordUnmappedAmount(ctx, event.AmountPaidCents)
	}
	if plan.Credits <= 0 {
		return domain.ReconcileResult{}, domain.ErrInvalidAmount
	}

	account, err := s.accountRepo.FindByEmail(ctx, s.db, event.CustomerEmail)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	if account == nil {
		return s.parkPendingGrant(ctx, event, plan)
	}
	return s.grant(ctx, event, plan, account)
}

func (s *Service) grant(ctx context.Context, event domain.PaymentEvent, plan config.Plan, account *accountdomain.Account) (domain.ReconcileResult, error) {
	now := s.clock.Now()
	var result domain.ReconcileResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.accountRepo.LockByID(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ledgerdomain.ErrAccountNotFound
		}

		batch := &ledgerdomain.CreditBatch{
			ID:               s.genID.Generate(),
			AccountID:        account.ID,
			CreditsGranted:   plan.Credits,
			CreditsRemaining: plan.Credits,
			PlanName:         plan.Name,
			SourceEventID:    event.EventID,
			Payload:          datatypes.JSON(event.RawPayload),
			GrantedAt:        eventTime(event, now),
			ExpiresAt:        expiryFor(plan, now),
			CreatedAt:        now,
		}
		inserted, err := s.ledgerRepo.InsertBatch(ctx, tx, batch)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.ledgerRepo.FindBatchBySourceEvent(ctx, tx, event.EventID)
			if err != nil {
				return err
			}
			if existing == nil {
				// The event id is held by a pending grant from before signup.
				result = domain.ReconcileResult{Granted: false, Reason: domain.ReasonDuplicateEvent}
				return nil
			}
			id := existing.ID
			result = domain.ReconcileResult{
				Granted:  false,
				BatchID:  &id,
				PlanName: existing.PlanName,
				Credits:  existing.CreditsGranted,
				Reason:   domain.ReasonDuplicateEvent,
			}
			return nil
		}

		batches, err := s.ledgerRepo.ActiveBatches(ctx, tx, account.ID, now)
		if err != nil {
			return err
		}
		var balance int64
		for _, b := range batches {
			balance += b.CreditsRemaining
		}
		if err := s.accountRepo.UpdateBalance(ctx, tx, account.ID, balance, now); err != nil {
			return err
		}

		id := batch.ID
		result = domain.ReconcileResult{
			Granted:  true,
			BatchID:  &id,
			PlanName: plan.Name,
			Credits:  plan.Credits,
		}
		return nil
	})
	if err != nil {
		return domain.ReconcileResult{}, err
	}

	if result.Granted {
		s.balanceCache.Invalidate(ctx, account.UserID)
		s.obsMetrics.RecordGrant(ctx, plan.Name, plan.Credits)
		s.log.Info("credit batch granted",
			zap.String("event_id", event.EventID),
			zap.String("user_id", account.UserID),
			zap.String("plan", plan.Name),
			zap.Int64("credits", plan.Credits),
		)
	} else {
		s.obsMetrics.RecordDuplicateEvent(ctx)
	}
	return result, nil
}

func (s *Service) parkPendingGrant(ctx context.Context, event domain.PaymentEvent, plan config.Plan) (domain.ReconcileResult, error) {
	now := s.clock.Now()
	grant := &domain.PendingGrant{
		ID:              s.genID.Generate(),
		Email:           event.CustomerEmail,
		SourceEventID:   event.EventID,
		Credits:         plan.Credits,
		PlanName:        plan.Name,
		AmountPaidCents: event.AmountPaidCents,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      eventTime(event, now),
	}

	inserted, err := s.repo.Insert(ctx, s.db, grant)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	if !inserted {
		s.obsMetrics.RecordDuplicateEvent(ctx)
		existing, err := s.repo.FindBySourceEvent(ctx, s.db, event.EventID)
		if err != nil {
			return domain.ReconcileResult{}, err
		}
		if existing != nil && existing.AppliedBatchID != nil {
			return domain.ReconcileResult{
				Granted:  false,
				BatchID:  existing.AppliedBatchID,
				PlanName: existing.PlanName,
				Credits:  existing.Credits,
				Reason:   domain.ReasonDuplicateEvent,
			}, nil
		}
		return domain.ReconcileResult{Granted: false, Reason: domain.ReasonDuplicateEvent}, nil
	}

	// Signup can commit between the account lookup and the park. Its
	// pending-grant pass has already run by then, so nothing else would
	// ever apply this grant; re-check and apply it here.
	account, err := s.accountRepo.FindByEmail(ctx, s.db, event.CustomerEmail)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	if account != nil {
		return s.applyParkedGrant(ctx, event, plan, grant.ID, account)
	}

	s.log.Info("payment precedes signup, grant parked",
		zap.String("event_id", event.EventID),
		zap.String("email", event.CustomerEmail),
		zap.Int64("credits", plan.Credits),
	)
	return domain.ReconcileResult{Granted: false, Reason: domain.ReasonPendingSignup}, nil
}

// applyParkedGrant grants a freshly parked pending grant whose account
// appeared mid-flight, under the same applied_at guard the signup pass uses.
func (s *Service) applyParkedGrant(ctx context.Context, event domain.PaymentEvent, plan config.Plan, grantID snowflake.ID, account *accountdomain.Account) (domain.ReconcileResult, error) {
	now := s.clock.Now()
	var result domain.ReconcileResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.accountRepo.LockByID(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ledgerdomain.ErrAccountNotFound
		}

		batch := &ledgerdomain.CreditBatch{
			ID:               s.genID.Generate(),
			AccountID:        account.ID,
			CreditsGranted:   plan.Credits,
			CreditsRemaining: plan.Credits,
			PlanName:         plan.Name,
			SourceEventID:    event.EventID,
			Payload:          datatypes.JSON(event.RawPayload),
			GrantedAt:        eventTime(event, now),
			ExpiresAt:        expiryFor(plan, now),
			CreatedAt:        now,
		}
		inserted, err := s.ledgerRepo.InsertBatch(ctx, tx, batch)
		if err != nil {
			return err
		}
		if !inserted {
			// The signup pass picked the grant up after all.
			existing, err := s.ledgerRepo.FindBatchBySourceEvent(ctx, tx, event.EventID)
			if err != nil {
				return err
			}
			if existing != nil {
				id := existing.ID
				result = domain.ReconcileResult{
					Granted:  true,
					BatchID:  &id,
					PlanName: existing.PlanName,
					Credits:  existing.CreditsGranted,
				}
			}
			return nil
		}
		if _, err := s.repo.MarkApplied(ctx, tx, grantID, batch.ID, now); err != nil {
			return err
		}

		batches, err := s.ledgerRepo.ActiveBatches(ctx, tx, account.ID, now)
		if err != nil {
			return err
		}
		var balance int64
		for _, b := range batches {
			balance += b.CreditsRemaining
		}
		if err := s.accountRepo.UpdateBalance(ctx, tx, account.ID, balance, now); err != nil {
			return err
		}

		id := batch.ID
		result = domain.ReconcileResult{
			Granted:  true,
			BatchID:  &id,
			PlanName: plan.Name,
			Credits:  plan.Credits,
		}
		return nil
	})
	if err != nil {
		return domain.ReconcileResult{}, err
	}

	s.balanceCache.Invalidate(ctx, account.UserID)
	s.obsMetrics.RecordGrant(ctx, plan.Name, plan.Credits)
	s.log.Info("parked grant applied, signup landed mid-flight",
		zap.String("event_id", event.EventID),
		zap.String("user_id", account.UserID),
		zap.String("plan", plan.Name),
		zap.Int64("credits", plan.Credits),
	)
	return result, nil
}

func eventTime(event domain.PaymentEvent, now time.Time) time.Time {
	if event.OccurredAt.IsZero() {
		return now
	}
	return event.OccurredAt.UTC()
}

func expiryFor(plan config.Plan, now time.Time) *time.Time {
	if plan.ExpiresInDays <= 0 {
		return nil
	}
	expiry := now.AddDate(0, 0, plan.ExpiresInDays)
	return &expiry
}
