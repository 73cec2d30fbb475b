package service

import (
	"context"
	"errors"
	"strings"
	"time"

	accountdomain "github.com/agencykit/creditd/internal/account/domain"
	"github.com/agencykit/creditd/internal/cache"
	"github.com/agencykit/creditd/internal/clock"
	"github.com/agencykit/creditd/internal/config"
	"github.com/agencykit/creditd/internal/ledger/domain"
	"github.com/agencykit/creditd/internal/lock"
	obsmetrics "github.com/agencykit/creditd/internal/observability/metrics"
	usagedomain "github.com/agencykit/creditd/internal/usage/domain"
	"github.com/agencykit/creditd/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lockTTL = 10 * time.Second

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Repo         domain.Repository
	AccountRepo  accountdomain.Repository
	Recorder     usagedomain.Recorder
	Locker       *lock.Locker        `optional:"true"`
	BalanceCache *cache.BalanceCache `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	retries      int
	repo         domain.Repository
	accountRepo  accountdomain.Repository
	recorder     usagedomain.Recorder
	locker       *lock.Locker
	balanceCache *cache.BalanceCache
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	retries := p.Cfg.Credit.DeductRetries
	if retries < 1 {
		retries = 1
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("ledger.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		retries:      retries,
		repo:         p.Repo,
		accountRepo:  p.AccountRepo,
		recorder:     p.Recorder,
		locker:       p.Locker,
		balanceCache: p.BalanceCache,
		obsMetrics:   p.ObsMetrics,
	}
}

// Deduct consumes credits FIFO across the account's batches inside one
// transaction. Availability is always computed from live batch sums, never
// from the cached balance column.
func (s *Service) Deduct(ctx context.Context, req domain.DeductRequest) (domain.DeductResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return domain.DeductResult{}, domain.ErrInvalidUser
	}
	if req.Credits <= 0 {
		return domain.DeductResult{}, domain.ErrInvalidAmount
	}
	req.Tool = strings.TrimSpace(req.Tool)
	if req.Tool == "" {
		req.Tool = "unknown"
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	// Advisory cross-process lock. A miss just means more conflict
	// retries below; the account row lock is what serializes writers.
	if s.locker != nil {
		key := "creditd:account_lock:" + req.UserID
		if token, ok, err := s.locker.TryLock(ctx, key, lockTTL); err == nil && ok {
			defer func() { _ = s.locker.Release(ctx, key, token) }()
		}
	}

	var (
		result    domain.DeductResult
		accountID snowflake.ID
		replayed  bool
		err       error
	)
	for attempt := 0; attempt < s.retries; attempt++ {
		result, accountID, replayed, err = s.deductOnce(ctx, req)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrStorageConflict) || db.IsSerializationErr(err) {
			s.log.Debug("deduction conflict, retrying",
				zap.String("user_id", req.UserID),
				zap.Int("attempt", attempt+1),
			)
			time.Sleep(time.Duration(attempt+1) * 25 * time.Millisecond)
			continue
		}
		if ice, ok := domain.AsInsufficientCredits(err); ok {
			s.obsMetrics.RecordInsufficientCredits(ctx, req.Tool)
			s.log.Info("deduction rejected",
				zap.String("user_id", req.UserID),
				zap.Int64("requested", ice.Requested),
				zap.Int64("available", ice.Available),
			)
		}
		return domain.DeductResult{}, err
	}
	if err != nil {
		s.log.Warn("deduction retries exhausted", zap.String("user_id", req.UserID), zap.Error(err))
		return domain.DeductResult{}, domain.ErrTransientFailure
	}

	s.balanceCache.Invalidate(ctx, req.UserID)

	if !replayed {
		s.obsMetrics.RecordDeduction(ctx, req.Tool, req.Credits)
		s.recorder.Record(usagedomain.Entry{
			AccountID:   accountID,
			Tool:        req.Tool,
			CreditsUsed: req.Credits,
			Description: req.Description,
			UsedAt:      s.clock.Now(),
		})
	}
	return result, nil
}

func (s *Service) deductOnce(ctx context.Context, req domain.DeductRequest) (domain.DeductResult, snowflake.ID, bool, error) {
	now := s.clock.Now()

	var (
		result    domain.DeductResult
		accountID snowflake.ID
		replayed  bool
		failure   *domain.InsufficientCreditsError
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.LockByUserID(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrAccountNotFound
		}
		accountID = account.ID

		if req.IdempotencyKey != "" {
			prior, err := s.repo.FindAttempt(ctx, tx, account.ID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if prior != nil {
				replayed = true
				switch prior.Outcome {
				case domain.AttemptOutcomeSucceeded:
					result = domain.DeductResult{RemainingBalance: prior.RemainingBalance}
				default:
					failure = &domain.InsufficientCreditsError{
						Available: prior.Available,
						Requested: prior.CreditsRequested,
					}
				}
				return nil
			}
		}

		batches, err := s.repo.ActiveBatches(ctx, tx, account.ID, now)
		if err != nil {
			return err
		}
		var available int64
		for _, batch := range batches {
			available += batch.CreditsRemaining
		}

		if available < req.Credits {
			failure = &domain.InsufficientCreditsError{Available: available, Requested: req.Credits}
			if req.IdempotencyKey != "" {
				attempt := &domain.DeductionAttempt{
					ID:               s.genID.Generate(),
					AccountID:        account.ID,
					IdempotencyKey:   req.IdempotencyKey,
					CreditsRequested: req.Credits,
					Outcome:          domain.AttemptOutcomeInsufficient,
					Available:        available,
					CreatedAt:        now,
				}
				if err := s.repo.InsertAttempt(ctx, tx, attempt); err != nil {
					if db.IsDuplicateKeyErr(err) {
						return domain.ErrStorageConflict
					}
					return err
				}
			}
			return nil
		}

		needed := req.Credits
		for _, batch := range batches {
			if needed == 0 {
				break
			}
			take := batch.CreditsRemaining
			if take > needed {
				take = needed
			}
			ok, err := s.repo.UpdateBatchRemaining(ctx, tx, batch.ID, batch.CreditsRemaining, batch.CreditsRemaining-take)
			if err != nil {
				return err
			}
			if !ok {
				// Another writer drained this batch between our read and
				// write; roll back and redo the whole walk.
				return domain.ErrStorageConflict
			}
			needed -= take
		}

		newBalance := available - req.Credits
		if err := s.accountRepo.UpdateBalance(ctx, tx, account.ID, newBalance, now); err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			attempt := &domain.DeductionAttempt{
				ID:               s.genID.Generate(),
				AccountID:        account.ID,
				IdempotencyKey:   req.IdempotencyKey,
				CreditsRequested: req.Credits,
				Outcome:          domain.AttemptOutcomeSucceeded,
				RemainingBalance: newBalance,
				CreatedAt:        now,
			}
			if err := s.repo.InsertAttempt(ctx, tx, attempt); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return domain.ErrStorageConflict
				}
				return err
			}
		}

		result = domain.DeductResult{RemainingBalance: newBalance}
		return nil
	})
	if err != nil {
		return domain.DeductResult{}, accountID, false, err
	}
	if failure != nil {
		return domain.DeductResult{}, accountID, replayed, failure
	}
	return result, accountID, replayed, nil
}

// GetBalance sums live batches as ground truth and repairs the cached
// balance column when it has drifted.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, domain.ErrInvalidUser
	}

	if cached, ok := s.balanceCache.Get(ctx, userID); ok {
		return cached, nil
	}

	account, err := s.accountRepo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, domain.ErrAccountNotFound
	}

	batches, err := s.repo.ActiveBatches(ctx, s.db, account.ID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	var balance int64
	for _, batch := range batches {
		balance += batch.CreditsRemaining
	}

	if balance != account.Balance {
		s.log.Warn("cached balance drifted from batch sum, repairing",
			zap.String("user_id", userID),
			zap.Int64("cached", account.Balance),
			zap.Int64("computed", balance),
		)
		repaired, err := s.accountRepo.RepairBalance(ctx, s.db, account.ID, account.Balance, balance, s.clock.Now())
		if err != nil {
			s.log.Error("failed to repair balance", zap.String("user_id", userID), zap.Error(err))
		} else if !repaired {
			// The column moved since our read; the concurrent writer's
			// value is fresher than our sum.
			s.log.Debug("balance repair skipped, column changed underneath", zap.String("user_id", userID))
		}
	}

	s.balanceCache.Set(ctx, userID, balance)
	return balance, nil
}
