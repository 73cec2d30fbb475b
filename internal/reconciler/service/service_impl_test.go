package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	accountdomain "github.com/agencykit/creditd/internal/account/domain"
	accountrepo "github.com/agencykit/creditd/internal/account/repository"
	"github.com/agencykit/creditd/internal/clock"
	"github.com/agencykit/creditd/internal/config"
	ledgerdomain "github.com/agencykit/creditd/internal/ledger/domain"
	ledgerrepo "github.com/agencykit/creditd/internal/ledger/repository"
	"github.com/agencykit/creditd/internal/reconciler/domain"
	"github.com/agencykit/creditd/internal/reconciler/repository"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:reconciler_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&ledgerdomain.CreditBatch{},
		&domain.PendingGrant{},
	))
	return db
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return node
}

func newTestService(t *testing.T, db *gorm.DB, clk clock.Clock) domain.Service {
	t.Helper()
	return NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       mustNode(t),
		Clock:       clk,
		Cfg:         config.Config{Credit: config.CreditConfig{CentsPerCredit: 2}},
		Plans:       config.NewStaticPlanConfigHolder(config.DefaultPlansConfig()),
		Repo:        repository.Provide(),
		LedgerRepo:  ledgerrepo.Provide(),
		AccountRepo: accountrepo.Provide(),
	})
}

func seedAccount(t *testing.T, db *gorm.DB, node *snowflake.Node, userID, email string, now time.Time) *accountdomain.Account {
	t.Helper()
	account := &accountdomain.Account{
		ID:        node.Generate(),
		UserID:    userID,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, accountrepo.Provide().Insert(context.Background(), db, account))
	return account
}

func TestReconcileGrantsCreditsToExistingAccount(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := mustNode(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestService(t, db, clock.NewFakeClock(now))

	account := seedAccount(t, db, node, "user_pay", "payer@example.com", now)

	result, err := svc.Reconcile(ctx, domain.PaymentEvent{
		EventID:         "evt_1001",
		CustomerEmail:   "Payer@Example.com",
		AmountPaidCents: 999,
		OccurredAt:      now.Add(-time.Minute),
		RawPayload:      []byte(`{"id":"evt_1001"}`),
	})
	require.NoError(t, err)
	assert.True(t, result.Granted)
	require.NotNil(t, result.BatchID)
	assert.Equal(t, "Starter", result.PlanName)
	assert.Equal(t, int64(1000), result.Credits)

	var batch ledgerdomain.CreditBatch
	require.NoError(t, db.Raw(`SELECT * FROM credit_batches WHERE source_event_id = ?`, "evt_1001").Scan(&batch).Error)
	assert.Equal(t, account.ID, batch.AccountID)
	assert.Equal(t, int64(1000), batch.CreditsRemaining)
	require.NotNil(t, batch.ExpiresAt)
	assert.True(t, batch.ExpiresAt.Equal(now.AddDate(0, 0, 30)))

	var balance int64
	require.NoError(t, db.Raw(`SELECT balance FROM accounts WHERE id = ?`, account.ID).Scan(&balance).Error)
	assert.Equal(t, int64(1000), balance)
}

func TestReconcileDuplicateEventGrantsOnce(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := mustNode(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestService(t, db, clock.NewFakeClock(now))

	account := seedAccount(t, db, node, "user_dup", "dup@example.com", now)

	event := domain.PaymentEvent{
		EventID:         "evt_2001",
		CustomerEmail:   "dup@example.com",
		AmountPaidCents: 2999,
	}

	first, err := svc.Reconcile(ctx, event)
	require.NoError(t, err)
	require.True(t, first.Granted)

	second, err := svc.Reconcile(ctx, event)
	require.NoError(t, err, "redelivery must not fail")
	assert.False(t, second.Granted)
	assert.Equal(t, domain.ReasonDuplicateEvent, second.Reason)
	require.NotNil(t, second.BatchID)
	assert.Equal(t, *first.BatchID, *second.BatchID, "duplicate reports the original batch")

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM credit_batches WHERE source_event_id = ?`, "evt_2001").Scan(&count).Error)
	assert.Equal(t, int64(1), count)

	var balance int64
	require.NoError(t, db.Raw(`SELECT balance FROM accounts WHERE id = ?`, account.ID).Scan(&balance).Error)
	assert.Equal(t, int64(3500), balance, "credits granted exactly once")
}

func TestReconcileParksGrantWhenNoAccount(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestService(t, db, clock.NewFakeClock(now))

	event := domain.PaymentEvent{
		EventID:         "evt_3001",
		CustomerEmail:   "early@example.com",
		AmountPaidCents: 200,
	}

	result, err := svc.Reconcile(ctx, event)
	require.NoError(t, err)
	assert.False(t, result.Granted)
	assert.Equal(t, domain.ReasonPendingSignup, result.Reason)

	grant, err := repository.Provide().FindBySourceEvent(ctx, db, "evt_3001")
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, "early@example.com", grant.Email)
	assert.Equal(t, int64(200), grant.Credits)
	assert.Equal(t, "Professional", grant.PlanName)
	assert.Nil(t, grant.AppliedAt)

	dup, err := svc.Reconcile(ctx, event)
	require.NoError(t, err)
	assert.False(t, dup.Granted)
	assert.Equal(t, domain.ReasonDuplicateEvent, dup.Reason)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM pending_grants WHERE source_event_id = ?`, "evt_3001").Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

// staleLookupAccountRepo misses the first email lookups even when the row
// exists, the way a signup committing right after the lookup looks to the
// reconciler.
type staleLookupAccountRepo struct {
	accountdomain.Repository

	mu     sync.Mutex
	misses int
}

func (r *staleLookupAccountRepo) FindByEmail(ctx context.Context, conn *gorm.DB, email string) (*accountdomain.Account, error) {
	r.mu.Lock()
	miss := r.misses > 0
	if miss {
		r.misses--
	}
	r.mu.Unlock()
	if miss {
		return nil, nil
	}
	return r.Repository.FindByEmail(ctx, conn, email)
}

func TestReconcileAppliesGrantWhenSignupLandsMidFlight(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := mustNode(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	account := seedAccount(t, db, node, "user_race", "race@example.com", now)

	svc := NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       mustNode(t),
		Clock:       clock.NewFakeClock(now),
		Cfg:         config.Config{Credit: config.CreditConfig{CentsPerCredit: 2}},
		Plans:       config.NewStaticPlanConfigHolder(config.DefaultPlansConfig()),
		Repo:        repository.Provide(),
		LedgerRepo:  ledgerrepo.Provide(),
		AccountRepo: &staleLookupAccountRepo{Repository: accountrepo.Provide(), misses: 1},
	})

	result, err := svc.Reconcile(ctx, domain.PaymentEvent{
		EventID:         "evt_5001",
		CustomerEmail:   "race@example.com",
		AmountPaidCents: 999,
	})
	require.NoError(t, err)
	assert.True(t, result.Granted, "grant must not be stranded as pending")
	require.NotNil(t, result.BatchID)
	assert.Equal(t, int64(1000), result.Credits)

	var balance int64
	require.NoError(t, db.Raw(`SELECT balance FROM accounts WHERE id = ?`, account.ID).Scan(&balance).Error)
	assert.Equal(t, int64(1000), balance)

	grant, err := repository.Provide().FindBySourceEvent(ctx, db, "evt_5001")
	require.NoError(t, err)
	require.NotNil(t, grant)
	require.NotNil(t, grant.AppliedAt, "parked grant ends up applied")
	require.NotNil(t, grant.AppliedBatchID)
	assert.Equal(t, *result.BatchID, *grant.AppliedBatchID)

	dup, err := svc.Reconcile(ctx, domain.PaymentEvent{
		EventID:         "evt_5001",
		CustomerEmail:   "race@example.com",
		AmountPaidCents: 999,
	})
	require.NoError(t, err)
	assert.False(t, dup.Granted)
	assert.Equal(t, domain.ReasonDuplicateEvent, dup.Reason)
}

func TestReconcileUnmappedAmountUsesFallback(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := mustNode(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestService(t, db, clock.NewFakeClock(now))

	seedAccount(t, db, node, "user_odd", "odd@example.com", now)

	result, err := svc.Reconcile(ctx, domain.PaymentEvent{
		EventID:         "evt_4001",
		CustomerEmail:   "odd@example.com",
		AmountPaidCents: 1234,
	})
	require.NoError(t, err, "unmapped amounts are still processed")
	assert.True(t, result.Granted)
	assert.Equal(t, config.FallbackPlanName, result.PlanName)
	assert.Equal(t, int64(617), result.Credits)

	var batch ledgerdomain.CreditBatch
	require.NoError(t, db.Raw(`SELECT * FROM credit_batches WHERE source_event_id = ?`, "evt_4001").Scan(&batch).Error)
	assert.Nil(t, batch.ExpiresAt, "fallback grants carry no expiry")
}

func TestReconcileValidation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db, clock.NewFakeClock(time.Now()))

	_, err := svc.Reconcile(ctx, domain.PaymentEvent{EventID: "", CustomerEmail: "a@b.c", AmountPaidCents: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	_, err = svc.Reconcile(ctx, domain.PaymentEvent{EventID: "evt", CustomerEmail: "  ", AmountPaidCents: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)

	_, err = svc.Reconcile(ctx, domain.PaymentEvent{EventID: "evt", CustomerEmail: "a@b.c", AmountPaidCents: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Reconcile(ctx, domain.PaymentEvent{EventID: "evt", CustomerEmail: "a@b.c", AmountPaidCents: -500})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
