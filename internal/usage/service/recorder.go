package service

import (
	"context"
	"sync"
	"time"

	obsmetrics "github.com/agencykit/creditd/internal/observability/metrics"
	"github.com/agencykit/creditd/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	queueSize    = 256
	writeTimeout = 5 * time.Second
	drainTimeout = 10 * time.Second
)

type Params struct {
	fx.In

	Lc         fx.Lifecycle
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Recorder writes usage records from a background worker so the deduction
// path never waits on the audit log.
type Recorder struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics

	queue chan domain.Entry
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewRecorder(p Params) domain.Recorder {
	r := &Recorder{
		db:         p.DB,
		log:        p.Log.Named("usage.recorder"),
		genID:      p.GenID,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
		queue:      make(chan domain.Entry, queueSize),
		done:       make(chan struct{}),
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go r.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return r.close(ctx)
		},
	})

	return r
}

// Record enqueues the entry. When the queue is full or the recorder has
// already stopped the entry is dropped and counted as a log failure rather
// than blocking or panicking on the closed queue.
func (r *Recorder) Record(entry domain.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.log.Error("usage recorder stopped, dropping record",
			zap.String("account_id", entry.AccountID.String()),
			zap.String("tool", entry.Tool),
			zap.Int64("credits_used", entry.CreditsUsed),
		)
		r.obsMetrics.RecordUsageLogFailure(context.Background())
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.log.Error("usage queue full, dropping record",
			zap.String("account_id", entry.AccountID.String()),
			zap.String("tool", entry.Tool),
			zap.Int64("credits_used", entry.CreditsUsed),
		)
		r.obsMetrics.RecordUsageLogFailure(context.Background())
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *Recorder) write(entry domain.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	record := &domain.UsageRecord{
		ID:          r.genID.Generate(),
		AccountID:   entry.AccountID,
		Tool:        entry.Tool,
		CreditsUsed: entry.CreditsUsed,
		Description: entry.Description,
		UsedAt:      entry.UsedAt,
	}
	if err := r.repo.Insert(ctx, r.db, record); err != nil {
		r.log.Error("failed to write usage record",
			zap.Error(err),
			zap.String("account_id", entry.AccountID.String()),
			zap.String("tool", entry.Tool),
		)
		r.obsMetrics.RecordUsageLogFailure(ctx)
	}
}

func (r *Recorder) close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	timeout := drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		r.log.Warn("usage recorder drain timed out")
		return nil
	}
}
