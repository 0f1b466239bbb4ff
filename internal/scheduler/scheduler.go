package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/clock"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/stitchery/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/stitchery/internal/order/domain"
	"github.com/smallbiznis/stitchery/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobResendNotifications = "resend_notifications"
	JobReconcileLedger     = "reconcile_ledger"

	lockPrefix = "stitchery:scheduler:"
)

var ErrInvalidConfig = errors.New("invalid scheduler configuration")

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Orders  orderdomain.Service
	Ledger  ledgerdomain.Service
	Config  Config                       `optional:"true"`
	Locker  *ratelimit.Locker            `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	orders  orderdomain.Service
	ledger  ledgerdomain.Service
	locker  *ratelimit.Locker
	metrics *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Orders == nil || p.Ledger == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		orders:  p.Orders,
		ledger:  p.Ledger,
		locker:  p.Locker,
		metrics: p.Metrics,
	}, nil
}

// runJob runs fn under a distributed lock when redis is configured. A lock
// held elsewhere skips the run; a deadline is logged and not returned.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run := s.begin(ctx, name, batchSize)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.id),
	)

	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, lockPrefix+name, s.cfg.LockTTL)
		switch {
		case errors.Is(err, ratelimit.ErrLockHeld):
			log.Debug("scheduler.job.skipped", zap.String("reason", "lock_held"))
			s.metrics.ObserveRun(name, obsmetrics.JobOutcomeSkipped, s.clock.Now().Sub(start), 0)
			return nil
		case err != nil:
			s.metrics.ObserveRun(name, obsmetrics.JobOutcomeError, s.clock.Now().Sub(start), 0)
			return fmt.Errorf("%s: acquire lock: %w", name, err)
		}
		defer func() {
			if err := lease.Release(context.Background()); err != nil {
				log.Warn("release scheduler lock failed", zap.Error(err))
			}
		}()
	}

	log.Info("scheduler.job.start", zap.Int("batch_size", batchSize))
	err := fn(ctx)
	if err != nil && run.failed == 0 {
		run.fail()
	}
	s.logFinish(ctx, run)

	outcome := obsmetrics.JobOutcomeOK
	if err != nil || run.failed > 0 {
		outcome = obsmetrics.JobOutcomeError
	}
	s.metrics.ObserveRun(name, outcome, s.clock.Now().Sub(start), run.processed)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		name  string
		batch int
		fn    func(context.Context) error
	}{
		{JobResendNotifications, s.cfg.NotificationScan, s.resendNotifications},
		{JobReconcileLedger, s.cfg.ReconcileBatch, s.reconcileLedger},
	}

	var err error
	for _, job := range jobs {
		if parent.Err() != nil {
			break
		}
		err = errors.Join(err, s.runJob(parent, job.name, job.batch, job.fn))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) resendNotifications(ctx context.Context) error {
	count, err := s.orders.ResendPendingNotifications(ctx, s.cfg.NotificationScan)
	runFrom(ctx).done(count)
	return err
}

// reconcileLedger walks every account in id order and reports balances that
// disagree with their transaction history.
func (s *Scheduler) reconcileLedger(ctx context.Context) error {
	var after snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := s.ledger.ListAccountIDs(ctx, after, s.cfg.ReconcileBatch)
		if err != nil {
			return err
		}
		for _, userID := range ids {
			result, err := s.ledger.Reconcile(ctx, userID)
			if err != nil {
				s.jobError(ctx, "ledger reconcile failed", err, zap.String("user_id", userID.String()))
				continue
			}
			runFrom(ctx).done(1)
			if !result.Balanced {
				s.jobError(ctx, "ledger.mismatch", errLedgerMismatch,
					zap.String("user_id", userID.String()),
					zap.Int64("balance", result.Balance),
					zap.Int64("transaction_sum", result.TransactionSum),
					zap.Int64("transaction_count", result.TransactionCount),
				)
			}
		}
		if len(ids) < s.cfg.ReconcileBatch {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

var errLedgerMismatch = errors.New("balance does not match transaction sum")
