package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/smallbiznis/stitchery/internal/clock"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/stitchery/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/stitchery/internal/ledger/service"
	orderdomain "github.com/smallbiznis/stitchery/internal/order/domain"
	"github.com/smallbiznis/stitchery/internal/ratelimit"
	"github.com/smallbiznis/stitchery/internal/testutil"
)

type fakeOrders struct {
	orderdomain.Service

	calls int
	limit int
	sent  int
	err   error
}

func (f *fakeOrders) ResendPendingNotifications(ctx context.Context, limit int) (int, error) {
	f.calls++
	f.limit = limit
	return f.sent, f.err
}

type fixture struct {
	db     *gorm.DB
	ledger ledgerdomain.Service
	orders *fakeOrders
	logs   *observer.ObservedLogs
	sched  *Scheduler
}

func newFixture(t *testing.T, cfg Config, locker *ratelimit.Locker) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	ledger := ledgerservice.New(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  ledgerrepository.Provide(),
	})
	core, logs := observer.New(zapcore.DebugLevel)
	orders := &fakeOrders{}
	sched, err := New(Params{
		Log:    zap.New(core),
		GenID:  node,
		Clock:  clk,
		Orders: orders,
		Ledger: ledger,
		Config: cfg,
		Locker: locker,
	})
	require.NoError(t, err)
	return &fixture{db: db, ledger: ledger, orders: orders, logs: logs, sched: sched}
}

func (f *fixture) fund(t *testing.T, userID snowflake.ID, amount int64) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), ledgerdomain.PostingRequest{
		UserID: userID,
		Kind:   ledgerdomain.KindPurchase,
		Amount: amount,
	})
	require.NoError(t, err)
}

func finishField(t *testing.T, logs *observer.ObservedLogs, job, key string) int64 {
	t.Helper()
	for _, entry := range logs.FilterMessage("scheduler.job.finish").All() {
		fields := entry.ContextMap()
		if fields["job"] == job {
			value, _ := fields[key].(int64)
			return value
		}
	}
	t.Fatalf("no finish log for %s", job)
	return 0
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{JobTimeout: 5 * time.Minute}.withDefaults()
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 200, cfg.ReconcileBatch)
	assert.Equal(t, 100, cfg.NotificationScan)
	assert.Equal(t, 5*time.Minute, cfg.LockTTL, "lock outlives the job timeout")
}

func TestRunOnceResendsAndReconciles(t *testing.T) {
	f := newFixture(t, Config{NotificationScan: 25}, nil)
	f.orders.sent = 3
	f.fund(t, 101, 50)
	f.fund(t, 102, 75)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Equal(t, 1, f.orders.calls)
	assert.Equal(t, 25, f.orders.limit)
	assert.Equal(t, int64(3), finishField(t, f.logs, JobResendNotifications, "processed_count"))
	assert.Equal(t, int64(2), finishField(t, f.logs, JobReconcileLedger, "processed_count"))
	assert.Zero(t, f.logs.FilterMessage("ledger.mismatch").Len())
}

func TestReconcilePagesThroughAccounts(t *testing.T) {
	f := newFixture(t, Config{ReconcileBatch: 2}, nil)
	for i := 1; i <= 5; i++ {
		f.fund(t, snowflake.ID(200+i), int64(i*10))
	}

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, int64(5), finishField(t, f.logs, JobReconcileLedger, "processed_count"))
}

func TestReconcileReportsDrift(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.fund(t, 301, 40)
	f.fund(t, 302, 40)
	require.NoError(t, f.db.Exec(`UPDATE token_accounts SET balance = balance + 5 WHERE user_id = ?`, 302).Error)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	mismatches := f.logs.FilterMessage("ledger.mismatch").All()
	require.Len(t, mismatches, 1)
	fields := mismatches[0].ContextMap()
	assert.Equal(t, "302", fields["user_id"])
	assert.Equal(t, int64(45), fields["balance"])
	assert.Equal(t, int64(40), fields["transaction_sum"])
	assert.Equal(t, int64(1), finishField(t, f.logs, JobReconcileLedger, "error_count"))
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.orders.err = errors.New("db unavailable")

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobResendNotifications)
	assert.Equal(t, 1, f.logs.FilterMessage("scheduler.job.finish").FilterField(zap.String("job", JobReconcileLedger)).Len(),
		"a failing job does not stop the next one")
}

func newLocker(t *testing.T) (*miniredis.Miniredis, *ratelimit.Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, ratelimit.NewLocker(client)
}

func TestJobSkippedWhileLockHeld(t *testing.T) {
	mr, locker := newLocker(t)
	f := newFixture(t, Config{}, locker)

	require.NoError(t, mr.Set(lockPrefix+JobResendNotifications, "other-instance"))

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Zero(t, f.orders.calls)
	assert.Equal(t, 1, f.logs.FilterMessage("scheduler.job.skipped").Len())

	held, err := mr.Get(lockPrefix + JobResendNotifications)
	require.NoError(t, err)
	assert.Equal(t, "other-instance", held, "foreign lock is left alone")
}

func TestLockReleasedAfterRun(t *testing.T) {
	mr, locker := newLocker(t)
	f := newFixture(t, Config{}, locker)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 1, f.orders.calls)
	assert.False(t, mr.Exists(lockPrefix+JobResendNotifications))
	assert.False(t, mr.Exists(lockPrefix+JobReconcileLedger))

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 2, f.orders.calls)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{RunInterval: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.sched.RunForever(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.logs.FilterMessage("scheduler.job.finish").Len() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
