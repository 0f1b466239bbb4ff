package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/stitchery/internal/apperror"
	"github.com/smallbiznis/stitchery/internal/clock"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	"github.com/smallbiznis/stitchery/internal/ledger/repository"
	"github.com/smallbiznis/stitchery/internal/testutil"
)

func newTestLedger(t *testing.T) (ledgerdomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, db
}

func credit(t *testing.T, svc ledgerdomain.Service, user snowflake.ID, amount int64) *ledgerdomain.Posting {
	t.Helper()
	posting, err := svc.Credit(context.Background(), ledgerdomain.PostingRequest{
		UserID:      user,
		Kind:        ledgerdomain.KindPurchase,
		Amount:      amount,
		Description: "token package",
	})
	require.NoError(t, err)
	return posting
}

func assertReconciled(t *testing.T, svc ledgerdomain.Service, user snowflake.ID) *ledgerdomain.Reconciliation {
	t.Helper()
	rec, err := svc.Reconcile(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, rec.Balanced, "balance %d vs sum %d", rec.Balance, rec.TransactionSum)
	return rec
}

func TestCreditAndDebitKeepBalanceEqualToTransactionSum(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()
	user := snowflake.ID(101)

	credit(t, svc, user, 25)
	posting, err := svc.Debit(ctx, ledgerdomain.PostingRequest{
		UserID:      user,
		Kind:        ledgerdomain.KindUsage,
		Amount:      7,
		Description: "order ORD-2025-001",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-7), posting.Transaction.Amount)
	assert.Equal(t, int64(18), posting.Balance)

	rec := assertReconciled(t, svc, user)
	assert.Equal(t, int64(18), rec.Balance)
	assert.Equal(t, int64(2), rec.TransactionCount)
}

func TestDebitRejectsOverdraftWithoutSideEffects(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()
	user := snowflake.ID(102)
	credit(t, svc, user, 5)

	_, err := svc.Debit(ctx, ledgerdomain.PostingRequest{UserID: user, Kind: ledgerdomain.KindUsage, Amount: 6, Description: "too much"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrInsufficientFunds))

	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, int64(6), appErr.Details["required"])
	assert.Equal(t, int64(5), appErr.Details["available"])

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
	rec := assertReconciled(t, svc, user)
	assert.Equal(t, int64(1), rec.TransactionCount)
}

func TestDebitWithoutAccountIsInsufficient(t *testing.T) {
	svc, _ := newTestLedger(t)

	_, err := svc.Debit(context.Background(), ledgerdomain.PostingRequest{UserID: 103, Kind: ledgerdomain.KindUsage, Amount: 1})
	assert.True(t, errors.Is(err, apperror.ErrInsufficientFunds))
}

func TestPostingValidation(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, ledgerdomain.PostingRequest{UserID: 1, Kind: ledgerdomain.KindPurchase, Amount: 0})
	assert.True(t, errors.Is(err, ledgerdomain.ErrInvalidAmount))

	_, err = svc.Credit(ctx, ledgerdomain.PostingRequest{UserID: 1, Kind: ledgerdomain.KindUsage, Amount: 3})
	assert.True(t, errors.Is(err, ledgerdomain.ErrInvalidKind))

	_, err = svc.Credit(ctx, ledgerdomain.PostingRequest{UserID: 1, Kind: ledgerdomain.KindRefund, Amount: 3})
	assert.True(t, errors.Is(err, ledgerdomain.ErrInvalidKind))

	_, err = svc.Debit(ctx, ledgerdomain.PostingRequest{UserID: 0, Kind: ledgerdomain.KindUsage, Amount: 3})
	assert.True(t, errors.Is(err, ledgerdomain.ErrInvalidUser))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()
	user := snowflake.ID(104)
	credit(t, svc, user, 5)

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, ledgerdomain.PostingRequest{UserID: user, Kind: ledgerdomain.KindUsage, Amount: 1, Description: "generation"})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, apperror.ErrInsufficientFunds))
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	rec := assertReconciled(t, svc, user)
	assert.Equal(t, int64(0), rec.Balance)
}

func TestIdempotencyKeyReplaysPosting(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()
	user := snowflake.ID(105)
	req := ledgerdomain.PostingRequest{
		UserID:         user,
		Kind:           ledgerdomain.KindWelcomeBonus,
		Amount:         50,
		Description:    "welcome bonus",
		IdempotencyKey: "welcome_bonus:105",
	}

	first, err := svc.Credit(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.Credit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	req.Amount = 60
	_, err = svc.Credit(ctx, req)
	assert.True(t, errors.Is(err, ledgerdomain.ErrIdempotencyConflict))
}

func TestRefundTiesBackToOriginalDebit(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()
	user := snowflake.ID(106)
	credit(t, svc, user, 20)

	debit, err := svc.Debit(ctx, ledgerdomain.PostingRequest{UserID: user, Kind: ledgerdomain.KindFeatureUsage, Amount: 8, Description: "feature: Metallic thread"})
	require.NoError(t, err)

	_, err = svc.Refund(ctx, ledgerdomain.RefundRequest{UserID: user, Kind: ledgerdomain.KindRefund, Amount: 8, TransactionID: debit.Transaction.ID})
	assert.True(t, errors.Is(err, ledgerdomain.ErrRefundTargetInvalid), "usage refund cannot reverse a feature debit")

	refund, err := svc.Refund(ctx, ledgerdomain.RefundRequest{UserID: user, Kind: ledgerdomain.KindFeatureRefund, Amount: 8, TransactionID: debit.Transaction.ID})
	require.NoError(t, err)
	assert.Equal(t, "refund: feature: Metallic thread", refund.Transaction.Description)
	require.NotNil(t, refund.Transaction.RefundOf)
	assert.Equal(t, debit.Transaction.ID, *refund.Transaction.RefundOf)
	assert.Equal(t, int64(20), refund.Balance)

	_, err = svc.Refund(ctx, ledgerdomain.RefundRequest{UserID: user, Kind: ledgerdomain.KindFeatureRefund, Amount: 1, TransactionID: debit.Transaction.ID})
	assert.True(t, errors.Is(err, ledgerdomain.ErrRefundExceedsOriginal))

	_, err = svc.Refund(ctx, ledgerdomain.RefundRequest{UserID: 999, Kind: ledgerdomain.KindFeatureRefund, Amount: 1, TransactionID: debit.Transaction.ID})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	assertReconciled(t, svc, user)
}

func TestWithTxRollsBackWithOuterTransaction(t *testing.T) {
	svc, db := newTestLedger(t)
	ctx := context.Background()
	user := snowflake.ID(107)
	credit(t, svc, user, 10)

	errAbort := errors.New("abort")
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := svc.WithTx(tx).Debit(ctx, ledgerdomain.PostingRequest{UserID: user, Kind: ledgerdomain.KindUsage, Amount: 4}); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
	rec := assertReconciled(t, svc, user)
	assert.Equal(t, int64(1), rec.TransactionCount)
}

func TestListTransactionsFiltersByKind(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()
	user := snowflake.ID(108)
	credit(t, svc, user, 10)
	_, err := svc.Debit(ctx, ledgerdomain.PostingRequest{UserID: user, Kind: ledgerdomain.KindUsage, Amount: 2})
	require.NoError(t, err)

	all, err := svc.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{UserID: user})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	usage, err := svc.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{UserID: user, Kind: ledgerdomain.KindUsage})
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, int64(-2), usage[0].Amount)

	ids, err := svc.ListAccountIDs(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{user}, ids)
}
