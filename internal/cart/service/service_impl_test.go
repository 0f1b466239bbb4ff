package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/stitchery/internal/apperror"
	cartdomain "github.com/smallbiznis/stitchery/internal/cart/domain"
	"github.com/smallbiznis/stitchery/internal/cart/repository"
	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	designdomain "github.com/smallbiznis/stitchery/internal/design/domain"
	designrepository "github.com/smallbiznis/stitchery/internal/design/repository"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/stitchery/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/stitchery/internal/ledger/service"
	notificationdomain "github.com/smallbiznis/stitchery/internal/notification/domain"
	orderdomain "github.com/smallbiznis/stitchery/internal/order/domain"
	orderrepository "github.com/smallbiznis/stitchery/internal/order/repository"
	pricetierdomain "github.com/smallbiznis/stitchery/internal/pricetier/domain"
	pricetierrepository "github.com/smallbiznis/stitchery/internal/pricetier/repository"
	pricetierservice "github.com/smallbiznis/stitchery/internal/pricetier/service"
	"github.com/smallbiznis/stitchery/internal/testutil"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, event notificationdomain.Event) {
	m.Called(ctx, event)
}

type fixture struct {
	svc      cartdomain.Service
	repo     cartdomain.Repository
	designs  designdomain.Repository
	ledger   ledgerdomain.Service
	db       *gorm.DB
	node     *snowflake.Node
	clock    clock.Clock
	notifier *mockNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := testutil.NewDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	economy := config.NewStaticEconomyHolder(config.DefaultEconomySettings())

	ledger := ledgerservice.New(ledgerservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: ledgerrepository.Provide(),
	})
	pricing := pricetierservice.New(pricetierservice.Params{
		Log: zap.NewNop(), GenID: node, Clock: clk, Repo: pricetierrepository.Provide(db), Economy: economy,
	})
	for _, tier := range []pricetierdomain.CreateRequest{{SizeCM: 5, Price: 10}, {SizeCM: 40, Price: 30}} {
		_, err := pricing.Create(ctx, tier)
		require.NoError(t, err)
	}

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Maybe()

	repo := repository.Provide()
	designs := designrepository.Provide()
	svc := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Repo:       repo,
		DesignRepo: designs,
		OrderRepo:  orderrepository.Provide(),
		Pricing:    pricing,
		Ledger:     ledger,
		Economy:    economy,
		Notifier:   notifier,
	})
	return &fixture{svc: svc, repo: repo, designs: designs, ledger: ledger, db: db, node: node, clock: clk, notifier: notifier}
}

func (f *fixture) fund(t *testing.T, user snowflake.ID, amount int64) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), ledgerdomain.PostingRequest{
		UserID: user, Kind: ledgerdomain.KindPurchase, Amount: amount, Description: "pack",
	})
	require.NoError(t, err)
}

func (f *fixture) design(t *testing.T, user snowflake.ID, size int, status designdomain.Status) *designdomain.Design {
	t.Helper()
	now := f.clock.Now()
	d := &designdomain.Design{
		ID: f.node.Generate(), UserID: user, Name: "Fern", SizeCM: size,
		Status: status, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.designs.Insert(context.Background(), f.db, d))
	return d
}

func (f *fixture) add(t *testing.T, user snowflake.ID, designID snowflake.ID) *cartdomain.Item {
	t.Helper()
	item, err := f.svc.Add(context.Background(), user, cartdomain.AddRequest{DesignID: designID})
	require.NoError(t, err)
	return item
}

func (f *fixture) countOrders(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM orders`).Scan(&n).Error)
	return n
}

func TestCheckoutCreatesOrdersWithSingleDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := snowflake.ID(41)
	f.fund(t, user, 100)
	small := f.design(t, user, 5, designdomain.StatusReady)
	medium := f.design(t, user, 20, designdomain.StatusDraft)
	f.add(t, user, small.ID)
	f.add(t, user, medium.ID)

	res, err := f.svc.Checkout(ctx, user, cartdomain.CheckoutRequest{Formats: []string{"DST", "pes", "xyz", "dst"}})
	require.NoError(t, err)
	require.Len(t, res.Orders, 2)
	assert.Equal(t, int64(29), res.TokensSpent)
	assert.Equal(t, int64(71), res.Balance)
	assert.Empty(t, res.Discarded)

	assert.Equal(t, "ORD-2025-001", res.Orders[0].Number)
	assert.Equal(t, "ORD-2025-002", res.Orders[1].Number)
	assert.Equal(t, int64(10), res.Orders[0].TokensUsed)
	assert.Equal(t, int64(19), res.Orders[1].TokensUsed)
	for _, order := range res.Orders {
		assert.Equal(t, orderdomain.StatusSubmitted, order.Status)
		assert.Equal(t, []string{"dst", "pes"}, []string(order.RequestedFormats))
	}

	for _, id := range []snowflake.ID{small.ID, medium.ID} {
		d, err := f.designs.FindByID(ctx, f.db, id)
		require.NoError(t, err)
		assert.Equal(t, designdomain.StatusProcessing, d.Status)
	}

	items, err := f.repo.ListByUser(ctx, f.db, user)
	require.NoError(t, err)
	assert.Empty(t, items)

	usage, err := f.ledger.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{UserID: user, Kind: ledgerdomain.KindUsage})
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, int64(-29), usage[0].Amount)

	f.notifier.AssertNumberOfCalls(t, "Notify", 2)
}

func TestCheckoutInsufficientFundsCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := snowflake.ID(42)
	f.fund(t, user, 20)
	a := f.design(t, user, 20, designdomain.StatusReady)
	b := f.design(t, user, 40, designdomain.StatusReady)
	f.add(t, user, a.ID)
	f.add(t, user, b.ID)

	_, err := f.svc.Checkout(ctx, user, cartdomain.CheckoutRequest{Formats: []string{"dst"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrInsufficientFunds))
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.EqualValues(t, 49, appErr.Details["required"])
	assert.EqualValues(t, 20, appErr.Details["available"])

	assert.Equal(t, int64(0), f.countOrders(t))
	items, err := f.repo.ListByUser(ctx, f.db, user)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	balance, err := f.ledger.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	d, err := f.designs.FindByID(ctx, f.db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, designdomain.StatusReady, d.Status)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestCheckoutPrunesInvalidItemsEvenOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := snowflake.ID(43)
	good := f.design(t, user, 10, designdomain.StatusReady)
	done := f.design(t, user, 10, designdomain.StatusReady)
	f.add(t, user, good.ID)
	f.add(t, user, done.ID)
	require.NoError(t, f.designs.SetStatus(ctx, f.db, done.ID, designdomain.StatusCompleted, f.clock.Now()))
	now := f.clock.Now()
	require.NoError(t, f.repo.Upsert(ctx, f.db, &cartdomain.Item{
		ID: f.node.Generate(), UserID: user, DesignID: snowflake.ID(123456), SizeCM: 10, CreatedAt: now, UpdatedAt: now,
	}))

	_, err := f.svc.Checkout(ctx, user, cartdomain.CheckoutRequest{})
	assert.True(t, errors.Is(err, apperror.ErrInsufficientFunds))

	items, err := f.repo.ListByUser(ctx, f.db, user)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, good.ID, items[0].DesignID)
}

func TestCheckoutEmptyCartReportsDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := snowflake.ID(44)
	d := f.design(t, user, 10, designdomain.StatusReady)
	f.add(t, user, d.ID)
	require.NoError(t, f.designs.SetStatus(ctx, f.db, d.ID, designdomain.StatusProcessing, f.clock.Now()))

	_, err := f.svc.Checkout(ctx, user, cartdomain.CheckoutRequest{Formats: []string{"pes"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, cartdomain.ErrEmptyCart))
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	discarded, ok := appErr.Details["discarded"].([]cartdomain.Discarded)
	require.True(t, ok)
	require.Len(t, discarded, 1)
	assert.Equal(t, cartdomain.ReasonNotOrderable, discarded[0].Reason)

	_, err = f.svc.Checkout(ctx, user, cartdomain.CheckoutRequest{Formats: []string{"pes"}})
	assert.True(t, errors.Is(err, cartdomain.ErrEmptyCart))
}

func TestCheckoutRejectsUnsupportedFormats(t *testing.T) {
	f := newFixture(t)
	user := snowflake.ID(45)
	f.fund(t, user, 50)
	d := f.design(t, user, 5, designdomain.StatusReady)
	f.add(t, user, d.ID)

	_, err := f.svc.Checkout(context.Background(), user, cartdomain.CheckoutRequest{Formats: []string{"png", "svg"}})
	assert.True(t, errors.Is(err, orderdomain.ErrNoFormats))
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	res, err := f.svc.Checkout(context.Background(), user, cartdomain.CheckoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"dst", "pes", "jef"}, []string(res.Orders[0].RequestedFormats))
}

func TestAddValidatesDesignAndUpdatesSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := snowflake.ID(46)
	d := f.design(t, user, 10, designdomain.StatusDraft)

	size := 30
	first, err := f.svc.Add(ctx, user, cartdomain.AddRequest{DesignID: d.ID, SizeCM: &size})
	require.NoError(t, err)
	assert.Equal(t, 30, first.SizeCM)

	size = 12
	second, err := f.svc.Add(ctx, user, cartdomain.AddRequest{DesignID: d.ID, SizeCM: &size})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 12, second.SizeCM)

	stored, err := f.designs.FindByID(ctx, f.db, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, stored.SizeCM)

	bad := 80
	_, err = f.svc.Add(ctx, user, cartdomain.AddRequest{DesignID: d.ID, SizeCM: &bad})
	assert.True(t, errors.Is(err, cartdomain.ErrInvalidSize))

	_, err = f.svc.Add(ctx, snowflake.ID(1), cartdomain.AddRequest{DesignID: d.ID})
	assert.True(t, errors.Is(err, cartdomain.ErrDesignNotFound))

	locked := f.design(t, user, 10, designdomain.StatusCompleted)
	_, err = f.svc.Add(ctx, user, cartdomain.AddRequest{DesignID: locked.ID})
	assert.True(t, errors.Is(err, cartdomain.ErrNotOrderable))
}

func TestListQuotesAndRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := snowflake.ID(47)
	f.fund(t, user, 15)
	a := f.design(t, user, 40, designdomain.StatusReady)
	b := f.design(t, user, 5, designdomain.StatusReady)
	itemA := f.add(t, user, a.ID)
	f.add(t, user, b.ID)
	require.NoError(t, f.designs.SetStatus(ctx, f.db, b.ID, designdomain.StatusCompleted, f.clock.Now()))

	view, err := f.svc.List(ctx, user)
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.True(t, view.Items[0].Valid)
	assert.Equal(t, int64(30), view.Items[0].Price)
	assert.False(t, view.Items[1].Valid)
	assert.Equal(t, cartdomain.ReasonNotOrderable, view.Items[1].Reason)
	assert.Equal(t, int64(30), view.Total)
	assert.Equal(t, int64(15), view.Balance)

	require.NoError(t, f.svc.Remove(ctx, user, itemA.ID))
	assert.True(t, errors.Is(f.svc.Remove(ctx, user, itemA.ID), cartdomain.ErrItemNotFound))
	require.NoError(t, f.svc.RemoveDesign(ctx, user, b.ID))
	require.NoError(t, f.svc.Clear(ctx, user))

	view, err = f.svc.List(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}
