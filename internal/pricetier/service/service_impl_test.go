package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/stitchery/internal/apperror"
	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	pricetierdomain "github.com/smallbiznis/stitchery/internal/pricetier/domain"
	"github.com/smallbiznis/stitchery/internal/pricetier/repository"
	"github.com/smallbiznis/stitchery/internal/testutil"
)

func newTestService(t *testing.T) pricetierdomain.Service {
	t.Helper()
	db := testutil.NewDB(t)
	return New(Params{
		Log:     zap.NewNop(),
		GenID:   testutil.Node(t),
		Clock:   clock.NewFakeClock(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)),
		Repo:    repository.Provide(db),
		Economy: config.NewStaticEconomyHolder(config.DefaultEconomySettings()),
	})
}

func TestQuoteUsesFallbackWithoutTiers(t *testing.T) {
	svc := newTestService(t)

	quote, err := svc.Quote(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, int64(10), quote.Price)
	assert.True(t, quote.Fallback)
}

func TestCreateAndQuoteInterpolates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, pricetierdomain.CreateRequest{SizeCM: 40, Price: 30})
	require.NoError(t, err)
	_, err = svc.Create(ctx, pricetierdomain.CreateRequest{SizeCM: 5, Price: 10})
	require.NoError(t, err)

	quote, err := svc.Quote(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(19), quote.Price)
	assert.False(t, quote.Fallback)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 5, list[0].SizeCM)
}

func TestCreateRejectsDuplicateSize(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, pricetierdomain.CreateRequest{SizeCM: 10, Price: 12})
	require.NoError(t, err)

	_, err = svc.Create(ctx, pricetierdomain.CreateRequest{SizeCM: 10, Price: 14})
	assert.True(t, errors.Is(err, pricetierdomain.ErrSizeTaken))
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestUpdateAndDelete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	small, err := svc.Create(ctx, pricetierdomain.CreateRequest{SizeCM: 5, Price: 10})
	require.NoError(t, err)
	big, err := svc.Create(ctx, pricetierdomain.CreateRequest{SizeCM: 40, Price: 30})
	require.NoError(t, err)

	taken := 40
	_, err = svc.Update(ctx, small.ID, pricetierdomain.UpdateRequest{SizeCM: &taken})
	assert.True(t, errors.Is(err, pricetierdomain.ErrSizeTaken))

	price := int64(35)
	updated, err := svc.Update(ctx, big.ID, pricetierdomain.UpdateRequest{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, int64(35), updated.Price)

	require.NoError(t, svc.Delete(ctx, small.ID))
	_, err = svc.Get(ctx, small.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	_, err = svc.Get(ctx, "not-a-number")
	assert.True(t, errors.Is(err, pricetierdomain.ErrInvalidID))
}

func TestQuoteRejectsNonPositiveSize(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Quote(context.Background(), 0)
	assert.True(t, errors.Is(err, pricetierdomain.ErrInvalidSize))
}
