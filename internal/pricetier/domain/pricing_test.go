package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func exampleTiers() []PricingTier {
	return []PricingTier{
		{SizeCM: 40, Price: 30},
		{SizeCM: 5, Price: 10},
	}
}

func TestPriceForSizeInterpolatesBetweenTiers(t *testing.T) {
	// 10 + 20 * 15 / 35 = 18.57
	assert.Equal(t, int64(19), PriceForSize(exampleTiers(), 20, 10))
	assert.Equal(t, int64(15), PriceForSize(exampleTiers(), 13.75, 10))
}

func TestPriceForSizeRoundsHalfToEven(t *testing.T) {
	low := []PricingTier{{SizeCM: 10, Price: 10}, {SizeCM: 20, Price: 11}}
	assert.Equal(t, int64(10), PriceForSize(low, 15, 99), "10.5 rounds down to even")

	high := []PricingTier{{SizeCM: 10, Price: 11}, {SizeCM: 20, Price: 12}}
	assert.Equal(t, int64(12), PriceForSize(high, 15, 99), "11.5 rounds up to even")

	assert.Equal(t, int64(11), PriceForSize(low, 16, 99))
}

func TestPriceForSizeClampsOutsideRange(t *testing.T) {
	tiers := exampleTiers()
	assert.Equal(t, int64(10), PriceForSize(tiers, 5, 99))
	assert.Equal(t, int64(10), PriceForSize(tiers, 1, 99))
	assert.Equal(t, int64(30), PriceForSize(tiers, 40, 99))
	assert.Equal(t, int64(30), PriceForSize(tiers, 120, 99))
}

func TestPriceForSizeReturnsExactTierPrice(t *testing.T) {
	tiers := append(exampleTiers(), PricingTier{SizeCM: 20, Price: 25})
	assert.Equal(t, int64(25), PriceForSize(tiers, 20, 0))
	assert.Equal(t, int64(28), PriceForSize(tiers, 30, 0))
}

func TestPriceForSizeFallsBackWithoutTiers(t *testing.T) {
	assert.Equal(t, int64(10), PriceForSize(nil, 20, 10))
}

func TestPriceForSizeAllowsDecreasingPrices(t *testing.T) {
	tiers := []PricingTier{{SizeCM: 10, Price: 20}, {SizeCM: 20, Price: 10}}
	assert.Equal(t, int64(15), PriceForSize(tiers, 15, 0))
}

func TestPriceForSizeIsDeterministic(t *testing.T) {
	tiers := exampleTiers()
	first := PriceForSize(tiers, 27.3, 0)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, PriceForSize(tiers, 27.3, 0))
	}
	assert.Equal(t, 40, tiers[0].SizeCM, "input slice must not be reordered")
}
