package domain

import (
	"math"
	"sort"
)

// Table is an immutable, size-sorted snapshot of the configured tiers.
type Table struct {
	tiers    []PricingTier
	fallback int64
}

// NewTable sorts a copy of tiers ascending by size.
func NewTable(tiers []PricingTier, fallback int64) Table {
	sorted := make([]PricingTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SizeCM < sorted[j].SizeCM })
	return Table{tiers: sorted, fallback: fallback}
}

func (t Table) Tiers() []PricingTier {
	out := make([]PricingTier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Price returns the token price for size. Sizes outside the configured range
// clamp to the nearest end tier. Between tiers the price is interpolated
// linearly and rounded half to even.
func (t Table) Price(size float64) int64 {
	if len(t.tiers) == 0 {
		return t.fallback
	}

	first := t.tiers[0]
	last := t.tiers[len(t.tiers)-1]
	if size <= float64(first.SizeCM) {
		return first.Price
	}
	if size >= float64(last.SizeCM) {
		return last.Price
	}

	for i := 1; i < len(t.tiers); i++ {
		prev, next := t.tiers[i-1], t.tiers[i]
		if size > float64(next.SizeCM) {
			continue
		}
		if size == float64(next.SizeCM) {
			return next.Price
		}
		span := float64(next.SizeCM - prev.SizeCM)
		offset := size - float64(prev.SizeCM)
		price := float64(prev.Price) + float64(next.Price-prev.Price)*offset/span
		return int64(math.RoundToEven(price))
	}
	return last.Price
}

// PriceForSize prices size against tiers without keeping a Table around.
func PriceForSize(tiers []PricingTier, size float64, fallback int64) int64 {
	return NewTable(tiers, fallback).Price(size)
}
