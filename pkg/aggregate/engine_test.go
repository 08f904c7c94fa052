package aggregate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecompute(t *testing.T) {
	ctx := context.Background()
	cfg := Config{OffpeakRanges: nightWindow, MinReadingsPerDay: 40}

	t.Run("Empty", func(t *testing.T) {
		vm, err := Recompute(ctx, NewMemoryCache(), "pdl", cfg)
		require.NoError(t, err)
		assert.Empty(t, vm.Daily)
		assert.Empty(t, vm.Monthly)
		assert.Empty(t, vm.Yearly)
	})

	t.Run("FullPipeline", func(t *testing.T) {
		cache := NewMemoryCache()
		require.NoError(t, cache.Set(ctx, curvePayload("pdl", day(2025, 6, 1), day(2025, 6, 7), "1000")))

		vm, err := Recompute(ctx, cache, "pdl", cfg)
		require.NoError(t, err)

		require.Len(t, vm.Daily, 7)
		for _, d := range vm.Daily {
			assert.InDelta(t, 24, d.Kwh, 1e-9)
		}
		require.Len(t, vm.Monthly, 1)
		assert.InDelta(t, 7*24, vm.Monthly[0].Kwh, 1e-9)
		require.Len(t, vm.Yearly, 1)
		assert.InDelta(t, 7*24, vm.Yearly[0].Kwh, 1e-9)
		require.Len(t, vm.OffpeakPeriods, 1)
		assert.InDelta(t, vm.Yearly[0].Kwh, vm.OffpeakPeriods[0].TotalKwh, 1e-9)
	})

	t.Run("Idempotent", func(t *testing.T) {
		cache := NewMemoryCache()
		require.NoError(t, cache.Set(ctx, curvePayload("pdl", day(2025, 1, 1), day(2025, 1, 10), "700")))
		require.NoError(t, cache.Set(ctx, dailyPayload("pdl", day(2024, 12, 1), day(2024, 12, 31), "9000")))

		first, err := Recompute(ctx, cache, "pdl", cfg)
		require.NoError(t, err)
		second, err := Recompute(ctx, cache, "pdl", cfg)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("OverwrittenPayloadNotDoubleCounted", func(t *testing.T) {
		cache := NewMemoryCache()
		require.NoError(t, cache.Set(ctx, curvePayload("pdl", day(2025, 6, 1), day(2025, 6, 7), "500")))
		// a re-fetch of the same range replaces the earlier payload
		require.NoError(t, cache.Set(ctx, curvePayload("pdl", day(2025, 6, 1), day(2025, 6, 7), "1000")))

		vm, err := Recompute(ctx, cache, "pdl", cfg)
		require.NoError(t, err)
		require.Len(t, vm.Daily, 7)
		assert.InDelta(t, 24, vm.Daily[0].Kwh, 1e-9)
	})

	t.Run("PeriodsAnchorToMostRecentDay", func(t *testing.T) {
		cache := NewMemoryCache()
		require.NoError(t, cache.Set(ctx, dailyPayload("pdl", day(2024, 1, 12), day(2025, 1, 10), "10000")))

		vm, err := Recompute(ctx, cache, "pdl", cfg)
		require.NoError(t, err)

		require.NotEmpty(t, vm.Yearly)
		p := vm.Yearly[0].Period
		// the span crosses 2024-02-29, so the 365-day window starts on
		// Jan 12 rather than Jan 11
		assert.Equal(t, day(2024, 1, 12), p.Start)
		assert.Equal(t, day(2025, 1, 10), p.End)
	})

	t.Run("CountsDropped", func(t *testing.T) {
		p := curvePayload("pdl", day(2025, 6, 1), day(2025, 6, 1), "1000")
		p.Readings[0].Value = "NaN"
		cache := NewMemoryCache()
		require.NoError(t, cache.Set(ctx, p))

		vm, err := Recompute(ctx, cache, "pdl", cfg)
		require.NoError(t, err)
		assert.Equal(t, 1, vm.DroppedReadings)
	})
}
