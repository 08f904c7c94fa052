package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/loadcurve/loadcurve/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nightWindow is the classic 22:00-06:00 tariff, wrapping midnight.
var nightWindow = []types.OffpeakRange{{StartHour: 22, EndHour: 6}}

func readingAt(ts time.Time, wh float64) types.NormalizedReading {
	return types.NormalizedReading{StartTime: ts, DurationHours: 0.5, EnergyWh: wh}
}

func TestOffpeakWindowWrap(t *testing.T) {
	cases := []struct {
		hour, minute int
		offpeak      bool
	}{
		{23, 0, true},
		{5, 0, true},
		{12, 0, false},
		{22, 0, true},  // start boundary inside
		{6, 0, false},  // end boundary outside
		{21, 30, false},
	}
	for _, c := range cases {
		r := readingAt(time.Date(2025, 6, 1, c.hour, c.minute, 0, 0, time.UTC), 500)
		assert.Equal(t, c.offpeak, offpeak(r, nightWindow), "%02d:%02d", c.hour, c.minute)
	}
}

func TestClassify(t *testing.T) {
	ctx := context.Background()

	t.Run("SplitSumsToTotal", func(t *testing.T) {
		var ds Dataset
		ds.AppendPayload(ctx, curvePayload("pdl", day(2025, 6, 1), day(2025, 6, 7), "1000"))

		periods := RollingPeriodsEnding(day(2025, 6, 7), MaxRollingPeriods)
		splits, _ := Classify(ds, nightWindow, periods)
		require.Len(t, splits, 1)

		s := splits[0]
		assert.InDelta(t, s.TotalKwh, s.HcKwh+s.HpKwh, 1e-9)
		// 16 of 48 half-hour starts per day fall in 22:00-06:00
		assert.InDelta(t, s.TotalKwh/3, s.HcKwh, 1e-9)
	})

	t.Run("NoWindowsMeansAllPeak", func(t *testing.T) {
		var ds Dataset
		ds.AppendPayload(ctx, curvePayload("pdl", day(2025, 6, 1), day(2025, 6, 1), "1000"))

		periods := RollingPeriodsEnding(day(2025, 6, 1), MaxRollingPeriods)
		splits, _ := Classify(ds, nil, periods)
		require.Len(t, splits, 1)
		assert.Zero(t, splits[0].HcKwh)
		assert.InDelta(t, splits[0].TotalKwh, splits[0].HpKwh, 1e-9)
	})

	t.Run("DailyReadingsIgnored", func(t *testing.T) {
		var ds Dataset
		ds.AppendPayload(ctx, dailyPayload("pdl", day(2025, 6, 1), day(2025, 6, 7), "24000"))

		periods := RollingPeriodsEnding(day(2025, 6, 7), MaxRollingPeriods)
		splits, months := Classify(ds, nightWindow, periods)
		assert.Empty(t, splits)
		assert.Empty(t, months)
	})

	t.Run("PartialYearSuppressedFromMonths", func(t *testing.T) {
		// 11 months of data: the period split exists, the month split does not
		var ds Dataset
		ds.AppendPayload(ctx, curvePayload("pdl", day(2024, 8, 15), day(2025, 6, 10), "1000"))

		periods := RollingPeriodsEnding(day(2025, 6, 10), MaxRollingPeriods)
		splits, months := Classify(ds, nightWindow, periods)
		require.Len(t, splits, 1)
		assert.Empty(t, months)
	})

	t.Run("FullYearGetsTwelveMonths", func(t *testing.T) {
		var ds Dataset
		ds.AppendPayload(ctx, curvePayload("pdl", day(2024, 6, 12), day(2025, 6, 10), "1000"))

		periods := RollingPeriodsEnding(day(2025, 6, 10), MaxRollingPeriods)
		_, months := Classify(ds, nightWindow, periods)
		require.Len(t, months, 12)

		seen := make(map[time.Month]bool)
		for _, m := range months {
			seen[m.Month] = true
			assert.InDelta(t, m.TotalKwh, m.HcKwh+m.HpKwh, 1e-9)
		}
		assert.Len(t, seen, 12)
	})
}
