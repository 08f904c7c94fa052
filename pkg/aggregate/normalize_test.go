package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/loadcurve/loadcurve/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// curvePayload builds a half-hour load-curve payload with a constant power
// for every slot of every day in [start, end].
func curvePayload(usagePointID string, start, end time.Time, watts string) types.ReadingPayload {
	p := types.ReadingPayload{
		UsagePointID:   usagePointID,
		Kind:           types.PayloadKindLoadCurve,
		RangeStart:     start,
		RangeEnd:       end,
		Unit:           "W",
		IntervalLength: "P30M",
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		for slot := 0; slot < 48; slot++ {
			ts := d.Add(time.Duration(slot+1) * 30 * time.Minute)
			p.Readings = append(p.Readings, types.Reading{
				Value: watts,
				Date:  ts.Format("2006-01-02 15:04:05"),
			})
		}
	}
	return p
}

func dailyPayload(usagePointID string, start, end time.Time, wh string) types.ReadingPayload {
	p := types.ReadingPayload{
		UsagePointID:   usagePointID,
		Kind:           types.PayloadKindDaily,
		RangeStart:     start,
		RangeEnd:       end,
		Unit:           "Wh",
		IntervalLength: "P1D",
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		p.Readings = append(p.Readings, types.Reading{
			Value: wh,
			Date:  d.Format("2006-01-02"),
		})
	}
	return p
}

func TestNormalize(t *testing.T) {
	halfHour := types.IntervalSpec{N: 30, Unit: types.IntervalUnitMinute}

	t.Run("ShiftsEndToStart", func(t *testing.T) {
		n, err := Normalize(types.Reading{Value: "1000", Date: "2025-06-01 08:30:00"}, halfHour, "W")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), n.StartTime)
	})

	t.Run("MidnightBelongsToPreviousDay", func(t *testing.T) {
		n, err := Normalize(types.Reading{Value: "1000", Date: "2025-06-02 00:00:00"}, halfHour, "W")
		require.NoError(t, err)
		assert.Equal(t, day(2025, 6, 1), n.Day())
	})

	t.Run("WattsToWattHours", func(t *testing.T) {
		n, err := Normalize(types.Reading{Value: "1000", Date: "2025-06-01 08:30:00"}, halfHour, "W")
		require.NoError(t, err)
		assert.InDelta(t, 500, n.EnergyWh, 1e-9)
	})

	t.Run("WattHoursPassThrough", func(t *testing.T) {
		n, err := Normalize(types.Reading{Value: "12345", Date: "2025-06-01"}, types.IntervalSpec{N: 1, Unit: types.IntervalUnitDay}, "Wh")
		require.NoError(t, err)
		assert.InDelta(t, 12345, n.EnergyWh, 1e-9)
		assert.Equal(t, day(2025, 6, 1), n.Day())
	})

	t.Run("BadTimestamp", func(t *testing.T) {
		_, err := Normalize(types.Reading{Value: "1", Date: "soon"}, halfHour, "W")
		assert.Error(t, err)
	})

	t.Run("BadValue", func(t *testing.T) {
		_, err := Normalize(types.Reading{Value: "1,5", Date: "2025-06-01 08:30:00"}, halfHour, "W")
		assert.Error(t, err)
	})
}

func TestAppendPayload(t *testing.T) {
	ctx := context.Background()

	t.Run("EnergyMatchesPowerSum", func(t *testing.T) {
		var ds Dataset
		ds.AppendPayload(ctx, curvePayload("pdl", day(2025, 6, 1), day(2025, 6, 2), "1000"))

		require.Len(t, ds.SubDaily, 96)
		var wh float64
		for _, r := range ds.SubDaily {
			wh += r.EnergyWh
		}
		// each W reading contributes value * 0.5 Wh
		assert.InDelta(t, 96*1000*0.5, wh, 1e-6)
	})

	t.Run("DropsMalformed", func(t *testing.T) {
		p := curvePayload("pdl", day(2025, 6, 1), day(2025, 6, 1), "1000")
		p.Readings[3].Value = "n/a"
		p.Readings[7].Date = "yesterday-ish"

		var ds Dataset
		ds.AppendPayload(ctx, p)

		assert.Len(t, ds.SubDaily, 46)
		assert.Equal(t, 2, ds.Dropped)
	})

	t.Run("UnparseableIntervalFallsBack", func(t *testing.T) {
		p := curvePayload("pdl", day(2025, 6, 1), day(2025, 6, 1), "1000")
		p.IntervalLength = "half an hour"

		var ds Dataset
		ds.AppendPayload(ctx, p)

		require.Len(t, ds.SubDaily, 48)
		assert.InDelta(t, 500, ds.SubDaily[0].EnergyWh, 1e-9)
	})

	t.Run("DailyGoesToDaily", func(t *testing.T) {
		var ds Dataset
		ds.AppendPayload(ctx, dailyPayload("pdl", day(2025, 6, 1), day(2025, 6, 3), "24000"))

		assert.Empty(t, ds.SubDaily)
		assert.Len(t, ds.Daily, 3)
	})
}
