package aggregate

import (
	"sort"
	"time"

	"github.com/loadcurve/loadcurve/pkg/types"
)

// MonthsPerPeriod is how many distinct months a rolling period must carry
// before its month-level HC/HP breakdown is surfaced. Partial years would
// make the year-over-year comparison misleading, so they are suppressed.
const MonthsPerPeriod = 12

// offpeak reports whether the reading's start time-of-day falls in any of
// the configured windows.
func offpeak(r types.NormalizedReading, ranges []types.OffpeakRange) bool {
	for _, w := range ranges {
		if w.Contains(r.StartTime) {
			return true
		}
	}
	return false
}

// Classify splits the sub-daily readings into off-peak (HC) and peak (HP)
// energy, accumulated per rolling period and per (period, month-of-year).
//
// A reading is attributed whole to one side based on its start time; a
// reading straddling a window boundary is not split. The resulting totals
// are therefore advisory, accurate to about one interval per boundary
// crossing; the authoritative totals remain PeriodTotals.
//
// Daily readings are not classified: they carry no usable time-of-day.
func Classify(ds Dataset, ranges []types.OffpeakRange, periods []types.RollingPeriod) ([]types.OffpeakPeriodSplit, []types.OffpeakMonthSplit) {
	type monthKey struct {
		period int
		month  time.Month
	}
	periodBuckets := make(map[int]*types.AggregateBucket)
	monthBuckets := make(map[monthKey]*types.AggregateBucket)
	// distinct dated months seen per period, for the 12-month gate
	periodMonths := make(map[int]map[time.Time]struct{})

	for _, r := range ds.SubDaily {
		day := r.Day()
		idx := -1
		for i, p := range periods {
			if p.Contains(day) {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}

		pb, ok := periodBuckets[idx]
		if !ok {
			pb = &types.AggregateBucket{Key: periods[idx].Label()}
			periodBuckets[idx] = pb
		}
		mk := monthKey{period: idx, month: day.Month()}
		mb, ok := monthBuckets[mk]
		if !ok {
			mb = &types.AggregateBucket{Key: periods[idx].Label() + "|" + mk.month.String()}
			monthBuckets[mk] = mb
		}

		kwh := r.EnergyWh / 1000
		if offpeak(r, ranges) {
			pb.HcKwh += kwh
			mb.HcKwh += kwh
		} else {
			pb.HpKwh += kwh
			mb.HpKwh += kwh
		}
		pb.TotalKwh += kwh
		mb.TotalKwh += kwh

		months, ok := periodMonths[idx]
		if !ok {
			months = make(map[time.Time]struct{})
			periodMonths[idx] = months
		}
		months[time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)] = struct{}{}
	}

	var periodSplits []types.OffpeakPeriodSplit
	for i, p := range periods {
		pb, ok := periodBuckets[i]
		if !ok {
			continue
		}
		periodSplits = append(periodSplits, types.OffpeakPeriodSplit{
			Period:          p,
			AggregateBucket: *pb,
		})
	}

	var monthSplits []types.OffpeakMonthSplit
	for mk, mb := range monthBuckets {
		// suppress periods without a full year of months
		if len(distinctMonthLabels(periodMonths[mk.period])) < MonthsPerPeriod {
			continue
		}
		monthSplits = append(monthSplits, types.OffpeakMonthSplit{
			Period:          periods[mk.period],
			Month:           mk.month,
			AggregateBucket: *mb,
		})
	}
	sort.Slice(monthSplits, func(i, j int) bool {
		if !monthSplits[i].Period.End.Equal(monthSplits[j].Period.End) {
			return monthSplits[i].Period.End.After(monthSplits[j].Period.End)
		}
		return monthSplits[i].Month < monthSplits[j].Month
	})

	return periodSplits, monthSplits
}

// distinctMonthLabels collapses dated months onto month-of-year labels. A
// 365-day window can touch the same label twice (e.g. a partial January on
// both ends); it still counts once.
func distinctMonthLabels(dated map[time.Time]struct{}) map[time.Month]struct{} {
	labels := make(map[time.Month]struct{}, len(dated))
	for m := range dated {
		labels[m.Month()] = struct{}{}
	}
	return labels
}
