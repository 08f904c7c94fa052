package aggregate

import (
	"sort"
	"time"

	"github.com/loadcurve/loadcurve/pkg/types"
)

// MaxRollingPeriods bounds the yearly view. Upstream retention is bounded at
// 1095 days (3 x 365), so more periods can never be filled.
const MaxRollingPeriods = 3

// RollingPeriodDays is the length of one rolling period in civil days.
const RollingPeriodDays = 365

// RollingPeriodsEnding builds up to n rolling periods, most recent first,
// ending at the given civil day. Successive periods are contiguous and
// non-overlapping: each earlier period ends the day before the later one
// starts, and every period spans exactly RollingPeriodDays civil days.
func RollingPeriodsEnding(mostRecent time.Time, n int) []types.RollingPeriod {
	end := mostRecent.Truncate(24 * time.Hour)
	periods := make([]types.RollingPeriod, 0, n)
	for i := 0; i < n; i++ {
		start := end.AddDate(0, 0, -(RollingPeriodDays - 1))
		periods = append(periods, types.RollingPeriod{Start: start, End: end})
		end = start.AddDate(0, 0, -1)
	}
	return periods
}

// WeekWindow returns the 7-day window offset weeks back from the most recent
// complete week. Weeks end yesterday because the upstream never has data for
// today; the end is clipped so it can never pass yesterday.
func WeekWindow(today time.Time, offset int) (start, end time.Time) {
	yesterday := today.Truncate(24 * time.Hour).AddDate(0, 0, -1)
	end = yesterday.AddDate(0, 0, -7*offset)
	if end.After(yesterday) {
		end = yesterday
	}
	start = end.AddDate(0, 0, -6)
	return start, end
}

// dayAccum is the merged per-day fold shared by the calendar buckets. When a
// day has a daily-total reading, that total wins and any sub-daily readings
// for the same day are ignored, so mixed caches never double count.
type dayAccum struct {
	date     time.Time
	dailyWh  float64
	subWh    float64
	subCount int
	hasDaily bool
}

func (a *dayAccum) wh() float64 {
	if a.hasDaily {
		return a.dailyWh
	}
	return a.subWh
}

// foldDays merges the dataset into per-day accumulators ordered by date.
func foldDays(ds Dataset) []*dayAccum {
	days := make(map[time.Time]*dayAccum)
	get := func(d time.Time) *dayAccum {
		a, ok := days[d]
		if !ok {
			a = &dayAccum{date: d}
			days[d] = a
		}
		return a
	}

	for _, r := range ds.SubDaily {
		a := get(r.Day())
		a.subWh += r.EnergyWh
		a.subCount++
	}
	for _, r := range ds.Daily {
		a := get(r.Day())
		a.dailyWh += r.EnergyWh
		a.hasDaily = true
	}

	out := make([]*dayAccum, 0, len(days))
	for _, a := range days {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].date.Before(out[j].date) })
	return out
}

// complete reports whether the day should appear in day-level views. Days
// carried by a daily-total reading are complete as-is; days assembled from
// sub-daily readings need at least minReadings of them so a partial day is
// never shown as a whole one.
func (a *dayAccum) complete(minReadings int) bool {
	if a.hasDaily {
		return true
	}
	return a.subCount >= minReadings
}

// DailyTotals folds the dataset into complete civil days, ordered by date.
// Incomplete days are absent from the result, never zero-filled.
func DailyTotals(ds Dataset, minReadings int) []types.DayTotal {
	if minReadings <= 0 {
		minReadings = types.DefaultMinReadingsPerDay
	}
	var out []types.DayTotal
	for _, a := range foldDays(ds) {
		if !a.complete(minReadings) {
			continue
		}
		count := a.subCount
		if a.hasDaily {
			count = 1
		}
		out = append(out, types.DayTotal{
			Date:         a.date,
			Kwh:          a.wh() / 1000,
			ReadingCount: count,
		})
	}
	return out
}

// MonthlyTotals folds the dataset into calendar months, ordered by month.
// Months take every reading regardless of day completeness.
func MonthlyTotals(ds Dataset) []types.MonthTotal {
	months := make(map[time.Time]float64)
	for _, a := range foldDays(ds) {
		m := time.Date(a.date.Year(), a.date.Month(), 1, 0, 0, 0, 0, time.UTC)
		months[m] += a.wh()
	}

	out := make([]types.MonthTotal, 0, len(months))
	for m, wh := range months {
		out = append(out, types.MonthTotal{Month: m, Kwh: wh / 1000})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out
}

// PeriodTotals folds the dataset into the given rolling periods, keeping the
// period order. A day belongs to at most one period; periods with no data
// are absent from the result.
func PeriodTotals(ds Dataset, periods []types.RollingPeriod) []types.PeriodTotal {
	sums := make([]float64, len(periods))
	counts := make([]int, len(periods))
	for _, a := range foldDays(ds) {
		for i, p := range periods {
			if p.Contains(a.date) {
				sums[i] += a.wh()
				counts[i]++
				break
			}
		}
	}

	var out []types.PeriodTotal
	for i, p := range periods {
		if counts[i] == 0 {
			continue
		}
		out = append(out, types.PeriodTotal{Period: p, Kwh: sums[i] / 1000})
	}
	return out
}

// MostRecentDay returns the latest civil day present in the dataset and
// whether the dataset had any readings at all.
func MostRecentDay(ds Dataset) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, r := range ds.SubDaily {
		if d := r.Day(); !found || d.After(latest) {
			latest = d
			found = true
		}
	}
	for _, r := range ds.Daily {
		if d := r.Day(); !found || d.After(latest) {
			latest = d
			found = true
		}
	}
	return latest, found
}
