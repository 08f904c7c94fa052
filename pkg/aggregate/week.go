package aggregate

import (
	"sort"
	"time"

	"github.com/loadcurve/loadcurve/pkg/types"
)

// WeekDetail is the sub-daily view of one 7-day window: the interval
// readings themselves plus a total per day. Days without data are absent.
type WeekDetail struct {
	Start  time.Time                 `json:"start"`
	End    time.Time                 `json:"end"`
	Points []types.NormalizedReading `json:"points"`
	Days   []types.DayTotal          `json:"days"`
}

// Week folds the dataset into the detail view for the window [start, end]
// (inclusive civil days). Only sub-daily readings are shown as points; day
// totals follow the same daily-over-sub-daily preference as DailyTotals but
// without the completeness threshold, since a partial edge day is expected
// in a detail view.
func Week(ds Dataset, start, end time.Time) WeekDetail {
	wd := WeekDetail{Start: start, End: end}
	window := types.RollingPeriod{Start: start, End: end}

	for _, r := range ds.SubDaily {
		if window.Contains(r.Day()) {
			wd.Points = append(wd.Points, r)
		}
	}
	sort.Slice(wd.Points, func(i, j int) bool {
		return wd.Points[i].StartTime.Before(wd.Points[j].StartTime)
	})

	for _, a := range foldDays(ds) {
		if !window.Contains(a.date) {
			continue
		}
		count := a.subCount
		if a.hasDaily {
			count = 1
		}
		wd.Days = append(wd.Days, types.DayTotal{
			Date:         a.date,
			Kwh:          a.wh() / 1000,
			ReadingCount: count,
		})
	}
	return wd
}
