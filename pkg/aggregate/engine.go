package aggregate

import (
	"context"

	"github.com/loadcurve/loadcurve/pkg/types"
)

// Config holds the inputs of a recompute besides the cached readings. Any
// change to these or to the cache contents calls for a fresh Recompute;
// there is no incremental path.
type Config struct {
	// OffpeakRanges are the configured off-peak windows. Empty means every
	// reading is peak.
	OffpeakRanges []types.OffpeakRange
	// MinReadingsPerDay is the day completeness threshold; <= 0 uses
	// types.DefaultMinReadingsPerDay.
	MinReadingsPerDay int
}

// ViewModel is the derived output consumed by the API handlers. It is
// recomputed from scratch on every call and never mutated afterwards.
type ViewModel struct {
	Daily          []types.DayTotal          `json:"daily"`
	Monthly        []types.MonthTotal        `json:"monthly"`
	Yearly         []types.PeriodTotal       `json:"yearly"`
	OffpeakPeriods []types.OffpeakPeriodSplit `json:"offpeakPeriods"`
	OffpeakMonths  []types.OffpeakMonthSplit  `json:"offpeakMonths"`
	// DroppedReadings counts readings discarded during normalization.
	DroppedReadings int `json:"droppedReadings"`
}

// Recompute runs the full fold over the cached readings of one usage point:
// normalize, bucket, classify. It is idempotent and order-independent over
// the cached set; running it twice over an unchanged cache yields identical
// output.
func Recompute(ctx context.Context, cache Cache, usagePointID string, cfg Config) (ViewModel, error) {
	payloads, err := cache.Snapshot(ctx, usagePointID)
	if err != nil {
		return ViewModel{}, err
	}
	return RecomputePayloads(ctx, payloads, cfg), nil
}

// RecomputePayloads is Recompute over an explicit payload snapshot.
func RecomputePayloads(ctx context.Context, payloads []types.ReadingPayload, cfg Config) ViewModel {
	var ds Dataset
	for _, p := range payloads {
		ds.AppendPayload(ctx, p)
	}

	vm := ViewModel{DroppedReadings: ds.Dropped}
	latest, ok := MostRecentDay(ds)
	if !ok {
		return vm
	}

	periods := RollingPeriodsEnding(latest, MaxRollingPeriods)
	vm.Daily = DailyTotals(ds, cfg.MinReadingsPerDay)
	vm.Monthly = MonthlyTotals(ds)
	vm.Yearly = PeriodTotals(ds, periods)
	vm.OffpeakPeriods, vm.OffpeakMonths = Classify(ds, cfg.OffpeakRanges, periods)
	return vm
}
