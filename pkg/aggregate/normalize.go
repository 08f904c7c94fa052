// Package aggregate folds cached interval readings into the dashboard view
// models: daily, monthly and rolling-period totals plus off-peak/peak
// (HC/HP) splits. Everything in here is a pure fold over a snapshot of the
// reading cache; nothing performs I/O.
package aggregate

import (
	"context"
	"log/slog"
	"math"
	"strconv"

	"github.com/loadcurve/loadcurve/pkg/log"
	"github.com/loadcurve/loadcurve/pkg/types"
)

// DefaultIntervalSpec is assumed when a payload's interval length cannot be
// parsed. Half-hour is the dominant load-curve granularity; the fallback is
// logged so a provider format change does not silently skew totals.
var DefaultIntervalSpec = types.IntervalSpec{N: 30, Unit: types.IntervalUnitMinute}

// Dataset is the engine's working set, split by granularity. Daily readings
// carry no usable time-of-day, so the classifier only sees SubDaily.
type Dataset struct {
	Daily    []types.NormalizedReading
	SubDaily []types.NormalizedReading
	// Dropped counts readings discarded during normalization.
	Dropped int
}

// Empty reports whether the dataset has no usable readings.
func (d *Dataset) Empty() bool {
	return len(d.Daily) == 0 && len(d.SubDaily) == 0
}

// intervalSpecFor parses the payload's interval length, falling back to
// DefaultIntervalSpec with a warning.
func intervalSpecFor(ctx context.Context, p types.ReadingPayload) types.IntervalSpec {
	spec, err := types.ParseIntervalSpec(p.IntervalLength)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "unparseable interval length, assuming default",
			slog.String("intervalLength", p.IntervalLength),
			slog.String("usagePointID", p.UsagePointID),
			slog.String("default", DefaultIntervalSpec.String()),
		)
		return DefaultIntervalSpec
	}
	return spec
}

// Normalize converts one reading into canonical energy. It is pure; callers
// drop readings that fail.
//
// The upstream timestamp marks the end of the measurement window, so
// sub-daily readings are shifted back by one interval. That shift is what
// moves a 00:00 reading onto the previous civil day. Daily readings are
// already keyed by their day and are left alone.
func Normalize(r types.Reading, spec types.IntervalSpec, unit string) (types.NormalizedReading, error) {
	ts, err := types.ParseReadingTime(r.Date)
	if err != nil {
		return types.NormalizedReading{}, err
	}

	v, err := strconv.ParseFloat(r.Value, 64)
	if err != nil {
		return types.NormalizedReading{}, err
	}

	n := types.NormalizedReading{
		StartTime:     ts,
		DurationHours: spec.DurationHours(),
	}
	if spec.SubDaily() {
		n.StartTime = ts.Add(-spec.Duration())
	}

	switch unit {
	case "W", "w":
		n.EnergyWh = v * n.DurationHours
	default:
		// "Wh"/"WH" and anything else pass through unchanged
		n.EnergyWh = v
	}
	return n, nil
}

// AppendPayload normalizes every reading of the payload into the dataset.
// Malformed readings (bad timestamp, non-numeric or non-finite value) are
// dropped and counted; one summary line is logged per payload that had drops.
func (d *Dataset) AppendPayload(ctx context.Context, p types.ReadingPayload) {
	spec := intervalSpecFor(ctx, p)

	dropped := 0
	for _, r := range p.Readings {
		n, err := Normalize(r, spec, p.Unit)
		if err != nil || math.IsNaN(n.EnergyWh) || math.IsInf(n.EnergyWh, 0) {
			dropped++
			continue
		}
		if spec.SubDaily() {
			d.SubDaily = append(d.SubDaily, n)
		} else {
			d.Daily = append(d.Daily, n)
		}
	}

	if dropped > 0 {
		d.Dropped += dropped
		log.Ctx(ctx).WarnContext(ctx, "dropped malformed readings",
			slog.Int("dropped", dropped),
			slog.Int("total", len(p.Readings)),
			slog.String("usagePointID", p.UsagePointID),
			slog.Time("rangeStart", p.RangeStart),
		)
	}
}
