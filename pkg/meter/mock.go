package meter

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/loadcurve/loadcurve/pkg/types"
)

// Mock is a deterministic synthetic provider for development and tests. The
// curve for a given usage point and date never changes, so repeated syncs
// are stable and the aggregation output is reproducible.
type Mock struct{}

func newMock() *Mock {
	return &Mock{}
}

// Info implements Provider.
func (m *Mock) Info() types.MeterProviderInfo {
	return types.MeterProviderInfo{
		ID:     "mock",
		Name:   "Synthetic data",
		Hidden: true,
	}
}

// seed derives a stable per-usage-point offset so different PDLs get
// different but repeatable curves.
func (m *Mock) seed(usagePointID string) float64 {
	h := fnv.New32a()
	h.Write([]byte(usagePointID))
	return float64(h.Sum32()%1000) / 1000
}

// watts returns the synthetic average power for one half-hour slot. Shape:
// a base load, a morning and evening peak, and a night block mimicking an
// off-peak water heater.
func (m *Mock) watts(seed float64, day time.Time, slot int) float64 {
	hour := float64(slot) / 2

	w := 200 + 100*seed
	// morning and evening peaks
	w += 900 * math.Exp(-math.Pow(hour-8, 2)/4)
	w += 1500 * math.Exp(-math.Pow(hour-19.5, 2)/6)
	// water heater on the off-peak window
	if hour >= 22.5 || hour < 6 {
		w += 1200
	}
	// mild weekly cycle
	w *= 1 + 0.1*math.Sin(2*math.Pi*float64(day.Weekday())/7)
	return math.Round(w)
}

// GetLoadCurve implements Provider. Credentials are ignored.
func (m *Mock) GetLoadCurve(ctx context.Context, usagePointID string, _ types.Credentials, start, end time.Time) (types.ReadingPayload, error) {
	seed := m.seed(usagePointID)
	p := types.ReadingPayload{
		UsagePointID:   usagePointID,
		Kind:           types.PayloadKindLoadCurve,
		RangeStart:     start,
		RangeEnd:       end,
		Unit:           "W",
		IntervalLength: "P30M",
	}
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for slot := 0; slot < 48; slot++ {
			// interval end timestamps; the last slot of a day lands on
			// 00:00 of the next day, matching the upstream convention
			ts := day.Add(time.Duration(slot+1) * 30 * time.Minute)
			p.Readings = append(p.Readings, types.Reading{
				Value: fmt.Sprintf("%.0f", m.watts(seed, day, slot)),
				Date:  ts.Format("2006-01-02 15:04:05"),
			})
		}
	}
	return p, nil
}

// GetDailyConsumption implements Provider. Credentials are ignored.
func (m *Mock) GetDailyConsumption(ctx context.Context, usagePointID string, _ types.Credentials, start, end time.Time) (types.ReadingPayload, error) {
	seed := m.seed(usagePointID)
	p := types.ReadingPayload{
		UsagePointID:   usagePointID,
		Kind:           types.PayloadKindDaily,
		RangeStart:     start,
		RangeEnd:       end,
		Unit:           "Wh",
		IntervalLength: "P1D",
	}
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		var wh float64
		for slot := 0; slot < 48; slot++ {
			wh += m.watts(seed, day, slot) * 0.5
		}
		p.Readings = append(p.Readings, types.Reading{
			Value: fmt.Sprintf("%.0f", wh),
			Date:  day.Format("2006-01-02"),
		})
	}
	return p, nil
}
