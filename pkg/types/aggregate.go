package types

import (
	"time"
)

// NormalizedReading is a Reading converted to canonical energy. StartTime is
// the beginning of the measurement window (the upstream end-of-interval
// timestamp shifted back), DurationHours the W-to-Wh multiplier that was
// applied, EnergyWh the canonical value.
type NormalizedReading struct {
	StartTime     time.Time `json:"startTime"`
	DurationHours float64   `json:"durationHours"`
	EnergyWh      float64   `json:"energyWh"`
}

// Day returns the civil day the reading belongs to.
func (n NormalizedReading) Day() time.Time {
	return n.StartTime.Truncate(24 * time.Hour)
}

// RollingPeriod is a 365-day window of civil days, bounds inclusive. Rolling
// windows are used instead of calendar years because upstream retention is
// bounded at 1095 days.
type RollingPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether the civil day d falls inside the period.
func (p RollingPeriod) Contains(d time.Time) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

// Label is the stable bucket key for the period.
func (p RollingPeriod) Label() string {
	return p.Start.Format("2006-01-02") + " - " + p.End.Format("2006-01-02")
}

// AggregateBucket accumulates classified energy under one key, either a
// rolling-period label or a (period, month) pair. Buckets are built during a
// fold and never mutated afterwards.
type AggregateBucket struct {
	Key      string  `json:"key"`
	HcKwh    float64 `json:"hcKwh"`
	HpKwh    float64 `json:"hpKwh"`
	TotalKwh float64 `json:"totalKwh"`
}

// DayTotal is the consumption of one complete civil day.
type DayTotal struct {
	Date time.Time `json:"date"`
	Kwh  float64   `json:"kwh"`
	// ReadingCount is the number of sub-daily readings the day was assembled
	// from, or 1 for a day carried by a daily-total reading.
	ReadingCount int `json:"readingCount"`
}

// MonthTotal is the consumption of one calendar month.
type MonthTotal struct {
	// Month is the first day of the month.
	Month time.Time `json:"month"`
	Kwh   float64   `json:"kwh"`
}

// PeriodTotal is the consumption of one rolling 365-day period.
type PeriodTotal struct {
	Period RollingPeriod `json:"period"`
	Kwh    float64       `json:"kwh"`
}

// OffpeakPeriodSplit is the off-peak/peak breakdown of one rolling period.
type OffpeakPeriodSplit struct {
	Period RollingPeriod `json:"period"`
	AggregateBucket
}

// OffpeakMonthSplit is the off-peak/peak breakdown of one month-of-year
// within a rolling period. Months are labels (January..December) rather than
// dated months so that periods straddling a year boundary still fold into 12
// buckets. Only periods with all 12 months represented are surfaced.
type OffpeakMonthSplit struct {
	Period RollingPeriod `json:"period"`
	Month  time.Month    `json:"month"`
	AggregateBucket
}
