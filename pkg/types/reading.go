package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reading is a single measured value as returned by the metering provider.
// Value arrives as a decimal string. Date marks the END of the measurement
// interval; a time-of-day of exactly 00:00 denotes the last interval of the
// previous calendar day.
type Reading struct {
	Value string `json:"value"`
	Date  string `json:"date"`
}

// Payload kinds. Load curve is sub-daily interval data, daily is one total
// per civil day. The same date range can be cached under both kinds.
const (
	PayloadKindLoadCurve = "load_curve"
	PayloadKindDaily     = "daily"
)

// ReadingPayload is one cached fetch result: the readings for a contiguous
// date range plus the unit and interval length they share.
type ReadingPayload struct {
	UsagePointID   string    `json:"usagePointID"`
	Kind           string    `json:"kind"`
	RangeStart     time.Time `json:"rangeStart"`
	RangeEnd       time.Time `json:"rangeEnd"`
	Unit           string    `json:"unit"`
	IntervalLength string    `json:"intervalLength"`
	Readings       []Reading `json:"readings"`
}

// Key returns the cache identity of the payload.
func (p ReadingPayload) Key() PayloadKey {
	return PayloadKey{
		UsagePointID: p.UsagePointID,
		Kind:         p.Kind,
		RangeStart:   p.RangeStart,
		RangeEnd:     p.RangeEnd,
	}
}

// PayloadKey identifies one cached fetch result.
type PayloadKey struct {
	UsagePointID string
	Kind         string
	RangeStart   time.Time
	RangeEnd     time.Time
}

// reading timestamps arrive either as a bare date (daily totals) or as a
// space-separated date-time (load curve)
var readingTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseReadingTime parses an upstream reading timestamp. Times carry no zone;
// they are interpreted as UTC so that folds are deterministic regardless of
// the host timezone.
func ParseReadingTime(s string) (time.Time, error) {
	for _, layout := range readingTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized reading timestamp: %q", s)
}

// IntervalUnit is the unit letter of an interval length.
type IntervalUnit byte

const (
	IntervalUnitDay    IntervalUnit = 'D'
	IntervalUnitHour   IntervalUnit = 'H'
	IntervalUnitMinute IntervalUnit = 'M'
)

// IntervalSpec is a parsed interval length such as "P30M" or "P1D".
type IntervalSpec struct {
	N    int
	Unit IntervalUnit
}

// ParseIntervalSpec parses the provider's P{n}{D|H|M} interval notation. The
// optional ISO8601 time designator ("PT30M") is tolerated since some gateways
// emit it.
func ParseIntervalSpec(s string) (IntervalSpec, error) {
	orig := s
	s = strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "P") {
		return IntervalSpec{}, fmt.Errorf("invalid interval length: %q", orig)
	}
	s = strings.TrimPrefix(s, "P")
	s = strings.TrimPrefix(s, "T")
	if len(s) < 2 {
		return IntervalSpec{}, fmt.Errorf("invalid interval length: %q", orig)
	}
	unit := IntervalUnit(s[len(s)-1])
	switch unit {
	case IntervalUnitDay, IntervalUnitHour, IntervalUnitMinute:
	default:
		return IntervalSpec{}, fmt.Errorf("invalid interval unit in %q", orig)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return IntervalSpec{}, fmt.Errorf("invalid interval count in %q", orig)
	}
	return IntervalSpec{N: n, Unit: unit}, nil
}

// DurationHours is the multiplier applied to power (W) values to obtain Wh.
// Daily readings are already totals, so their multiplier is 1 regardless of N.
func (s IntervalSpec) DurationHours() float64 {
	switch s.Unit {
	case IntervalUnitDay:
		return 1
	case IntervalUnitHour:
		return float64(s.N)
	case IntervalUnitMinute:
		return float64(s.N) / 60
	}
	return 1
}

// Duration is the wall-clock length of the measurement window, used to shift
// end-of-interval timestamps back to interval starts.
func (s IntervalSpec) Duration() time.Duration {
	switch s.Unit {
	case IntervalUnitDay:
		return time.Duration(s.N) * 24 * time.Hour
	case IntervalUnitHour:
		return time.Duration(s.N) * time.Hour
	case IntervalUnitMinute:
		return time.Duration(s.N) * time.Minute
	}
	return 0
}

// SubDaily reports whether readings of this interval carry a usable
// time-of-day. Daily totals do not.
func (s IntervalSpec) SubDaily() bool {
	return s.Unit != IntervalUnitDay
}

func (s IntervalSpec) String() string {
	return fmt.Sprintf("P%d%c", s.N, s.Unit)
}
