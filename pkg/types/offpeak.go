package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OffpeakRange is one off-peak (heures creuses) time-of-day window. A range
// whose end is at or before its start wraps past midnight, e.g. 22:00-06:00.
type OffpeakRange struct {
	StartHour   int `json:"startHour"`
	StartMinute int `json:"startMinute"`
	EndHour     int `json:"endHour"`
	EndMinute   int `json:"endMinute"`
}

// Contains reports whether the time-of-day of t falls inside the range.
// Boundaries are half-open: the start minute is inside, the end minute is
// not. A range with identical start and end is empty.
func (r OffpeakRange) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	start := r.StartHour*60 + r.StartMinute
	end := r.EndHour*60 + r.EndMinute
	if start == end {
		return false
	}
	if start < end {
		return m >= start && m < end
	}
	// wraps midnight
	return m >= start || m < end
}

func (r OffpeakRange) validate() error {
	if r.StartHour < 0 || r.StartHour > 23 || r.EndHour < 0 || r.EndHour > 23 {
		return fmt.Errorf("hour out of range in %s", r)
	}
	if r.StartMinute < 0 || r.StartMinute > 59 || r.EndMinute < 0 || r.EndMinute > 59 {
		return fmt.Errorf("minute out of range in %s", r)
	}
	return nil
}

func (r OffpeakRange) String() string {
	return fmt.Sprintf("%dH%02d-%dH%02d", r.StartHour, r.StartMinute, r.EndHour, r.EndMinute)
}

// offpeakChunkRe matches one window in the distributor's notation, e.g.
// "HC (22H30-6H30)" or a bare "2H00-8H00".
var offpeakChunkRe = regexp.MustCompile(`(\d{1,2})\s*[Hh]\s*(\d{0,2})\s*-\s*(\d{1,2})\s*[Hh]\s*(\d{0,2})`)

// ParseOffpeakHours parses the distributor's off-peak notation, a
// semicolon-separated list of windows such as "HC (22H30-6H30);HC (12H00-14H00)".
// Windows that fail to parse are skipped and reported in the returned error;
// the successfully parsed windows are returned either way so callers can be
// strict (reject on any error) or lenient (log and keep going).
func ParseOffpeakHours(s string) ([]OffpeakRange, error) {
	var ranges []OffpeakRange
	var errs []error
	for _, chunk := range strings.Split(s, ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		m := offpeakChunkRe.FindStringSubmatch(chunk)
		if m == nil {
			errs = append(errs, fmt.Errorf("unrecognized off-peak window: %q", chunk))
			continue
		}
		r := OffpeakRange{
			StartHour:   atoiDefault(m[1], 0),
			StartMinute: atoiDefault(m[2], 0),
			EndHour:     atoiDefault(m[3], 0),
			EndMinute:   atoiDefault(m[4], 0),
		}
		if err := r.validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		ranges = append(ranges, r)
	}
	return ranges, errors.Join(errs...)
}

// FormatOffpeakHours renders ranges back into the canonical notation.
func FormatOffpeakHours(ranges []OffpeakRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = fmt.Sprintf("HC (%s)", r)
	}
	return strings.Join(parts, ";")
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
