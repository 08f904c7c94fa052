package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    IntervalSpec
		wantErr bool
	}{
		{in: "P30M", want: IntervalSpec{N: 30, Unit: IntervalUnitMinute}},
		{in: "PT30M", want: IntervalSpec{N: 30, Unit: IntervalUnitMinute}},
		{in: "P1H", want: IntervalSpec{N: 1, Unit: IntervalUnitHour}},
		{in: "P1D", want: IntervalSpec{N: 1, Unit: IntervalUnitDay}},
		{in: "p15m", want: IntervalSpec{N: 15, Unit: IntervalUnitMinute}},
		{in: "", wantErr: true},
		{in: "30M", wantErr: true},
		{in: "P0M", wantErr: true},
		{in: "P-1H", wantErr: true},
		{in: "P30X", wantErr: true},
		{in: "PH", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIntervalSpec(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntervalSpecDurations(t *testing.T) {
	halfHour := IntervalSpec{N: 30, Unit: IntervalUnitMinute}
	assert.Equal(t, 0.5, halfHour.DurationHours())
	assert.Equal(t, 30*time.Minute, halfHour.Duration())
	assert.True(t, halfHour.SubDaily())

	hour := IntervalSpec{N: 1, Unit: IntervalUnitHour}
	assert.Equal(t, 1.0, hour.DurationHours())
	assert.Equal(t, time.Hour, hour.Duration())

	// daily readings are already totals: multiplier 1, window a full day
	day := IntervalSpec{N: 1, Unit: IntervalUnitDay}
	assert.Equal(t, 1.0, day.DurationHours())
	assert.Equal(t, 24*time.Hour, day.Duration())
	assert.False(t, day.SubDaily())
}

func TestParseReadingTime(t *testing.T) {
	t.Run("date-time", func(t *testing.T) {
		got, err := ParseReadingTime("2025-06-01 00:30:00")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 1, 0, 30, 0, 0, time.UTC), got)
	})

	t.Run("bare date", func(t *testing.T) {
		got, err := ParseReadingTime("2025-06-01")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("T separator", func(t *testing.T) {
		got, err := ParseReadingTime("2025-06-01T10:00:00")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), got)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseReadingTime("juin 2025")
		require.Error(t, err)
	})
}
