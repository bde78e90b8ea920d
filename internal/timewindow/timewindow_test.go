package timewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := LoadZone("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestLoadZone(t *testing.T) {
	_, err := LoadZone("")
	assert.Error(t, err)
	_, err = LoadZone("Local")
	assert.Error(t, err)
	_, err = LoadZone("Mars/Olympus_Mons")
	assert.Error(t, err)

	loc, err := LoadZone("Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestMidnightInZone_RoundTripAcrossDST(t *testing.T) {
	loc := newYork(t)

	tests := []struct {
		name string
		at   time.Time
	}{
		{"winter", time.Date(2025, time.January, 15, 18, 30, 0, 0, time.UTC)},
		{"spring forward day", time.Date(2025, time.March, 9, 15, 0, 0, 0, time.UTC)},
		{"day after spring forward", time.Date(2025, time.March, 10, 3, 59, 0, 0, time.UTC)},
		{"summer", time.Date(2025, time.July, 4, 2, 0, 0, 0, time.UTC)},
		{"fall back day", time.Date(2025, time.November, 2, 12, 0, 0, 0, time.UTC)},
		{"late evening utc next day", time.Date(2025, time.November, 3, 4, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MidnightInZone(tt.at, loc)
			local := got.In(loc)

			wy, wm, wd := tt.at.In(loc).Date()
			gy, gm, gd := local.Date()
			assert.Equal(t, []int{wy, int(wm), wd}, []int{gy, int(gm), gd})
			assert.Equal(t, 0, local.Hour())
			assert.Equal(t, 0, local.Minute())
			assert.False(t, got.After(tt.at))
			assert.Equal(t, got, MidnightInZone(got, loc), "midnight must be a fixed point")
		})
	}
}

func TestMidnightInZone_UsesSeasonalOffset(t *testing.T) {
	loc := newYork(t)

	winter := MidnightInZone(time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC), loc)
	summer := MidnightInZone(time.Date(2025, time.July, 15, 12, 0, 0, 0, time.UTC), loc)

	assert.Equal(t, time.Date(2025, time.January, 15, 5, 0, 0, 0, time.UTC), winter.UTC())
	assert.Equal(t, time.Date(2025, time.July, 15, 4, 0, 0, 0, time.UTC), summer.UTC())
}

func TestMidnightInZone_SkippedMidnight(t *testing.T) {
	// Santiago moves clocks from 00:00 to 01:00 on the first Sunday of September.
	loc, err := LoadZone("America/Santiago")
	require.NoError(t, err)

	at := time.Date(2024, time.September, 8, 18, 0, 0, 0, time.UTC)
	got := MidnightInZone(at, loc)

	wy, wm, wd := at.In(loc).Date()
	gy, gm, gd := got.In(loc).Date()
	assert.Equal(t, []int{wy, int(wm), wd}, []int{gy, int(gm), gd})
	assert.True(t, SameDay(got, at, loc))
	assert.False(t, SameDay(got.Add(-time.Nanosecond), at, loc))
}

func TestWeekStartInZone(t *testing.T) {
	loc := newYork(t)

	start := time.Date(2025, time.February, 20, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 24*60; i++ {
		d := start.Add(time.Duration(i) * 7 * time.Hour)
		ws := WeekStartInZone(d, loc)

		assert.Equal(t, time.Sunday, ws.In(loc).Weekday(), "at %s", d)
		assert.Equal(t, 0, ws.In(loc).Hour(), "at %s", d)
		assert.False(t, ws.After(d), "at %s", d)
		// A week containing a DST change is 167 or 169 hours long, so compare calendar dates.
		next := WeekStartInZone(ws.AddDate(0, 0, 7).Add(12*time.Hour), loc)
		assert.True(t, d.Before(next), "at %s", d)
	}
}

func TestLastWeekdayMidnight(t *testing.T) {
	loc := newYork(t)
	// Wednesday 2025-10-15 10:00 local.
	at := time.Date(2025, time.October, 15, 10, 0, 0, 0, loc)

	tests := []struct {
		wd   time.Weekday
		want time.Time
	}{
		{time.Wednesday, time.Date(2025, time.October, 15, 0, 0, 0, 0, loc)},
		{time.Monday, time.Date(2025, time.October, 13, 0, 0, 0, 0, loc)},
		{time.Sunday, time.Date(2025, time.October, 12, 0, 0, 0, 0, loc)},
		{time.Thursday, time.Date(2025, time.October, 9, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.wd.String(), func(t *testing.T) {
			assert.True(t, tt.want.Equal(LastWeekdayMidnight(at, loc, tt.wd)))
		})
	}
}

func TestPeriodStart(t *testing.T) {
	loc := newYork(t)
	at := time.Date(2025, time.October, 15, 10, 0, 0, 0, loc)

	daily := PeriodStart(at, loc, false, time.Monday)
	assert.True(t, time.Date(2025, time.October, 15, 0, 0, 0, 0, loc).Equal(daily))

	weekly := PeriodStart(at, loc, true, time.Monday)
	assert.True(t, time.Date(2025, time.October, 13, 0, 0, 0, 0, loc).Equal(weekly))
}
