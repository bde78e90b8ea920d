// Package timewindow computes calendar boundaries (midnight, week start, accounting
// period start) in a fixed IANA zone.
package timewindow

import (
	"fmt"
	"time"
	_ "time/tzdata" // zone database for hosts without /usr/share/zoneinfo
)

// LoadZone resolves an IANA zone name. An empty name or "Local" is rejected because
// the accounting windows must not depend on the host's zone.
func LoadZone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("timezone must be an explicit IANA name, got %q", name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// MidnightInZone returns the instant of 00:00 local time in loc on the calendar date
// that contains t when rendered in loc.
func MidnightInZone(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return midnight(y, m, d, loc)
}

// WeekStartInZone returns midnight of the most recent Sunday (in loc) at or before t.
func WeekStartInZone(t time.Time, loc *time.Location) time.Time {
	return LastWeekdayMidnight(t, loc, time.Sunday)
}

// LastWeekdayMidnight returns midnight of the most recent day in loc whose weekday is
// wd, counting the day containing t.
func LastWeekdayMidnight(t time.Time, loc *time.Location, wd time.Weekday) time.Time {
	local := t.In(loc)
	back := (int(local.Weekday()) - int(wd) + 7) % 7
	y, m, d := local.Date()
	return midnight(y, m, d-back, loc)
}

// midnight finds the first instant whose rendering in loc falls on the given date.
// time.Date is free to resolve a skipped local midnight to either side of the gap, so
// the candidate is walked forward an hour at a time until the date round-trips.
func midnight(year int, month time.Month, day int, loc *time.Location) time.Time {
	// Normalize overflowing days (e.g. day 0) via noon, which is never in a DST gap.
	wy, wm, wd := time.Date(year, month, day, 12, 0, 0, 0, loc).Date()

	candidate := time.Date(wy, wm, wd, 0, 0, 0, 0, loc)
	for i := 0; i < 24; i++ {
		cy, cm, cd := candidate.In(loc).Date()
		if cy == wy && cm == wm && cd == wd {
			return candidate
		}
		candidate = candidate.Add(time.Hour)
	}
	return candidate
}

// SameDay reports whether a and b fall on the same calendar date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// PeriodStart returns the start of the accounting period containing t: the most
// recent resetWeekday midnight when weekly is set, otherwise the local midnight.
func PeriodStart(t time.Time, loc *time.Location, weekly bool, resetWeekday time.Weekday) time.Time {
	if weekly {
		return LastWeekdayMidnight(t, loc, resetWeekday)
	}
	return MidnightInZone(t, loc)
}
