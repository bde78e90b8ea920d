// Package reset decides whether a portrait run restarts its lineage from the base
// image or chains from the most recent generated portrait.
package reset

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the lineage reset policy.
type Mode string

const (
	ModeNever  Mode = "never"
	ModeDaily  Mode = "daily"
	ModeWeekly Mode = "weekly"
	ModeAlways Mode = "always"
)

// Reason records why a decision was made. It is logged and persisted with every
// generated portrait; it is the only trace of why a lineage restarted.
type Reason string

const (
	ReasonNoHistory         Reason = "no-history"
	ReasonNever             Reason = "never"
	ReasonAlways            Reason = "always"
	ReasonDailyFirstOfDay   Reason = "daily-first-of-day"
	ReasonDailyHasToday     Reason = "daily-has-today"
	ReasonWeeklyFirstOfDay  Reason = "weekly-first-of-day"
	ReasonWeeklyHasToday    Reason = "weekly-has-today"
	ReasonWeeklyNonResetDay Reason = "weekly-non-reset-day"
)

// ParseMode accepts the configured mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeNever, ModeDaily, ModeWeekly, ModeAlways:
		return m, nil
	case "":
		return ModeNever, nil
	default:
		return "", fmt.Errorf("unknown reset mode %q (want never, daily, weekly or always)", s)
	}
}

// ParseWeekday maps 0-6 (Sunday=0) to a weekday; 7 is accepted as Sunday.
func ParseWeekday(n int) (time.Weekday, error) {
	if n == 7 {
		return time.Sunday, nil
	}
	if n < 0 || n > 6 {
		return 0, fmt.Errorf("reset weekday must be 0-7, got %d", n)
	}
	return time.Weekday(n), nil
}

// Policy is a mode plus the weekday used by ModeWeekly.
type Policy struct {
	Mode         Mode
	ResetWeekday time.Weekday
}

// Inputs is the per-run state the decision depends on. LatestEver and LatestToday
// are image refs, empty when absent.
type Inputs struct {
	HasAnyHistory bool
	HasImageToday bool
	TodayWeekday  time.Weekday
	LatestEver    string
	LatestToday   string
}

// Decision says which image the run starts from. ForceBase always pairs with an
// empty Input; the caller then loads the person's base image.
type Decision struct {
	Input     string
	ForceBase bool
	Reason    Reason
}

func base(r Reason) Decision { return Decision{ForceBase: true, Reason: r} }

func chain(in Inputs, r Reason) Decision { return Decision{Input: in.LatestEver, Reason: r} }

// Resolve applies the policy to one run.
func (p Policy) Resolve(in Inputs) Decision {
	if !in.HasAnyHistory {
		return base(ReasonNoHistory)
	}

	switch p.Mode {
	case ModeAlways:
		return base(ReasonAlways)
	case ModeDaily:
		if in.HasImageToday {
			return chain(in, ReasonDailyHasToday)
		}
		return base(ReasonDailyFirstOfDay)
	case ModeWeekly:
		if in.TodayWeekday != p.ResetWeekday {
			return chain(in, ReasonWeeklyNonResetDay)
		}
		if in.HasImageToday {
			return chain(in, ReasonWeeklyHasToday)
		}
		return base(ReasonWeeklyFirstOfDay)
	default:
		return chain(in, ReasonNever)
	}
}

// WeeklyPeriod reports whether images are counted per week rather than per day.
func (p Policy) WeeklyPeriod() bool {
	return p.Mode == ModeWeekly
}

func (p Policy) String() string {
	if p.Mode == ModeWeekly {
		return fmt.Sprintf("%s(%s)", p.Mode, p.ResetWeekday)
	}
	return string(p.Mode)
}
