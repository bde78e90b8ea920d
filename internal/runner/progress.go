package runner

import (
	"context"
	"time"

	"dorian/internal/activity"
	"dorian/internal/gate"
	"dorian/internal/logger"
	"dorian/internal/timewindow"
)

// Progress is the per-person snapshot shown next to the portrait.
type Progress struct {
	Person                         string                   `json:"person"`
	UnproductiveMinutes            float64                  `json:"unproductiveMinutes"`
	TotalUnproductiveMinutes       float64                  `json:"totalUnproductiveMinutes"`
	MostRecentUnproductiveActivity *activity.RecentActivity `json:"mostRecentUnproductiveActivity"`
	ExpectedImageCount             int                      `json:"expectedImageCount"`
	CurrentImageCount              int                      `json:"currentImageCount"`
	NextThreshold                  int                      `json:"nextThreshold"`
	Timestamp                      time.Time                `json:"timestamp"`
	Timezone                       string                   `json:"timezone"`
	ResetMode                      string                   `json:"resetMode"`
	PeriodStart                    time.Time                `json:"periodStart"`
	WeekStart                      time.Time                `json:"weekStart"`
	TrackingStartDate              string                   `json:"trackingStartDate,omitempty"`
}

func progressKey(person string) string { return "progress:" + person }

// Progress builds the snapshot, served from cache when fresh. Activity failures
// count as zero minutes, as in Run.
func (r *Runner) Progress(ctx context.Context, key string) (*Progress, error) {
	if _, ok := r.people[key]; !ok {
		return nil, ErrUnknownPerson
	}

	if r.cache != nil {
		var cached Progress
		ok, err := r.cache.Get(ctx, progressKey(key), &cached)
		if err != nil {
			logger.ForPerson(key).Warnf("Progress cache read failed: %v", err)
		} else if ok {
			return &cached, nil
		}
	}

	now := r.now()
	periodStart := r.PeriodStart(now)

	var (
		minutes float64
		recent  *activity.RecentActivity
	)
	intervals, err := r.activity.Intervals(ctx, key, periodStart, now)
	if err != nil {
		logger.ForPerson(key).Warnf("Activity fetch failed for progress, counting 0 minutes: %v", err)
	} else {
		minutes = activity.UnproductiveMinutes(intervals)
		recent = activity.MostRecentUnproductive(intervals)
	}

	total := minutes
	if !r.opts.TrackingStart.IsZero() && r.opts.TrackingStart.Before(periodStart) {
		total = r.activity.UnproductiveMinutes(ctx, key, r.opts.TrackingStart, now)
	}

	count, err := r.records.CountInWindow(ctx, key, periodStart, now)
	if err != nil {
		return nil, err
	}

	expected := gate.ExpectedCount(minutes, r.opts.IncrementMinutes)
	p := &Progress{
		Person:                         key,
		UnproductiveMinutes:            activity.RoundMinutes(minutes),
		TotalUnproductiveMinutes:       activity.RoundMinutes(total),
		MostRecentUnproductiveActivity: recent,
		ExpectedImageCount:             expected,
		CurrentImageCount:              count,
		NextThreshold:                  expected * r.opts.IncrementMinutes,
		Timestamp:                      now,
		Timezone:                       r.opts.Zone.String(),
		ResetMode:                      r.opts.Policy.String(),
		PeriodStart:                    periodStart,
		WeekStart:                      timewindow.WeekStartInZone(now, r.opts.Zone),
	}
	if !r.opts.TrackingStart.IsZero() {
		p.TrackingStartDate = r.opts.TrackingStart.In(r.opts.Zone).Format("2006-01-02")
	}

	if r.cache != nil && r.opts.CacheTTL > 0 {
		if err := r.cache.Set(ctx, progressKey(key), p, r.opts.CacheTTL); err != nil {
			logger.ForPerson(key).Warnf("Progress cache write failed: %v", err)
		}
	}
	return p, nil
}

func (r *Runner) invalidateProgress(ctx context.Context, key string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, progressKey(key)); err != nil {
		logger.ForPerson(key).Warnf("Progress cache invalidation failed: %v", err)
	}
}
