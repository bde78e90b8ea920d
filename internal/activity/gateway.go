package activity

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dorian/internal/logger"
)

// Source is the subset of Client the gateway needs.
type Source interface {
	FetchIntervals(ctx context.Context, apiKey string, start, end time.Time) ([]Interval, error)
}

// Gateway resolves person keys to RescueTime credentials.
type Gateway struct {
	source Source
	keys   map[string]string
	onFail func(personKey string, err error)
}

// NewGateway builds a gateway over source for the given person→api key map.
func NewGateway(source Source, keys map[string]string) *Gateway {
	copied := make(map[string]string, len(keys))
	for k, v := range keys {
		copied[k] = v
	}
	return &Gateway{source: source, keys: copied}
}

// OnFailure registers a hook called whenever a fetch fails (metrics).
func (g *Gateway) OnFailure(fn func(personKey string, err error)) {
	g.onFail = fn
}

// Intervals fetches the person's intervals in [start, end].
func (g *Gateway) Intervals(ctx context.Context, personKey string, start, end time.Time) ([]Interval, error) {
	return g.source.FetchIntervals(ctx, g.keys[personKey], start, end)
}

// UnproductiveMinutes returns the person's unproductive minutes in [start, end].
// Fetch failures are logged and reported as zero minutes: an outage only delays the
// next portrait, it never forces one.
func (g *Gateway) UnproductiveMinutes(ctx context.Context, personKey string, start, end time.Time) float64 {
	intervals, err := g.Intervals(ctx, personKey, start, end)
	if err != nil {
		logger.ForPerson(personKey).WithFields(logrus.Fields{
			"window_start": start.Format(time.RFC3339),
			"window_end":   end.Format(time.RFC3339),
		}).Warnf("Activity fetch failed, counting 0 unproductive minutes: %v", err)
		if g.onFail != nil {
			g.onFail(personKey, err)
		}
		return 0
	}
	return UnproductiveMinutes(intervals)
}
