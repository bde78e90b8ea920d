package activity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBody = `{
  "notes": "data is an array of arrays",
  "row_headers": ["Date", "Time Spent (seconds)", "Number of People", "Activity", "Category", "Productivity"],
  "rows": [
    ["2025-10-14T23:55:00", 300, 1, "youtube.com", "Video", -2],
    ["2025-10-15T09:00:00", 600, 1, "youtube.com", "Video", -2],
    ["2025-10-15T09:05:00", 900, 1, "vscode", "Editing", 2],
    ["2025-10-15T09:10:00", 120, 1, "reddit.com", "News", -1],
    ["2025-10-15T09:15:00", 60, 1, "slack", "Communication", 0],
    ["2025-10-15T11:00:00", 600, 1, "twitter.com", "Social", -2]
  ]
}`

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestFetchIntervals_FiltersAndParses(t *testing.T) {
	loc := newYork(t)
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Zone: loc})
	start := time.Date(2025, time.October, 15, 0, 0, 0, 0, loc)
	end := time.Date(2025, time.October, 15, 10, 0, 0, 0, loc)

	intervals, err := c.FetchIntervals(context.Background(), "secret", start, end)
	require.NoError(t, err)

	assert.Equal(t, "secret", got["key"])
	assert.Equal(t, "interval", got["perspective"])
	assert.Equal(t, "minute", got["resolution_time"])
	assert.Equal(t, "activity", got["restrict_kind"])
	assert.Equal(t, "2025-10-14", got["restrict_begin"])
	assert.Equal(t, "2025-10-15", got["restrict_end"])

	require.Len(t, intervals, 4)
	assert.Equal(t, "youtube.com", intervals[0].Activity)
	assert.Equal(t, -2, intervals[0].Productivity)
	assert.InDelta(t, 12.0, UnproductiveMinutes(intervals), 1e-9)
}

func TestFetchIntervals_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, "boom", "status 500"},
		{"api error", http.StatusOK, `{"error":"# key not found","messages":"bad key"}`, "key not found"},
		{"bad json", http.StatusOK, `{"rows": [[`, "decode"},
		{"short row", http.StatusOK, `{"rows": [["2025-10-15T09:00:00", 1]]}`, "expected 6 columns"},
		{"string duration", http.StatusOK, `{"rows": [["2025-10-15T09:00:00", "600", 1, "youtube.com", "Video", -2]]}`, "duration"},
		{"numeric activity", http.StatusOK, `{"rows": [["2025-10-15T09:00:00", 600, 1, 42, "Video", -2]]}`, "activity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(ClientConfig{BaseURL: srv.URL})
			_, err := c.FetchIntervals(context.Background(), "k", time.Now().Add(-time.Hour), time.Now())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFetchIntervals_MissingKey(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := c.FetchIntervals(context.Background(), "", time.Now(), time.Now())
	assert.Error(t, err)
}

func TestFetchIntervals_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.FetchIntervals(context.Background(), "k", time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err)
}

func TestMostRecentUnproductive(t *testing.T) {
	base := time.Date(2025, time.October, 15, 9, 0, 0, 0, time.UTC)
	intervals := []Interval{
		{Timestamp: base, DurationSeconds: 300, Activity: "a", Productivity: -1},
		{Timestamp: base.Add(10 * time.Minute), DurationSeconds: 125, Activity: "b", Category: "Video", Productivity: -2},
		{Timestamp: base.Add(20 * time.Minute), DurationSeconds: 60, Activity: "c", Productivity: 1},
	}
	got := MostRecentUnproductive(intervals)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.Activity)
	assert.Equal(t, "Video", got.Category)
	assert.Equal(t, 2.08, got.TimeMinutes)

	assert.Nil(t, MostRecentUnproductive(intervals[2:]))
}

type failingSource struct{ err error }

func (f failingSource) FetchIntervals(context.Context, string, time.Time, time.Time) ([]Interval, error) {
	return nil, f.err
}

func TestGateway_FailOpen(t *testing.T) {
	g := NewGateway(failingSource{err: errors.New("connection refused")}, map[string]string{"emily": "k"})

	var failed string
	g.OnFailure(func(person string, err error) { failed = person })

	minutes := g.UnproductiveMinutes(context.Background(), "emily", time.Now().Add(-time.Hour), time.Now())
	assert.Zero(t, minutes)
	assert.Equal(t, "emily", failed)
}

func TestGateway_MalformedRowCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rows": [["2025-10-15T09:00:00", "600", 1, "youtube.com", "Video", -2]]}`))
	}))
	defer srv.Close()

	g := NewGateway(NewClient(ClientConfig{BaseURL: srv.URL}), map[string]string{"emily": "k"})
	var failures int
	g.OnFailure(func(string, error) { failures++ })

	start := time.Date(2025, time.October, 15, 0, 0, 0, 0, time.UTC)
	minutes := g.UnproductiveMinutes(context.Background(), "emily", start, start.Add(24*time.Hour))
	assert.Zero(t, minutes)
	assert.Equal(t, 1, failures)
}

func TestFetchIntervals_NullColumns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rows": [["2025-10-15T09:00:00", 300, null, null, null, -1]]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	start := time.Date(2025, time.October, 15, 0, 0, 0, 0, time.UTC)
	intervals, err := c.FetchIntervals(context.Background(), "k", start, start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Empty(t, intervals[0].Activity)
	assert.InDelta(t, 5.0, UnproductiveMinutes(intervals), 1e-9)
}
