// Package activity reads per-interval activity records from RescueTime and turns
// them into unproductive minutes.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"
)

const (
	// DefaultBaseURL is the RescueTime analytic data endpoint.
	DefaultBaseURL = "https://www.rescuetime.com/anapi/data"
	// DefaultTimeout bounds one RescueTime request.
	DefaultTimeout = 30 * time.Second
	// DefaultLookback widens the requested date range because RescueTime filters by date only.
	DefaultLookback = 24 * time.Hour
)

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Interval is one row of RescueTime's interval perspective.
type Interval struct {
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds float64   `json:"durationSeconds"`
	People          int       `json:"people"`
	Activity        string    `json:"activity"`
	Category        string    `json:"category"`
	Productivity    int       `json:"productivity"`
}

// Unproductive reports whether the interval counts against the person.
func (i Interval) Unproductive() bool {
	return i.Productivity < 0
}

// ClientConfig configures Client.
type ClientConfig struct {
	BaseURL  string
	Timeout  time.Duration
	Lookback time.Duration
	// Zone is the zone RescueTime renders timestamps in (the account's zone).
	Zone       *time.Location
	HTTPClient *http.Client
}

// Client talks to the RescueTime data API.
type Client struct {
	baseURL    string
	lookback   time.Duration
	zone       *time.Location
	httpClient *http.Client
}

// NewClient applies defaults to cfg.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Zone == nil {
		cfg.Zone = time.UTC
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		lookback:   cfg.Lookback,
		zone:       cfg.Zone,
		httpClient: hc,
	}
}

type dataResponse struct {
	Notes      string              `json:"notes"`
	RowHeaders []string            `json:"row_headers"`
	Rows       [][]json.RawMessage `json:"rows"`
	Error      string              `json:"error"`
	Messages   string              `json:"messages"`
}

// FetchIntervals returns the intervals whose timestamp lies in [start, end]. The
// request covers whole dates from start-lookback through end; rows are then filtered
// locally to the minute.
func (c *Client) FetchIntervals(ctx context.Context, apiKey string, start, end time.Time) ([]Interval, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("rescuetime api key not configured")
	}

	params := url.Values{}
	params.Set("key", apiKey)
	params.Set("perspective", "interval")
	params.Set("resolution_time", "minute")
	params.Set("restrict_begin", start.Add(-c.lookback).In(c.zone).Format("2006-01-02"))
	params.Set("restrict_end", end.In(c.zone).Format("2006-01-02"))
	params.Set("restrict_kind", "activity")
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rescuetime request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rescuetime request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read rescuetime response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rescuetime returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var data dataResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode rescuetime response: %w", err)
	}
	if data.Error != "" {
		return nil, fmt.Errorf("rescuetime error: %s %s", data.Error, data.Messages)
	}

	intervals := make([]Interval, 0, len(data.Rows))
	for i, row := range data.Rows {
		iv, err := parseRow(row, c.zone)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if iv.Timestamp.Before(start) || iv.Timestamp.After(end) {
			continue
		}
		intervals = append(intervals, iv)
	}
	return intervals, nil
}

// parseRow decodes [timestamp, seconds, people, activity, category, productivity].
func parseRow(row []json.RawMessage, zone *time.Location) (Interval, error) {
	var iv Interval
	if len(row) < 6 {
		return iv, fmt.Errorf("expected 6 columns, got %d", len(row))
	}

	var ts string
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return iv, fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := parseTimestamp(ts, zone)
	if err != nil {
		return iv, err
	}
	iv.Timestamp = parsed

	// null decodes to the zero value; a type mismatch fails the whole fetch.
	columns := []struct {
		name string
		dst  any
	}{
		{"duration", &iv.DurationSeconds},
		{"people", &iv.People},
		{"activity", &iv.Activity},
		{"category", &iv.Category},
		{"productivity", &iv.Productivity},
	}
	for i, col := range columns {
		if err := json.Unmarshal(row[i+1], col.dst); err != nil {
			return iv, fmt.Errorf("%s: %w", col.name, err)
		}
	}
	return iv, nil
}

func parseTimestamp(s string, zone *time.Location) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, zone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnproductiveMinutes sums the durations of intervals with a negative score.
func UnproductiveMinutes(intervals []Interval) float64 {
	var seconds float64
	for _, iv := range intervals {
		if iv.Unproductive() {
			seconds += iv.DurationSeconds
		}
	}
	return seconds / 60
}

// RecentActivity describes the latest unproductive interval.
type RecentActivity struct {
	Timestamp   time.Time `json:"timestamp"`
	Activity    string    `json:"activity"`
	Category    string    `json:"category"`
	TimeMinutes float64   `json:"timeMinutes"`
}

// MostRecentUnproductive returns the newest unproductive interval, or nil.
func MostRecentUnproductive(intervals []Interval) *RecentActivity {
	var bad []Interval
	for _, iv := range intervals {
		if iv.Unproductive() {
			bad = append(bad, iv)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.SliceStable(bad, func(i, j int) bool { return bad[i].Timestamp.After(bad[j].Timestamp) })
	top := bad[0]
	return &RecentActivity{
		Timestamp:   top.Timestamp,
		Activity:    top.Activity,
		Category:    top.Category,
		TimeMinutes: RoundMinutes(top.DurationSeconds / 60),
	}
}

// RoundMinutes rounds to two decimals for display.
func RoundMinutes(m float64) float64 {
	return float64(int64(m*100+0.5)) / 100
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
