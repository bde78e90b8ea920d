package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dorian/internal/gate"
	"dorian/internal/runner"
	"dorian/internal/storage"
)

type fakeService struct {
	mu       sync.Mutex
	people   []string
	runs     []string
	ticks    int
	outcome  runner.Outcome
	outcomes []runner.Outcome
	progress *runner.Progress
	err      error
}

func (s *fakeService) People() []string { return s.people }

func (s *fakeService) Run(_ context.Context, key string) runner.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, key)
	out := s.outcome
	out.Person = key
	return out
}

func (s *fakeService) Tick(_ context.Context) []runner.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	return s.outcomes
}

func (s *fakeService) Progress(_ context.Context, key string) (*runner.Progress, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := *s.progress
	p.Person = key
	return &p, nil
}

type fakeHistory struct {
	records []*storage.GenerationRecord
	limit   int
	err     error
}

func (h *fakeHistory) History(_ context.Context, _ string, limit int) ([]*storage.GenerationRecord, error) {
	h.limit = limit
	if h.err != nil {
		return nil, h.err
	}
	return h.records, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type testServer struct {
	handler http.Handler
	svc     *fakeService
	history *fakeHistory
	images  *storage.ImageStore
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	images, err := storage.NewImageStore(filepath.Join(t.TempDir(), "images"))
	require.NoError(t, err)

	svc := &fakeService{
		people:   []string{"emily", "jack"},
		progress: &runner.Progress{ExpectedImageCount: 2, CurrentImageCount: 1, NextThreshold: 60},
	}
	history := &fakeHistory{}
	h, err := NewHandler(Config{
		CronSecret:    secret,
		RateLimit:     "1000-M",
		PublicBaseURL: "https://portraits.example.com/",
	}, svc, history, images)
	require.NoError(t, err)
	return &testServer{handler: h, svc: svc, history: history, images: images}
}

func (s *testServer) do(t *testing.T, method, target, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")
	rec, env := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestPeople(t *testing.T) {
	s := newTestServer(t, "")
	rec, env := s.do(t, http.MethodGet, "/api/people", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["emily","jack"]`, string(env.Data))
}

func TestPortraitHistory(t *testing.T) {
	s := newTestServer(t, "")
	at := time.Date(2025, time.October, 15, 14, 0, 0, 0, time.UTC)
	s.history.records = []*storage.GenerationRecord{
		{ID: 7, PersonKey: "emily", Version: 2, Prompt: "Darken the background.", ImageRef: "emily/2025/10/15/b.png", CreatedAt: at},
		{ID: 3, PersonKey: "emily", Version: 1, Prompt: "first", ImageRef: "emily/2025/10/14/a b.png", UsedBase: true, CreatedAt: at.Add(-24 * time.Hour)},
	}

	rec, env := s.do(t, http.MethodGet, "/api/emily/portrait-history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, s.history.limit)

	var items []HistoryItem
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 2)
	assert.Equal(t, 2, items[0].Version)
	assert.Equal(t, "https://portraits.example.com/images/emily/2025/10/15/b.png", items[0].ImageURL)
	assert.Equal(t, items[0].ImageURL, items[0].ThumbnailURL)
	assert.Equal(t, "https://portraits.example.com/images/emily/2025/10/14/a%20b.png", items[1].ImageURL)
	assert.True(t, items[1].UsedBase)
	assert.True(t, items[0].Timestamp.Equal(at))
}

func TestPortraitHistory_Errors(t *testing.T) {
	s := newTestServer(t, "")

	rec, env := s.do(t, http.MethodGet, "/api/emily/portrait-history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_limit", env.Error)

	s.history.err = errors.New("disk full")
	rec, env = s.do(t, http.MethodGet, "/api/emily/portrait-history", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "storage_error", env.Error)
}

func TestUnknownPerson(t *testing.T) {
	s := newTestServer(t, "secret")
	for _, target := range []string{
		"/api/nobody/portrait-history",
		"/api/nobody/current-screentime",
	} {
		rec, env := s.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Equal(t, "unknown_person", env.Error, target)
	}

	rec, _ := s.do(t, http.MethodPost, "/api/nobody/run", "secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, s.svc.runs)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, "")
	rec, env := s.do(t, http.MethodGet, "/nothing/here", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error)
}

func TestCurrentScreentime(t *testing.T) {
	s := newTestServer(t, "")
	rec, env := s.do(t, http.MethodGet, "/api/jack/current-screentime", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var p runner.Progress
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "jack", p.Person)
	assert.Equal(t, 2, p.ExpectedImageCount)
	assert.Equal(t, 60, p.NextThreshold)

	s.svc.err = errors.New("cache down")
	rec, env = s.do(t, http.MethodGet, "/api/jack/current-screentime", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "progress_error", env.Error)
}

func TestCron_Auth(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		token  string
		want   int
	}{
		{"disabled without secret", "", "anything", http.StatusForbidden},
		{"missing token", "s3cret", "", http.StatusUnauthorized},
		{"wrong token", "s3cret", "nope", http.StatusUnauthorized},
		{"valid token", "s3cret", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.secret)
			rec, _ := s.do(t, http.MethodPost, "/api/cron", tt.token)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, 1, s.svc.ticks)
			} else {
				assert.Zero(t, s.svc.ticks)
			}
		})
	}
}

func TestCron_ReportsEveryPerson(t *testing.T) {
	s := newTestServer(t, "s3cret")
	s.svc.outcomes = []runner.Outcome{
		{Person: "emily", Status: runner.StatusGenerated, Version: 4, Gate: gate.Decision{Proceed: true, ExpectedCount: 4}},
		{Person: "jack", Status: runner.StatusFailed, Err: fmt.Errorf("generate: %w", errors.New("quota exceeded"))},
	}

	rec, env := s.do(t, http.MethodGet, "/api/cron", "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Results, 2)
	assert.Equal(t, "emily", body.Results[0]["person"])
	assert.Equal(t, "generated", body.Results[0]["status"])
	assert.EqualValues(t, 4, body.Results[0]["version"])
	assert.NotContains(t, body.Results[0], "error")
	assert.Equal(t, "failed", body.Results[1]["status"])
	assert.Equal(t, "generate: quota exceeded", body.Results[1]["error"])
}

func TestRunOne(t *testing.T) {
	s := newTestServer(t, "s3cret")
	s.svc.outcome = runner.Outcome{Status: runner.StatusGenerated, Version: 2}

	rec, env := s.do(t, http.MethodPost, "/api/emily/run", "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"emily"}, s.svc.runs)

	var res map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "generated", res["status"])

	s.svc.outcome = runner.Outcome{Status: runner.StatusFailed, Err: errors.New("upstream 503")}
	rec, env = s.do(t, http.MethodPost, "/api/emily/run", "s3cret")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream 503", env.Message)

	s.svc.outcome = runner.Outcome{Status: runner.StatusFailed, Err: fmt.Errorf("%w for %q", runner.ErrMissingCredential, "emily")}
	rec, _ = s.do(t, http.MethodPost, "/api/emily/run", "s3cret")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/emily/run", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestImages(t *testing.T) {
	s := newTestServer(t, "")
	ref, err := s.images.Put("emily", time.Date(2025, time.October, 15, 9, 0, 0, 0, time.UTC), []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	rec, _ := s.do(t, http.MethodGet, "/images/"+ref, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")

	rec, env := s.do(t, http.MethodGet, "/images/emily/2025/10/15/missing.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error)
}

type rejectingFiles struct{}

func (rejectingFiles) Path(string) (string, error) { return "", errors.New("escapes image store") }

func TestImages_RejectsInvalidRef(t *testing.T) {
	svc := &fakeService{people: []string{"emily"}}
	h, err := NewHandler(Config{}, svc, &fakeHistory{}, rejectingFiles{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/emily/x.png", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	svc := &fakeService{people: []string{"emily"}}
	h, err := NewHandler(Config{AllowedOrigins: []string{"https://portraits.example.com"}}, svc, &fakeHistory{}, rejectingFiles{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/people", nil)
	req.Header.Set("Origin", "https://portraits.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://portraits.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/people", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	svc := &fakeService{people: []string{"emily"}}
	h, err := NewHandler(Config{RateLimit: "2-M", TrustProxy: true}, svc, &fakeHistory{}, rejectingFiles{})
	require.NoError(t, err)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/people", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	_, err = NewHandler(Config{RateLimit: "lots"}, svc, &fakeHistory{}, rejectingFiles{})
	assert.Error(t, err)
}

func TestRateLimit_IgnoresForwardedHeadersByDefault(t *testing.T) {
	svc := &fakeService{people: []string{"emily"}}
	h, err := NewHandler(Config{RateLimit: "2-M"}, svc, &fakeHistory{}, rejectingFiles{})
	require.NoError(t, err)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/people", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimit_TrustedProxyKeysByForwardedClient(t *testing.T) {
	svc := &fakeService{people: []string{"emily"}}
	h, err := NewHandler(Config{RateLimit: "2-M", TrustProxy: true}, svc, &fakeHistory{}, rejectingFiles{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/people", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d, 10.0.0.1", i+1))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "client %d", i+1)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Real-IP", "198.51.100.4")

	assert.Equal(t, "192.0.2.7", clientIP(req, false))
	assert.Equal(t, "203.0.113.9", clientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "198.51.100.4", clientIP(req, true))

	req.Header.Del("X-Real-IP")
	assert.Equal(t, "192.0.2.7", clientIP(req, true))

	req.RemoteAddr = "@unix"
	assert.Equal(t, "@unix", clientIP(req, false))
}
