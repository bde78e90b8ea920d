// Package api serves portrait history, progress snapshots, images and the
// authenticated tick trigger over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"dorian/internal/runner"
	"dorian/internal/storage"
)

// Service is the part of runner.Runner the API drives.
type Service interface {
	People() []string
	Run(ctx context.Context, key string) runner.Outcome
	Tick(ctx context.Context) []runner.Outcome
	Progress(ctx context.Context, key string) (*runner.Progress, error)
}

type HistoryStore interface {
	History(ctx context.Context, person string, limit int) ([]*storage.GenerationRecord, error)
}

type ImageFiles interface {
	Path(ref string) (string, error)
}

type Config struct {
	CronSecret     string
	AllowedOrigins []string
	RateLimit      string
	PublicBaseURL  string
	// TrustProxy honors X-Forwarded-For/X-Real-IP; set only behind a proxy that overwrites them.
	TrustProxy     bool
	// RedisClient, when set, backs the rate limiter.
	RedisClient    *redis.Client
}

type handler struct {
	cfg     Config
	svc     Service
	history HistoryStore
	images  ImageFiles
	people  map[string]bool
}

// HistoryItem is one portrait as shown in the carousel.
type HistoryItem struct {
	ID           int64     `json:"id"`
	Version      int       `json:"version"`
	Prompt       string    `json:"prompt"`
	ImageURL     string    `json:"imageUrl"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	Timestamp    time.Time `json:"timestamp"`
	Note         string    `json:"note,omitempty"`
	UsedBase     bool      `json:"usedBase"`
}

// RunResult is an Outcome with its error flattened for JSON.
type RunResult struct {
	runner.Outcome
	Error string `json:"error,omitempty"`
}

// NewHandler builds the routed, CORS-wrapped, rate-limited handler.
func NewHandler(cfg Config, svc Service, history HistoryStore, images ImageFiles) (http.Handler, error) {
	h := &handler{cfg: cfg, svc: svc, history: history, images: images, people: map[string]bool{}}
	for _, p := range svc.People() {
		h.people[p] = true
	}

	limit, err := rateLimit(cfg.RateLimit, cfg.RedisClient, cfg.TrustProxy)
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.Use(recoverer)
	r.Use(logging(cfg.TrustProxy))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/", h.index).Methods(http.MethodGet)
	r.HandleFunc("/images/{ref:.+}", h.image).Methods(http.MethodGet, http.MethodHead)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(limit)
	apiRouter.HandleFunc("/people", h.listPeople).Methods(http.MethodGet)
	apiRouter.HandleFunc("/cron", requireBearer(cfg.CronSecret, h.cron)).Methods(http.MethodGet, http.MethodPost)
	apiRouter.HandleFunc("/{person}/portrait-history", h.portraitHistory).Methods(http.MethodGet)
	apiRouter.HandleFunc("/{person}/current-screentime", h.currentProgress).Methods(http.MethodGet)
	apiRouter.HandleFunc("/{person}/run", requireBearer(cfg.CronSecret, h.runOne)).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondJSONError(w, http.StatusNotFound, "not_found", "route not found")
	})

	return withCORS(cfg.AllowedOrigins, r), nil
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) index(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"service": "dorian", "people": h.svc.People()})
}

func (h *handler) listPeople(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.People())
}

func (h *handler) person(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := mux.Vars(r)["person"]
	if !h.people[key] {
		respondJSONError(w, http.StatusNotFound, "unknown_person", "no portrait lineage for "+strconv.Quote(key))
		return "", false
	}
	return key, true
}

func (h *handler) portraitHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := h.person(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondJSONError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.history.History(r.Context(), key, limit)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	items := make([]HistoryItem, 0, len(records))
	for _, rec := range records {
		u := h.imageURL(rec.ImageRef)
		items = append(items, HistoryItem{
			ID:           rec.ID,
			Version:      rec.Version,
			Prompt:       rec.Prompt,
			ImageURL:     u,
			ThumbnailURL: u,
			Timestamp:    rec.CreatedAt,
			Note:         rec.Note,
			UsedBase:     rec.UsedBase,
		})
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *handler) imageURL(ref string) string {
	segments := strings.Split(ref, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(h.cfg.PublicBaseURL, "/") + "/images/" + strings.Join(segments, "/")
}

func (h *handler) currentProgress(w http.ResponseWriter, r *http.Request) {
	key, ok := h.person(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Progress(r.Context(), key)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "progress_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *handler) cron(w http.ResponseWriter, r *http.Request) {
	outcomes := h.svc.Tick(r.Context())
	results := make([]RunResult, 0, len(outcomes))
	for _, o := range outcomes {
		results = append(results, RunResult{Outcome: o, Error: o.ErrorString()})
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *handler) runOne(w http.ResponseWriter, r *http.Request) {
	key, ok := h.person(w, r)
	if !ok {
		return
	}
	out := h.svc.Run(r.Context(), key)
	if out.Status == runner.StatusFailed {
		status := http.StatusBadGateway
		if errors.Is(out.Err, runner.ErrMissingCredential) || errors.Is(out.Err, runner.ErrBaseImageMissing) {
			status = http.StatusInternalServerError
		}
		respondJSONError(w, status, "run_failed", out.ErrorString())
		return
	}
	respondJSON(w, http.StatusOK, RunResult{Outcome: out})
}

func (h *handler) image(w http.ResponseWriter, r *http.Request) {
	path, err := h.images.Path(mux.Vars(r)["ref"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_ref", "invalid image reference")
		return
	}
	if _, err := os.Stat(path); err != nil {
		respondJSONError(w, http.StatusNotFound, "not_found", "image not found")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, path)
}
