// Package runner drives one portrait generation per person: threshold check,
// reset decision, prompt choice, image edit, then a versioned store write.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dorian/internal/activity"
	"dorian/internal/cache"
	"dorian/internal/gate"
	"dorian/internal/generator"
	"dorian/internal/logger"
	"dorian/internal/observability"
	"dorian/internal/prompt"
	"dorian/internal/reset"
	"dorian/internal/storage"
	"dorian/internal/timewindow"
)

var (
	ErrUnknownPerson          = errors.New("unknown person")
	ErrMissingCredential      = errors.New("activity api key not configured")
	ErrBaseImageMissing       = errors.New("base image unavailable")
	ErrLatestImageUnavailable = errors.New("latest image unavailable for chained run")
)

// DefaultFirstRunPrompt starts every lineage.
const DefaultFirstRunPrompt = "Turn this photo into a realistic oil painting portrait in a gilded golden frame, " +
	"in the style of a 19th century aristocratic portrait. Keep the face and pose recognizable."

// Status of a single person's run.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Person is one tracked lineage.
type Person struct {
	Key       string
	APIKey    string
	BaseImage string
}

// ActivitySource is the part of activity.Gateway the runner uses.
type ActivitySource interface {
	UnproductiveMinutes(ctx context.Context, personKey string, start, end time.Time) float64
	Intervals(ctx context.Context, personKey string, start, end time.Time) ([]activity.Interval, error)
}

// ImageStore holds image bytes by ref.
type ImageStore interface {
	Put(person string, at time.Time, data []byte, mimeType string) (string, error)
	Get(ref string) ([]byte, error)
	Delete(ref string) error
}

type Options struct {
	Zone             *time.Location
	Policy           reset.Policy
	IncrementMinutes int
	PromptPool       []string
	AvoidLastN       int
	FirstRunPrompt   string
	StabilizeSuffix  string
	TrackingStart    time.Time
	Workers          int
	GenerateTimeout  time.Duration
	CacheTTL         time.Duration
}

type Deps struct {
	Activity  ActivitySource
	Generator generator.Generator
	Records   storage.RecordStore
	Images    ImageStore
	Cache     cache.Cache
	// LoadBase reads a base image path; defaults to storage.ReadBaseImage.
	LoadBase func(path string) ([]byte, string, error)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Outcome reports one person's run. Err is set only for StatusFailed.
type Outcome struct {
	Person              string        `json:"person"`
	Status              Status        `json:"status"`
	Version             int           `json:"version,omitempty"`
	Reason              string        `json:"reason,omitempty"`
	Gate                gate.Decision `json:"gate"`
	UnproductiveMinutes float64       `json:"unproductiveMinutes"`
	ResponseID          string        `json:"responseId,omitempty"`
	Elapsed             time.Duration `json:"elapsed"`
	Err                 error         `json:"-"`
}

// ErrorString returns the failure message, empty on success.
func (o Outcome) ErrorString() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

type Runner struct {
	opts   Options
	people map[string]Person
	order  []string

	activity ActivitySource
	gen      generator.Generator
	records  storage.RecordStore
	images   ImageStore
	cache    cache.Cache
	loadBase func(string) ([]byte, string, error)
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(opts Options, people []Person, deps Deps) (*Runner, error) {
	if opts.Zone == nil {
		return nil, fmt.Errorf("runner zone not configured")
	}
	if deps.Activity == nil || deps.Generator == nil || deps.Records == nil || deps.Images == nil {
		return nil, fmt.Errorf("runner dependencies incomplete")
	}
	if opts.IncrementMinutes <= 0 {
		opts.IncrementMinutes = gate.DefaultIncrementMinutes
	}
	if opts.FirstRunPrompt == "" {
		opts.FirstRunPrompt = DefaultFirstRunPrompt
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = generator.DefaultTimeout
	}

	r := &Runner{
		opts:     opts,
		people:   make(map[string]Person, len(people)),
		activity: deps.Activity,
		gen:      deps.Generator,
		records:  deps.Records,
		images:   deps.Images,
		cache:    deps.Cache,
		loadBase: deps.LoadBase,
		now:      deps.Now,
		locks:    make(map[string]*sync.Mutex),
	}
	if r.loadBase == nil {
		r.loadBase = storage.ReadBaseImage
	}
	if r.now == nil {
		r.now = time.Now
	}
	for _, p := range people {
		if _, dup := r.people[p.Key]; dup {
			return nil, fmt.Errorf("duplicate person key %q", p.Key)
		}
		r.people[p.Key] = p
		r.order = append(r.order, p.Key)
	}
	return r, nil
}

// People returns the configured person keys in configuration order.
func (r *Runner) People() []string {
	return append([]string(nil), r.order...)
}

func (r *Runner) Options() Options { return r.opts }

// PeriodStart is the start of the accounting window containing t.
func (r *Runner) PeriodStart(t time.Time) time.Time {
	return timewindow.PeriodStart(t, r.opts.Zone, r.opts.Policy.WeeklyPeriod(), r.opts.Policy.ResetWeekday)
}

func (r *Runner) personLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

func (r *Runner) lookup(key string) (Person, error) {
	p, ok := r.people[key]
	if !ok {
		return Person{}, fmt.Errorf("%w: %q", ErrUnknownPerson, key)
	}
	if p.APIKey == "" {
		return p, fmt.Errorf("%w for %q", ErrMissingCredential, key)
	}
	if p.BaseImage == "" {
		return p, fmt.Errorf("%w: no base image configured for %q", ErrBaseImageMissing, key)
	}
	return p, nil
}

// Run performs one check-and-maybe-generate for a person. Failures are returned in
// the Outcome, never panicked.
func (r *Runner) Run(ctx context.Context, key string) Outcome {
	started := time.Now()
	out := r.run(ctx, key)
	out.Elapsed = time.Since(started)
	observability.RecordRun(key, string(out.Status))
	return out
}

func (r *Runner) run(ctx context.Context, key string) Outcome {
	out := Outcome{Person: key}
	log := logger.ForPerson(key)

	person, err := r.lookup(key)
	if err != nil {
		log.Errorf("Run aborted: %v", err)
		return failed(out, err)
	}

	now := r.now()
	windowStart := r.PeriodStart(now)

	minutes := r.activity.UnproductiveMinutes(ctx, key, windowStart, now)
	out.UnproductiveMinutes = minutes
	observability.SetUnproductiveMinutes(key, minutes)

	lock := r.personLock(key)
	lock.Lock()
	defer lock.Unlock()

	count, err := r.records.CountInWindow(ctx, key, windowStart, now)
	if err != nil {
		log.Errorf("Failed to count portraits in window: %v", err)
		return failed(out, err)
	}

	decision := gate.Decide(minutes, count, r.opts.IncrementMinutes)
	out.Gate = decision
	fields := logrus.Fields{
		"unproductive_minutes": activity.RoundMinutes(minutes),
		"expected_count":       decision.ExpectedCount,
		"current_count":        count,
		"next_threshold":       decision.NextThresholdMinutes,
	}
	if !decision.Proceed {
		log.WithFields(fields).Infof("Below threshold, skipping (next portrait at %d minutes)", decision.NextThresholdMinutes)
		out.Status = StatusSkipped
		return out
	}

	resetDecision, err := r.resolveReset(ctx, key, now)
	if err != nil {
		log.Errorf("Failed to resolve reset policy: %v", err)
		return failed(out, err)
	}
	out.Reason = string(resetDecision.Reason)
	observability.RecordResetReason(key, out.Reason)
	log.WithFields(fields).WithField("reason", out.Reason).Infof("Threshold passed, generating (force_base=%t)", resetDecision.ForceBase)

	input, mime, err := r.inputImage(person, resetDecision)
	if err != nil {
		log.WithField("reason", out.Reason).Errorf("Failed to load input image: %v", err)
		return failed(out, err)
	}

	effect, instruction, err := r.choosePrompt(ctx, key, resetDecision.ForceBase)
	if err != nil {
		log.Errorf("Failed to choose prompt: %v", err)
		return failed(out, err)
	}

	res, err := r.generate(ctx, instruction, input, mime)
	if err != nil {
		log.WithField("reason", out.Reason).Errorf("Generation failed: %v", err)
		return failed(out, err)
	}
	out.ResponseID = res.ResponseID

	rec, err := r.persist(ctx, key, effect, resetDecision, res)
	if err != nil {
		return failed(out, err)
	}
	out.Status = StatusGenerated
	out.Version = rec.Version

	r.invalidateProgress(ctx, key)
	observability.RecordGenerated(key, rec.CreatedAt)
	log.WithFields(logrus.Fields{
		"version":     rec.Version,
		"response_id": rec.ResponseID,
		"reason":      out.Reason,
		"used_base":   rec.UsedBase,
	}).Infof("Portrait v%d stored", rec.Version)
	return out
}

func failed(out Outcome, err error) Outcome {
	out.Status = StatusFailed
	out.Err = err
	return out
}

// resolveReset gathers history facts from the store and applies the policy.
func (r *Runner) resolveReset(ctx context.Context, key string, now time.Time) (reset.Decision, error) {
	in := reset.Inputs{TodayWeekday: now.In(r.opts.Zone).Weekday()}

	latest, err := r.records.LatestRecord(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return reset.Decision{}, fmt.Errorf("read latest portrait: %w", err)
	default:
		in.HasAnyHistory = true
		in.LatestEver = latest.ImageRef
	}

	if in.HasAnyHistory {
		today, err := r.records.LatestRecordSince(ctx, key, timewindow.MidnightInZone(now, r.opts.Zone))
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return reset.Decision{}, fmt.Errorf("read today's portrait: %w", err)
		default:
			in.HasImageToday = true
			in.LatestToday = today.ImageRef
		}
	}

	return r.opts.Policy.Resolve(in), nil
}

func (r *Runner) inputImage(person Person, d reset.Decision) ([]byte, string, error) {
	if d.ForceBase {
		data, mime, err := r.loadBase(person.BaseImage)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrBaseImageMissing, err)
		}
		return data, mime, nil
	}
	data, err := r.images.Get(d.Input)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrLatestImageUnavailable, d.Input, err)
	}
	return data, http.DetectContentType(data), nil
}

// choosePrompt returns the recorded effect text and the instruction actually sent.
func (r *Runner) choosePrompt(ctx context.Context, key string, forceBase bool) (string, string, error) {
	if forceBase {
		return r.opts.FirstRunPrompt, r.opts.FirstRunPrompt, nil
	}
	recent, err := r.records.RecentPrompts(ctx, key, r.opts.AvoidLastN)
	if err != nil {
		return "", "", err
	}
	effect, err := prompt.Pick(r.opts.PromptPool, recent, r.opts.AvoidLastN)
	if err != nil {
		return "", "", err
	}
	return effect, r.instruction(effect), nil
}

func (r *Runner) instruction(effect string) string {
	suffix := strings.TrimSpace(r.opts.StabilizeSuffix)
	if suffix == "" {
		return effect
	}
	return effect + " " + suffix
}

func (r *Runner) generate(ctx context.Context, instruction string, input []byte, mime string) (*generator.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.GenerateTimeout)
	defer cancel()

	started := time.Now()
	res, err := r.gen.Generate(ctx, generator.Request{Prompt: instruction, Image: input, MIMEType: mime})
	observability.ObserveGeneration(r.gen.Name(), time.Since(started), err)
	return res, err
}

// persist writes the image, then the record. A record failure after a successful
// image write is logged with everything needed to reconcile by hand.
func (r *Runner) persist(ctx context.Context, key, effect string, d reset.Decision, res *generator.Result) (*storage.GenerationRecord, error) {
	log := logger.ForPerson(key)
	at := r.now()

	ref, err := r.images.Put(key, at.In(r.opts.Zone), res.Image, res.MIMEType)
	if err != nil {
		log.Errorf("Failed to store generated image: %v", err)
		return nil, fmt.Errorf("store image: %w", err)
	}

	rec, err := r.records.InsertNext(ctx, &storage.GenerationRecord{
		PersonKey:    key,
		Prompt:       effect,
		ImageRef:     ref,
		ModelVersion: res.ModelVersion,
		ResponseID:   res.ResponseID,
		UsedBase:     d.ForceBase,
		Note:         res.Note,
		ResetReason:  string(d.Reason),
		CreatedAt:    at,
	})
	if err != nil {
		attempted, verr := r.records.NextVersion(ctx, key)
		if verr != nil {
			attempted = -1
		}
		log.WithFields(logrus.Fields{
			"image_ref":         ref,
			"attempted_version": attempted,
			"response_id":       res.ResponseID,
		}).Errorf("Image stored but record write failed, reconcile manually: %v", err)
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}
