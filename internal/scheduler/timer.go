package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dorian/internal/logger"
)

// Task is one scheduled tick. Overlapping ticks are skipped, never queued.
type Task func(ctx context.Context) error

type Scheduler interface {
	Start(ctx context.Context, task Task) error
	Stop() error
}

type FixedRateScheduler struct {
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	wg       sync.WaitGroup

	// mu orders launching a tick against Stop, so no tick starts after Stop returns.
	mu      sync.Mutex
	stopped bool
}

func NewFixedRateScheduler(interval time.Duration) *FixedRateScheduler {
	return &FixedRateScheduler{
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (s *FixedRateScheduler) Start(ctx context.Context, task Task) error {
	if s.interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", s.interval)
	}
	s.ticker = time.NewTicker(s.interval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				if !s.running.CompareAndSwap(false, true) {
					logger.GetLogger().Warn("Previous tick still running, skipping")
					continue
				}
				if !s.launch() {
					s.running.Store(false)
					return
				}
				go func() {
					defer s.wg.Done()
					defer s.running.Store(false)
					if err := task(ctx); err != nil {
						logger.GetLogger().Errorf("Scheduled task execution failed: %v", err)
					}
				}()
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}()

	return nil
}

// launch registers a tick with the wait group unless Stop has begun.
func (s *FixedRateScheduler) launch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// Stop halts the ticker and waits for an in-flight tick.
func (s *FixedRateScheduler) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

type CronScheduler struct {
	spec  string
	cron  *cron.Cron
	entry cron.EntryID
}

// NewCronScheduler accepts five-field specs and six-field specs with seconds,
// plus descriptors such as @hourly. Specs are evaluated in loc.
func NewCronScheduler(spec string, loc *time.Location) (*CronScheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid cron spec: %w", err)
	}
	cronLogger := cron.PrintfLogger(logger.GetLogger())
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &CronScheduler{
		spec: spec,
		cron: c,
	}, nil
}

func (s *CronScheduler) Start(ctx context.Context, task Task) error {
	entryID, err := s.cron.AddFunc(s.spec, func() {
		if err := task(ctx); err != nil {
			logger.GetLogger().Errorf("Scheduled task execution failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec: %w", err)
	}

	s.entry = entryID
	s.cron.Start()
	return nil
}

// Next reports the next activation, zero before Start.
func (s *CronScheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop halts the cron and waits for a running job to finish.
func (s *CronScheduler) Stop() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return nil
}

// NewScheduler prefers cronSpec over interval.
func NewScheduler(interval, cronSpec string, loc *time.Location) (Scheduler, error) {
	if cronSpec != "" {
		return NewCronScheduler(cronSpec, loc)
	}

	if interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid interval: %w", err)
		}
		return NewFixedRateScheduler(duration), nil
	}

	return nil, fmt.Errorf("either interval or cron must be specified")
}
