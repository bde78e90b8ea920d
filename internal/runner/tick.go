package runner

import (
	"context"
	"fmt"
	"runtime/debug"

	"dorian/internal/logger"
)

type tickJob struct {
	index int
	key   string
}

type tickResult struct {
	index   int
	outcome Outcome
}

// Tick runs every configured person through a bounded worker pool and waits for
// all of them. One person's failure or panic never stops the others.
func (r *Runner) Tick(ctx context.Context) []Outcome {
	return r.RunMany(ctx, r.order)
}

// RunMany is Tick over an explicit list of person keys. Outcomes keep the order
// of keys.
func (r *Runner) RunMany(ctx context.Context, keys []string) []Outcome {
	if len(keys) == 0 {
		return nil
	}

	workerCount := r.opts.Workers
	if workerCount > len(keys) {
		workerCount = len(keys)
	}

	jobs := make(chan tickJob, len(keys))
	results := make(chan tickResult, len(keys))

	for w := 0; w < workerCount; w++ {
		go r.tickWorker(ctx, jobs, results)
	}
	for i, key := range keys {
		jobs <- tickJob{index: i, key: key}
	}
	close(jobs)

	outcomes := make([]Outcome, len(keys))
	var generated, skipped, failedCount int
	for i := 0; i < len(keys); i++ {
		res := <-results
		outcomes[res.index] = res.outcome
		switch res.outcome.Status {
		case StatusGenerated:
			generated++
		case StatusSkipped:
			skipped++
		default:
			failedCount++
		}
	}

	logger.GetLogger().Infof("Tick completed for %d people: %d generated, %d skipped, %d failed",
		len(keys), generated, skipped, failedCount)
	return outcomes
}

func (r *Runner) tickWorker(ctx context.Context, jobs <-chan tickJob, results chan<- tickResult) {
	for job := range jobs {
		results <- tickResult{index: job.index, outcome: r.safeRun(ctx, job.key)}
	}
}

func (r *Runner) safeRun(ctx context.Context, key string) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			logger.ForPerson(key).Errorf("Run panicked: %v\n%s", p, debug.Stack())
			out = Outcome{Person: key, Status: StatusFailed, Err: fmt.Errorf("run panicked: %v", p)}
		}
	}()
	return r.Run(ctx, key)
}
