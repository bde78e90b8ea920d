package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dorian/internal/api"
	"dorian/internal/logger"
	"dorian/internal/runner"
	"dorian/internal/scheduler"
)

var startNoInitialTick bool

func NewStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the tick scheduler and, if enabled, the HTTP API",
		RunE:  runStart,
	}
	cmd.Flags().BoolVar(&startNoInitialTick, "no-initial-tick", false, "Do not tick once on startup")
	return cmd
}

// tickTask adapts Runner.Tick to a scheduler task; failed people are joined
// into the task error so the scheduler logs them.
func tickTask(r *runner.Runner) scheduler.Task {
	return func(ctx context.Context) error {
		var errs []error
		for _, out := range r.Tick(ctx) {
			if out.Status == runner.StatusFailed {
				errs = append(errs, fmt.Errorf("%s: %w", out.Person, out.Err))
			}
		}
		return errors.Join(errs...)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := bootstrap(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	log := logger.GetLogger()

	sched, err := scheduler.NewScheduler(cfg.Schedule.Interval, cfg.Schedule.Cron, cfg.Location())
	if err != nil {
		return fmt.Errorf("failed to create tick scheduler: %w", err)
	}
	task := tickTask(a.runner)
	if err := sched.Start(ctx, task); err != nil {
		return fmt.Errorf("failed to start tick scheduler: %w", err)
	}

	var srv *http.Server
	if cfg.Server.Enabled {
		handler, err := api.NewHandler(api.Config{
			CronSecret:     cfg.Server.CronSecret,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RateLimit:      cfg.Server.RateLimit,
			PublicBaseURL:  cfg.Server.PublicBaseURL,
			TrustProxy:     cfg.Server.TrustProxy,
			RedisClient:    a.redis,
		}, a.runner, a.storage.Records, a.storage.Images)
		if err != nil {
			_ = sched.Stop()
			return fmt.Errorf("failed to build http handler: %w", err)
		}
		srv = api.NewServer(api.ServerConfig{
			Address:      cfg.Server.Addr,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, handler)
		go func() {
			log.Infof("HTTP API listening on %s", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("HTTP server stopped: %v", err)
				cancel()
			}
		}()
	}

	if !startNoInitialTick {
		log.Info("Executing initial tick on startup...")
		if err := task(ctx); err != nil {
			log.Warnf("Initial tick had failures: %v", err)
		} else {
			log.Info("Initial tick completed.")
		}
	}

	log.Infof("Dorian started for %d people (interval: %s, cron: %q). Press Ctrl+C to stop.",
		len(cfg.People), cfg.Schedule.Interval, cfg.Schedule.Cron)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	log.Info("Stopping...")
	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("HTTP shutdown: %v", err)
		}
	}
	if err := sched.Stop(); err != nil {
		return fmt.Errorf("failed to stop tick scheduler: %w", err)
	}
	log.Info("Stopped.")
	return nil
}
