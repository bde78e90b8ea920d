package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dorian/internal/config"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE:  runConfig,
	}
	return cmd
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Configuration\n")
	fmt.Fprintf(os.Stdout, "=============\n\n")
	fmt.Fprintf(os.Stdout, "Timezone: %s\n", cfg.Timezone)
	if cfg.TrackingStartDate != "" {
		fmt.Fprintf(os.Stdout, "Tracking Start: %s\n", cfg.TrackingStartDate)
	}
	fmt.Fprintf(os.Stdout, "Reset: %s (weekday %d)\n", cfg.Reset.Mode, cfg.Reset.Weekday)
	fmt.Fprintf(os.Stdout, "Increment: %d minutes\n", cfg.Threshold.IncrementMinutes)

	fmt.Fprintf(os.Stdout, "\nPrompts:\n")
	fmt.Fprintf(os.Stdout, "  Pool: %d prompts (%s)\n", len(cfg.Prompt.Pool), cfg.Prompt.PoolPath)
	fmt.Fprintf(os.Stdout, "  Avoid Last: %d\n", cfg.Prompt.AvoidLastN)

	fmt.Fprintf(os.Stdout, "\nGenerator:\n")
	fmt.Fprintf(os.Stdout, "  Provider: %s\n", cfg.Generator.Provider)
	fmt.Fprintf(os.Stdout, "  Model: %s\n", orDefault(cfg.Generator.Model))
	fmt.Fprintf(os.Stdout, "  Timeout: %s\n", cfg.Generator.Timeout)
	fmt.Fprintf(os.Stdout, "  API Key: %s\n", maskAPIKey(cfg.Generator.APIKey))

	fmt.Fprintf(os.Stdout, "\nPeople:\n")
	for _, p := range cfg.People {
		fmt.Fprintf(os.Stdout, "  %s\n", p.Key)
		fmt.Fprintf(os.Stdout, "    Base Image: %s\n", p.BaseImage)
		fmt.Fprintf(os.Stdout, "    RescueTime Key: %s\n", maskAPIKey(p.APIKey))
	}

	fmt.Fprintf(os.Stdout, "\nSchedule:\n")
	fmt.Fprintf(os.Stdout, "  Interval: %s\n", cfg.Schedule.Interval)
	fmt.Fprintf(os.Stdout, "  Cron: %s\n", cfg.Schedule.Cron)
	fmt.Fprintf(os.Stdout, "  Workers: %d\n", cfg.Schedule.Workers)

	fmt.Fprintf(os.Stdout, "\nStorage:\n")
	fmt.Fprintf(os.Stdout, "  DB Path: %s\n", cfg.Storage.DBPath)
	fmt.Fprintf(os.Stdout, "  Images Path: %s\n", cfg.Storage.ImagesPath)
	fmt.Fprintf(os.Stdout, "  Log Path: %s\n", cfg.Storage.LogPath)

	fmt.Fprintf(os.Stdout, "\nServer:\n")
	fmt.Fprintf(os.Stdout, "  Enabled: %v\n", cfg.Server.Enabled)
	fmt.Fprintf(os.Stdout, "  Addr: %s\n", cfg.Server.Addr)
	fmt.Fprintf(os.Stdout, "  Cron Secret: %s\n", maskAPIKey(cfg.Server.CronSecret))
	fmt.Fprintf(os.Stdout, "  Rate Limit: %s\n", cfg.Server.RateLimit)
	fmt.Fprintf(os.Stdout, "  Trust Proxy: %v\n", cfg.Server.TrustProxy)

	fmt.Fprintf(os.Stdout, "\nCache:\n")
	fmt.Fprintf(os.Stdout, "  Redis: %s\n", orDefault(cfg.Cache.RedisAddr))
	fmt.Fprintf(os.Stdout, "  TTL: %s\n", cfg.Cache.TTL)

	return nil
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

func maskAPIKey(key string) string {
	if len(key) == 0 {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
