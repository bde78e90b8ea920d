package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dorian/internal/activity"
)

var statusJSON bool

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [person...]",
		Short: "Show unproductive time and portrait progress per person",
		RunE:  runStatus,
	}
	cmd.Flags().BoolVar(&statusJSON, "json", false, "Print the progress snapshots as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context(), configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	keys := args
	if len(keys) == 0 {
		keys = a.runner.People()
	}

	if !statusJSON {
		fmt.Fprintf(os.Stdout, "Dorian Status (%s, reset %s)\n", a.cfg.Timezone, a.cfg.Reset.Mode)
		fmt.Fprintf(os.Stdout, "================\n\n")
	}

	for _, key := range keys {
		p, err := a.runner.Progress(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(p); err != nil {
				return err
			}
			continue
		}

		fmt.Fprintf(os.Stdout, "%s\n", p.Person)
		fmt.Fprintf(os.Stdout, "  Period start:        %s\n", p.PeriodStart.Format(time.RFC1123))
		fmt.Fprintf(os.Stdout, "  Unproductive:        %.1f min (all time %.1f min)\n",
			activity.RoundMinutes(p.UnproductiveMinutes), activity.RoundMinutes(p.TotalUnproductiveMinutes))
		fmt.Fprintf(os.Stdout, "  Portraits:           %d of %d expected\n", p.CurrentImageCount, p.ExpectedImageCount)
		fmt.Fprintf(os.Stdout, "  Next portrait at:    %d min\n", p.NextThreshold)
		if p.MostRecentUnproductiveActivity != nil {
			fmt.Fprintf(os.Stdout, "  Last distraction:    %s\n", truncate(p.MostRecentUnproductiveActivity.Activity, 60))
		}
		fmt.Fprintln(os.Stdout)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
