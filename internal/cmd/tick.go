package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dorian/internal/activity"
	"dorian/internal/runner"
)

var tickPeople []string
var tickVerbose bool

func NewTickCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one check-and-maybe-generate pass now",
		Long:  "Runs the same pass the scheduler runs, for everyone or for the people given with --person.",
		RunE:  runTick,
	}

	cmd.Flags().StringSliceVarP(&tickPeople, "person", "p", nil, "Person key to run (repeatable, default all)")
	cmd.Flags().BoolVarP(&tickVerbose, "verbose", "v", false, "Print gate details for every person")

	return cmd
}

func runTick(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context(), configPath, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var outcomes []runner.Outcome
	if len(tickPeople) > 0 {
		outcomes = a.runner.RunMany(cmd.Context(), tickPeople)
	} else {
		outcomes = a.runner.Tick(cmd.Context())
	}

	failed := 0
	for _, out := range outcomes {
		switch out.Status {
		case runner.StatusGenerated:
			fmt.Fprintf(os.Stdout, "%-12s generated v%d (%s)\n", out.Person, out.Version, out.Reason)
		case runner.StatusSkipped:
			fmt.Fprintf(os.Stdout, "%-12s skipped\n", out.Person)
		default:
			failed++
			fmt.Fprintf(os.Stderr, "%-12s FAILED: %v\n", out.Person, out.Err)
		}
		if tickVerbose && out.Status != runner.StatusFailed {
			fmt.Fprintf(os.Stdout, "             unproductive=%.1fm expected=%d next=%dm elapsed=%s\n",
				activity.RoundMinutes(out.UnproductiveMinutes), out.Gate.ExpectedCount,
				out.Gate.NextThresholdMinutes, out.Elapsed.Round(time.Millisecond))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(outcomes))
	}
	return nil
}
