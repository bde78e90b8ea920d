package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var regenerateFrom int
var regenerateTo int

func NewRegenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regenerate <person>",
		Short: "Rebuild a range of portrait versions in place",
		Long: "Re-runs the image edit for versions --from..--to, chaining from version --from minus one. " +
			"Version numbers and timestamps are kept; replaced image files are removed.",
		Args: cobra.ExactArgs(1),
		RunE: runRegenerate,
	}

	cmd.Flags().IntVar(&regenerateFrom, "from", 0, "First version to rebuild")
	cmd.Flags().IntVar(&regenerateTo, "to", 0, "Last version to rebuild (default: latest)")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context(), configPath, true)
	if err != nil {
		return err
	}
	defer a.Close()

	key := args[0]
	to := regenerateTo
	if to == 0 {
		latest, err := a.storage.Records.LatestRecord(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("failed to find latest version for %s: %w", key, err)
		}
		to = latest.Version
	}

	fmt.Fprintf(os.Stdout, "Regenerating %s v%d..v%d\n", key, regenerateFrom, to)
	rebuilt, err := a.runner.Regenerate(cmd.Context(), key, regenerateFrom, to)
	for _, rec := range rebuilt {
		fmt.Fprintf(os.Stdout, "  v%d: %s\n", rec.Version, truncate(rec.Prompt, 80))
	}
	if err != nil {
		return fmt.Errorf("regenerated %d version(s) before failing: %w", len(rebuilt), err)
	}
	fmt.Fprintf(os.Stdout, "Done, %d version(s) rebuilt.\n", len(rebuilt))
	return nil
}
