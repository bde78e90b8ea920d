package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var historyLimit int
var historyPaths bool

func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <person>",
		Short: "List a person's portrait versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}

	cmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum versions to show (0 for all)")
	cmd.Flags().BoolVar(&historyPaths, "paths", false, "Show absolute image file paths")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context(), configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	key := args[0]
	if _, ok := a.cfg.Person(key); !ok {
		return fmt.Errorf("unknown person %q", key)
	}

	records, err := a.storage.Records.History(cmd.Context(), key, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to query history: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintf(os.Stdout, "No portraits yet for %s\n", key)
		return nil
	}

	fmt.Fprintf(os.Stdout, "Portrait history for %s\n", key)
	fmt.Fprintf(os.Stdout, "================\n\n")

	zone := a.cfg.Location()
	for _, rec := range records {
		origin := "chained"
		if rec.UsedBase {
			origin = "from base"
		}
		fmt.Fprintf(os.Stdout, "v%-4d %s  [%s]\n", rec.Version, rec.CreatedAt.In(zone).Format(time.DateTime), origin)
		fmt.Fprintf(os.Stdout, "      %s\n", truncate(rec.Prompt, 100))
		if historyPaths {
			if p, err := a.storage.Images.Path(rec.ImageRef); err == nil {
				fmt.Fprintf(os.Stdout, "      %s\n", p)
			}
		}
	}
	return nil
}
