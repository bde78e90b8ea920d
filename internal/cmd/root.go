package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "dorian",
		Short:        "Dorian - a portrait that ages with your screen time",
		Long:         "Watches RescueTime activity and edits each person's portrait once for every block of unproductive minutes.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(NewStartCmd())
	rootCmd.AddCommand(NewTickCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewHistoryCmd())
	rootCmd.AddCommand(NewRegenerateCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewDaemonCmd())

	return rootCmd
}
