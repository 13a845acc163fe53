package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "schedd",
	Short: "schedd - timed callback scheduler daemon",
	Long: `schedd hosts an in-process timed-callback scheduler.

Tasks declared in the config file fire after their delay and are rescheduled
by policy (fixed interval or task-chosen next delay) until their retry budget
runs out. Lifecycle events can be journaled to a file or SQLite database.

Examples:
  schedd run -c schedd.yaml          # Start the daemon
  schedd validate -c schedd.yaml     # Check a config without starting
  schedd journal -c schedd.yaml -n 20`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "./schedd.yaml", "path to config file (json or yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(journalCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
