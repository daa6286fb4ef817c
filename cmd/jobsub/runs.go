package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"jobsub/internal/runset"
)

var runsCmd = &cobra.Command{
	Use:   "runs <runs...>",
	Short: "Print the runs selected by the given run selectors",
	Example: `  jobsub runs 1056-1060,1070
  jobsub runs --zfill 6 42 43`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := runset.Collect(args)
		if err != nil {
			return &usageError{err: err}
		}
		if zeroPad < 0 {
			return usagef("--zfill must not be negative")
		}
		for _, r := range runs {
			fmt.Fprintln(cmd.OutOrStdout(), r.Pad(zeroPad))
		}
		return nil
	},
}
