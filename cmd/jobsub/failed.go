package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobsub/internal/manifest"
)

var failedCmd = &cobra.Command{
	Use:   "failed [manifest]",
	Short: "Print the runs with failed jobs from a manifest as a run selector",
	Long: `Failed reads a job manifest (MANIFEST_FILE or the given file) and prints the
runs that have a job whose latest entry did not succeed, as one comma
separated selector that can be passed back to jobsub.`,
	Example: `  jobsub -c analysis.conf --csv-file runs.csv $(jobsub failed manifest.jsonl)`,
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.ManifestFile
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return usagef("no manifest given (argument or MANIFEST_FILE)")
		}

		entries, err := manifest.Read(path)
		if err != nil {
			return fmt.Errorf("reading manifest: %w", err)
		}

		runs := manifest.FailedRuns(entries)
		logger.Debug("read manifest", zap.String("path", path),
			zap.Int("entries", len(entries)), zap.Int("failed_runs", len(runs)))
		if len(runs) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(runs, ","))
		}
		return nil
	},
}
