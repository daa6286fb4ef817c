// Package main provides the jobsub CLI entry point.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"jobsub/internal/config"
	"jobsub/internal/logging"
	"jobsub/internal/report"
)

var (
	// Version is set at build time
	Version = "dev"

	// Job flags
	confFile     string
	options      []string
	condorFile   string
	tableFile    string
	dryRun       bool
	subdir       bool
	silent       bool
	zeroPad      int
	manifestFile string

	// Logging flags
	logFile   string
	verbosity string
	plain     bool

	// Tool settings
	settingsFile string
	settings     []string

	// Set up by PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
	rep    *report.Collector
)

// Exit codes.
const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

// usageError marks a problem with the command line.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the command line and maps the outcome to an exit code.
func execute(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var ue *usageError
	if errors.As(err, &ue) {
		fmt.Fprintln(os.Stderr, "Run 'jobsub --help' for usage.")
		return exitUsage
	}
	return exitFatal
}

var rootCmd = &cobra.Command{
	Use:   "jobsub [flags] <runs...>",
	Short: "Run specific configuration generation and analysis submission",
	Long: `jobsub fills the @key@ placeholders of an analysis configuration template
with run specific values and runs the analysis (or submits it to HTCondor)
once per generated configuration.

Values come from --option NAME=VALUE pairs and from a parameter table
(--csv-file) with a RunNumber column. Table cells such as {10,20,30} or
{1-3} produce one configuration per value.

Runs can be single numbers and/or ranges, e.g. 1056-1060,1070.`,
	Example: `  jobsub -c align.conf --csv-file runs.csv 1056-1060
  jobsub -c analysis.conf -o beamenergy=5.3 --dry-run --subdir 42 43
  jobsub -c analysis.conf --batch corry.sub --zfill 6 100-120`,
	Version:       Version,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.Options{Level: verbosity, Plain: plain, File: logFile})
		if err != nil {
			if errors.Is(err, logging.ErrLevel) {
				return &usageError{err: err}
			}
			return err
		}

		cfg, err = config.Load(settingsFile)
		if err != nil {
			return err
		}
		if cfg.Path() != "" {
			logger.Debug("loaded settings", zap.String("path", cfg.Path()))
		}
		for _, kv := range settings {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || !cfg.Set(key, value) {
				return usagef("invalid setting '%s' (known keys: %s)", kv, strings.Join(config.Keys, ", "))
			}
		}
		for _, w := range cfg.Validate() {
			logger.Warn("invalid setting", zap.String("problem", w))
		}
		if manifestFile != "" {
			cfg.ManifestFile = manifestFile
		}

		rep = report.New(logger)
		logger.Debug("command line arguments", zap.Strings("args", os.Args[1:]))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runJobs,
}

// normalizeFlags maps the historical long option names onto the current ones.
func normalizeFlags(f *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "config":
		name = "conf-file"
	case "batch", "htc":
		name = "htcondor-file"
	case "csv":
		name = "csv-file"
	}
	return pflag.NormalizedName(name)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&confFile, "conf-file", "c", "", "configuration template with all analysis modules defined (alias --config)")
	pf.StringArrayVarP(&options, "option", "o", nil, "further options such as 'beamenergy=5.3'; repeatable, or a comma separated list")
	pf.StringVar(&tableFile, "csv-file", "", "load run specific variables from a table (delimited text with a RunNumber column)")
	pf.IntVar(&zeroPad, "zfill", 0, "fill run numbers with zeros up to N digits")
	pf.StringVar(&logFile, "log-file", "", "also write the submission log to FILE")
	pf.StringVarP(&verbosity, "verbosity", "v", "info", "log level: debug, info, warning or error")
	pf.BoolVar(&plain, "plain", false, "log without time stamps and level prefixes")
	pf.StringVar(&settingsFile, "settings", "", "jobsub settings file (KEY=VALUE or YAML)")
	pf.StringArrayVar(&settings, "set", nil, "override one setting, e.g. 'ANALYSIS_TIMEOUT=3600'; repeatable")

	f := rootCmd.Flags()
	f.StringVar(&condorFile, "htcondor-file", "", "submit through condor_submit using this parameter file (alias --batch)")
	f.BoolVarP(&silent, "silent", "s", false, "suppress non-error analysis output on the console")
	f.BoolVar(&dryRun, "dry-run", false, "write configuration files but skip analysis execution")
	f.BoolVar(&subdir, "subdir", false, "run every job in its own run_<run> subdirectory")
	f.StringVar(&manifestFile, "manifest", "", "append one JSON line per job to FILE")

	rootCmd.SetGlobalNormalizationFunc(normalizeFlags)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(failedCmd)
}
