package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobsub/internal/batch"
	"jobsub/internal/classify"
	"jobsub/internal/generate"
	"jobsub/internal/jobs"
	"jobsub/internal/manifest"
	"jobsub/internal/runner"
	"jobsub/internal/runset"
	"jobsub/internal/table"
	"jobsub/internal/variant"
)

// prepared holds what every command derives from the common flags.
type prepared struct {
	runs      []runset.RunID
	overrides generate.Overrides
	table     *table.Table
	gen       *generate.Generator
}

// prepare validates the common flags, reads the template and table and
// builds the generator.
func prepare(args []string) (*prepared, error) {
	runs, err := runset.Collect(args)
	if err != nil {
		return nil, &usageError{err: err}
	}

	overrides, err := generate.ParseOverrides(options)
	if err != nil {
		return nil, &usageError{err: err}
	}

	if confFile == "" {
		return nil, usagef("no configuration template given (use -c/--conf-file)")
	}
	tmpl, err := os.ReadFile(confFile)
	if err != nil {
		return nil, fmt.Errorf("configuration template: %w", err)
	}
	logger.Info("using configuration template", zap.String("path", confFile))

	if zeroPad < 0 {
		return nil, usagef("--zfill must not be negative")
	}

	policy, err := variant.ParsePolicy(cfg.MultiValuePolicy)
	if err != nil {
		return nil, err
	}

	tbl, err := table.Load(tableFile, runs, table.Options{
		CommentPrefix: cfg.CommentPrefix,
		SampleSize:    cfg.SniffSampleBytes,
		Report:        rep,
	})
	if err != nil {
		return nil, err
	}

	gen := generate.New(generate.Options{
		Template:  string(tmpl),
		TaskName:  generate.TaskName(confFile),
		Overrides: overrides,
		Table:     tbl,
		Runs:      runs,
		ZeroPad:   zeroPad,
		Policy:    policy,
		Report:    rep,
	})

	return &prepared{runs: runs, overrides: overrides, table: tbl, gen: gen}, nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	p, err := prepare(args)
	if err != nil {
		return err
	}

	opts := jobs.Options{
		Generator: p.gen,
		Subdir:    subdir,
		DryRun:    dryRun,
		Archive:   cfg.ArchiveLogs,
		Report:    rep,
	}
	if lp, ok := p.overrides.Get(generate.KeyLogPath); ok {
		opts.LogPath = lp
	}

	switch {
	case dryRun:
		logger.Info("dry run: configuration files are written but no analysis is started")

	case condorFile != "":
		sub, err := batch.New(batch.Options{
			SubmitCmd:   cfg.SubmitCmd,
			AnalysisCmd: cfg.AnalysisCmd,
			SubmitFile:  condorFile,
			NamePrefix:  cfg.BatchNamePrefix,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		logger.Info("submitting jobs to HTCondor", zap.String("submit_file", sub.SubmitFile()))
		opts.Submitter = sub

	default:
		cls := classify.NewClassifier()
		if err := cls.AddPatternsFromString(cfg.SeverityPatterns); err != nil {
			return fmt.Errorf("SEVERITY_PATTERNS: %w", err)
		}
		r, err := runner.New(runner.Options{
			Command:    cfg.AnalysisCmd,
			LineBuffer: cfg.LineBuffer,
			Timeout:    cfg.AnalysisTimeout,
			Silent:     silent,
			Classifier: cls,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		logger.Info("using analysis executable", zap.String("path", r.Binary()))
		opts.Executor = r
	}

	mf := manifest.NewWriter(cfg.ManifestFile)
	defer mf.Close()
	opts.Manifest = mf

	logger.Info("will now start processing the following runs", zap.String("runs", runset.Join(p.runs)))

	ctx, cancel := jobs.WithSignals(context.Background(), logger)
	defer cancel()

	sum, err := jobs.New(opts).Run(ctx)
	if sum != nil {
		logger.Info("processing finished",
			zap.Int("written", sum.Written),
			zap.Int("submitted", sum.Submitted),
			zap.Int("executed", sum.Executed),
			zap.Int("failed", sum.Failed),
			zap.Int("unresolved", sum.Unresolved),
			zap.Int("archived", sum.Archived))
	}
	rep.Summary()
	if err != nil {
		return err
	}

	if n := rep.Errors(); n > 0 {
		return fmt.Errorf("%d error(s) reported", n)
	}
	return nil
}
