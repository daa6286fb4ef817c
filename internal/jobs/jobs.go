// Package jobs turns generated configurations into written files and
// analysis jobs: executed locally, submitted to the batch system, or only
// written in a dry run.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"jobsub/internal/archive"
	"jobsub/internal/generate"
	"jobsub/internal/lock"
	"jobsub/internal/manifest"
	"jobsub/internal/report"
	"jobsub/internal/runner"
)

// ErrInterrupted is returned when processing stopped on a signal.
var ErrInterrupted = errors.New("stopped processing remaining runs")

// Executor runs the analysis on one configuration file.
type Executor interface {
	Run(ctx context.Context, name, confPath string) (*runner.Result, error)
}

// Submitter hands one configuration file to the batch system.
type Submitter interface {
	Submit(ctx context.Context, name, confPath string) error
}

// Options configures a Pipeline.
type Options struct {
	Generator *generate.Generator

	// Dir is the base directory for written files. Defaults to ".".
	Dir string

	// Subdir places each job in Dir/run_<run>.
	Subdir bool

	// DryRun only writes configuration files.
	DryRun bool

	// Submitter selects batch submission. Otherwise Executor runs jobs.
	Submitter Submitter
	Executor  Executor

	// Archive zips configuration and log after execution into LogPath,
	// which is relative to the job directory unless absolute.
	Archive bool
	LogPath string

	Manifest *manifest.Writer
	Report   *report.Collector
}

// Summary counts what a pipeline run did.
type Summary struct {
	Written    int
	Submitted  int
	Executed   int
	Failed     int
	Unresolved int
	Archived   int
}

// Pipeline processes every configuration of a generator in order.
type Pipeline struct {
	opts Options
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.LogPath == "" {
		opts.LogPath = "."
	}
	return &Pipeline{opts: opts}
}

// Mode returns how jobs are handled.
func (p *Pipeline) Mode() manifest.Mode {
	switch {
	case p.opts.DryRun:
		return manifest.ModeDryRun
	case p.opts.Submitter != nil:
		return manifest.ModeSubmit
	}
	return manifest.ModeRun
}

// Run processes all configurations. Cancelling ctx stops processing before
// the next run; a job that is already running is left to finish, since an
// interrupt from the terminal reaches it directly.
//
// Per-job failures are reported and counted; the returned error is set only
// when processing could not continue.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if p.Mode() == manifest.ModeRun && p.opts.Executor == nil {
		return nil, fmt.Errorf("no analysis executor configured")
	}

	rep := p.opts.Report
	sum := &Summary{}
	jobCtx := context.WithoutCancel(ctx)

	for v, err := range p.opts.Generator.Variants(ctx) {
		if err != nil {
			var unresolved *generate.UnresolvedError
			if errors.As(err, &unresolved) {
				sum.Unresolved++
				rep.Error("missing configuration parameters",
					zap.String("job", unresolved.Name), zap.Strings("placeholders", unresolved.Placeholders))
				p.record(v, "", manifest.StatusError, nil, 0, "", err)
				continue
			}
			if ctx.Err() != nil {
				rep.Error("stopping to process remaining runs now")
				return sum, fmt.Errorf("%w: %w", ErrInterrupted, err)
			}
			return sum, err
		}

		p.process(jobCtx, v, sum)
	}
	return sum, nil
}

func (p *Pipeline) process(ctx context.Context, v *generate.Variant, sum *Summary) {
	rep := p.opts.Report
	log := rep.Logger().Named(v.Name)

	dir := p.opts.Dir
	if p.opts.Subdir {
		dir = filepath.Join(dir, "run_"+v.RunLabel)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		sum.Failed++
		rep.Error("could not create job directory", zap.String("job", v.Name), zap.Error(err))
		p.record(v, "", manifest.StatusError, nil, 0, "", err)
		return
	}

	lk := lock.New(filepath.Join(dir, v.Name))
	if err := lk.TryAcquire(); err != nil {
		sum.Failed++
		rep.Error("job files are in use", zap.String("job", v.Name), zap.Error(err))
		p.record(v, "", manifest.StatusError, nil, 0, "", err)
		return
	}
	defer func() {
		if err := lk.Release(); err != nil {
			log.Warn("could not remove job lock", zap.String("lock", lk.Path()), zap.Error(err))
		}
	}()

	conf, err := write(dir, v)
	if err != nil {
		sum.Failed++
		rep.Error("could not write configuration file", zap.String("job", v.Name), zap.Error(err))
		p.record(v, conf, manifest.StatusError, nil, 0, "", err)
		return
	}
	sum.Written++
	log.Info("configuration written", zap.String("conf", conf))

	switch p.Mode() {
	case manifest.ModeDryRun:
		log.Info("dry run: skipping analysis execution")
		p.record(v, conf, manifest.StatusOK, nil, 0, "", nil)

	case manifest.ModeSubmit:
		if err := p.opts.Submitter.Submit(ctx, v.Name, conf); err != nil {
			sum.Failed++
			rep.Error("HTCondor submission failed", zap.String("job", v.Name), zap.Error(err))
			p.record(v, conf, manifest.StatusError, nil, 0, "", err)
			return
		}
		sum.Submitted++
		log.Info("HTCondor job submitted")
		p.record(v, conf, manifest.StatusOK, nil, 0, "", nil)

	case manifest.ModeRun:
		p.execute(ctx, log, dir, conf, v, sum)
	}
}

func (p *Pipeline) execute(ctx context.Context, log *zap.Logger, dir, conf string, v *generate.Variant, sum *Summary) {
	rep := p.opts.Report

	res, err := p.opts.Executor.Run(ctx, v.Name, conf)
	if err != nil {
		sum.Failed++
		rep.Error("problem with analysis execution", zap.String("job", v.Name), zap.Error(err))
		p.record(v, conf, manifest.StatusError, nil, 0, "", err)
		return
	}
	sum.Executed++

	status := manifest.StatusOK
	var runErr error
	if res.Failed() {
		sum.Failed++
		status = manifest.StatusFailed
		if res.Timeout {
			runErr = fmt.Errorf("timed out: %s", res.LastError)
			rep.Error("analysis timed out", zap.String("job", v.Name))
		} else {
			runErr = fmt.Errorf("exit code %d: %s", res.ExitCode, res.LastError)
			rep.Error("analysis returned with error code", zap.String("job", v.Name), zap.Int("exit_code", res.ExitCode))
		}
	} else {
		log.Info("analysis execution done")
	}

	zipPath := ""
	if p.opts.Archive {
		out, err := archive.Logs(dir, p.opts.LogPath, v.Name, log)
		if err != nil {
			rep.Error("input/output error", zap.String("job", v.Name), zap.Error(err))
		} else {
			sum.Archived++
			zipPath = out.Path
		}
	}

	p.record(v, conf, status, &res.ExitCode, res.Duration, zipPath, runErr)
}

// write stores the variant text as <dir>/<name>.conf.
func write(dir string, v *generate.Variant) (string, error) {
	conf := filepath.Join(dir, v.Name+".conf")
	if err := os.WriteFile(conf, []byte(v.Text), 0644); err != nil {
		return conf, err
	}
	return conf, nil
}

func (p *Pipeline) record(v *generate.Variant, conf string, status manifest.Status, exit *int, d time.Duration, zipPath string, err error) {
	if !p.opts.Manifest.Enabled() || v == nil {
		return
	}

	e := &manifest.Entry{
		Name:     v.Name,
		Run:      v.RunLabel,
		Row:      v.Row,
		Variant:  v.Index,
		Conf:     conf,
		Mode:     p.Mode(),
		Status:   status,
		Duration: d.Seconds(),
		Archive:  zipPath,
	}
	if exit != nil {
		e.ExitCode = manifest.IntPtr(*exit)
	}
	if err != nil {
		e.Error = err.Error()
	}
	for _, b := range v.Bindings {
		if b.Field == "" {
			continue
		}
		if e.Params == nil {
			e.Params = make(map[string]string)
		}
		e.Params[b.Field] = b.Value
	}

	if werr := p.opts.Manifest.Write(e); werr != nil {
		p.opts.Report.Warn("could not write manifest entry", zap.Error(werr))
	}
}

// WithSignals returns a context cancelled on SIGINT or SIGTERM. After the
// first signal the default handling is restored.
func WithSignals(ctx context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Error("received interrupt signal", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
