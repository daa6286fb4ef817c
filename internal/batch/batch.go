// Package batch submits analysis jobs to HTCondor through condor_submit.
package batch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"jobsub/internal/util"
)

// ErrSubmitFile is returned when the submit parameter file does not exist.
var ErrSubmitFile = errors.New("HTCondor submission parameters file not found")

// Options configures a Submitter.
type Options struct {
	// SubmitCmd is the submission program, condor_submit by default.
	SubmitCmd string

	// AnalysisCmd names the executable the batch job runs.
	AnalysisCmd string

	// SubmitFile is the condor_submit parameter file.
	SubmitFile string

	// NamePrefix is prepended to the job name to form the batch name.
	NamePrefix string

	Logger *zap.Logger
}

// Submitter builds and executes condor_submit calls.
type Submitter struct {
	opts     Options
	submit   string
	analysis string
	subFile  string
}

// New checks the submit file and locates both executables.
func New(opts Options) (*Submitter, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SubmitCmd == "" {
		opts.SubmitCmd = "condor_submit"
	}

	subFile, err := filepath.Abs(opts.SubmitFile)
	if err != nil {
		return nil, fmt.Errorf("resolving submit file: %w", err)
	}
	if info, err := os.Stat(subFile); err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: '%s'", ErrSubmitFile, subFile)
	}

	submit, err := util.FindCommand(opts.SubmitCmd)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("found submit executable", zap.String("path", submit))

	prog, _, err := util.SplitCommand(opts.AnalysisCmd)
	if err != nil {
		return nil, fmt.Errorf("analysis command: %w", err)
	}
	analysis, err := util.FindCommand(prog)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("found analysis executable", zap.String("path", analysis))

	return &Submitter{opts: opts, submit: submit, analysis: analysis, subFile: subFile}, nil
}

// SubmitFile returns the absolute submit parameter file.
func (s *Submitter) SubmitFile() string {
	return s.subFile
}

// Args returns the condor_submit command line for one job.
func (s *Submitter) Args(name, confPath string) ([]string, error) {
	conf, err := filepath.Abs(confPath)
	if err != nil {
		return nil, err
	}
	return []string{
		s.submit,
		"-batch-name", s.opts.NamePrefix + name,
		"executable=" + s.analysis,
		"arguments=-c " + conf,
		s.subFile,
	}, nil
}

// Submit runs condor_submit for one job from the configuration's directory.
// The submission output is logged line by line.
func (s *Submitter) Submit(ctx context.Context, name, confPath string) error {
	log := s.opts.Logger.Named(name)

	args, err := s.Args(name, confPath)
	if err != nil {
		return err
	}

	log.Info("now submitting job to HTCondor", zap.String("conf", filepath.Base(confPath)))
	log.Debug("executing", zap.Strings("command", args))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = filepath.Dir(confPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()

	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			log.Debug(line)
		}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return fmt.Errorf("HTCondor submission returned with error code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("problem with HTCondor submission: %w", runErr)
	}
	return nil
}
