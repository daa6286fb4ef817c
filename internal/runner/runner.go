// Package runner executes the analysis program on a generated configuration
// and captures its output.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jobsub/internal/classify"
	"jobsub/internal/util"
)

// HeaderLayout formats the start time written at the top of every log file.
const HeaderLayout = "Monday, 02. January 2006 03:04PM"

// Options configures a Runner.
type Options struct {
	// Command is the analysis program, optionally followed by fixed arguments.
	Command string

	// LineBuffer prefixes the command with "stdbuf -oL" when stdbuf exists.
	LineBuffer bool

	// Timeout kills a run after this long. Zero disables it.
	Timeout time.Duration

	// Silent suppresses console output of non-error lines. The log file
	// always receives everything.
	Silent bool

	Classifier *classify.Classifier
	Logger     *zap.Logger
}

// Result describes one finished analysis run.
type Result struct {
	Args     []string
	LogPath  string
	ExitCode int
	Duration time.Duration

	// Lines, Warnings and Errors count the output lines by severity.
	Lines    int
	Warnings int
	Errors   int

	// LastError summarises a failed run: its last error line, or the last
	// line of output.
	LastError string

	// Timeout is set when the run was killed for exceeding Options.Timeout.
	Timeout bool
}

// Failed reports whether the run did not finish cleanly.
func (r *Result) Failed() bool {
	return r.Timeout || r.ExitCode != 0
}

// Runner runs the analysis program.
type Runner struct {
	opts   Options
	binary string
	prefix []string
	args   []string
}

// New locates the analysis program (and stdbuf, when line buffering is
// enabled). A missing analysis program is an error.
func New(opts Options) (*Runner, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.NewClassifier()
	}

	prog, args, err := util.SplitCommand(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("analysis command: %w", err)
	}
	binary, err := util.FindCommand(prog)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("found analysis executable", zap.String("path", binary))

	r := &Runner{opts: opts, binary: binary, args: args}
	if opts.LineBuffer {
		if stdbuf, err := util.FindCommand("stdbuf"); err == nil {
			opts.Logger.Debug("found stdbuf, will use line buffered output")
			r.prefix = []string{stdbuf, "-oL"}
		}
	}
	return r, nil
}

// Binary returns the resolved analysis program path.
func (r *Runner) Binary() string {
	return r.binary
}

// Command returns the full argument list used for confPath. The analysis
// runs inside the configuration's directory, so only its base name is passed.
func (r *Runner) Command(confPath string) []string {
	out := append([]string{}, r.prefix...)
	out = append(out, r.binary)
	out = append(out, r.args...)
	return append(out, "-c", filepath.Base(confPath))
}

// LogPath returns the log file written next to confPath.
func LogPath(confPath string) string {
	return strings.TrimSuffix(confPath, ".conf") + ".log"
}

// Run executes the analysis for confPath, streaming stdout and stderr line by
// line to the job logger and to the log file. A non-zero exit code is
// reported in the Result, not as an error; errors mean the run could not be
// carried out or ctx was cancelled.
func (r *Runner) Run(ctx context.Context, name, confPath string) (*Result, error) {
	log := r.opts.Logger.Named(name)
	start := time.Now()

	res := &Result{Args: r.Command(confPath), LogPath: LogPath(confPath)}

	logFile, err := os.Create(res.LogPath)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}
	defer logFile.Close()

	header := fmt.Sprintf("---=== Analysis started on %s ===---\n\n", start.Format(HeaderLayout))
	if _, err := io.WriteString(logFile, header); err != nil {
		return nil, fmt.Errorf("writing log file: %w", err)
	}

	runCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, res.Args[0], res.Args[1:]...)
	cmd.Dir = filepath.Dir(confPath)
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	log.Info("starting process", zap.Strings("command", res.Args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("problem with analysis execution: command '%s': %w",
			strings.Join(res.Args, " "), err)
	}

	s := &stream{runner: r, log: log, file: logFile, res: res}
	var g errgroup.Group
	g.Go(func() error { return s.read(stdout) })
	g.Go(func() error { return s.read(stderr) })
	readErr := g.Wait()
	waitErr := cmd.Wait()

	res.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.Timeout = true
		res.ExitCode = -1
		res.LastError = r.opts.Classifier.ExtractErrorMessage(s.tailText(), 200)
		log.Error("analysis timed out", zap.Duration("timeout", r.opts.Timeout))
		return res, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("waiting for analysis: %w", waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	if readErr != nil {
		return res, fmt.Errorf("reading analysis output: %w", readErr)
	}

	fields := []zap.Field{
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration.Round(time.Millisecond)),
		zap.Int("lines", res.Lines),
	}
	if info, err := logFile.Stat(); err == nil {
		fields = append(fields, zap.String("log_size", humanize.Bytes(uint64(info.Size()))))
	}
	if res.ExitCode != 0 {
		res.LastError = r.opts.Classifier.ExtractErrorMessage(s.tailText(), 200)
		log.Error("analysis failed", append(fields, zap.String("last_error", res.LastError))...)
	} else {
		log.Info("analysis finished", fields...)
	}
	return res, nil
}

// maxLineBytes is the longest output line kept; the rest is replaced by
// truncatedMark.
const maxLineBytes = 4 * 1024 * 1024

const truncatedMark = " [line truncated]"

// tailLines is the number of trailing output lines kept for error summaries.
const tailLines = 20

// stream fans the output of both pipes into the log file and the logger.
type stream struct {
	runner *Runner
	log    *zap.Logger
	file   io.Writer

	mu   sync.Mutex
	res  *Result
	tail []string
}

// read consumes r line by line until EOF. Lines longer than maxLineBytes
// are cut off. r is drained after an error so the child never blocks on a
// full pipe.
func (s *stream) read(r io.Reader) error {
	defer func() { _, _ = io.Copy(io.Discard, r) }()

	br := bufio.NewReaderSize(r, 64*1024)
	var (
		buf       []byte
		truncated bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if room := maxLineBytes - len(buf); len(chunk) > room {
			chunk = chunk[:room]
			truncated = true
		}
		buf = append(buf, chunk...)

		if err != nil {
			if err == io.EOF {
				if len(buf) > 0 {
					return s.line(s.text(buf, truncated))
				}
				return nil
			}
			return err
		}
		if isPrefix {
			continue
		}
		if err := s.line(s.text(buf, truncated)); err != nil {
			return err
		}
		buf, truncated = buf[:0], false
	}
}

func (s *stream) text(buf []byte, truncated bool) string {
	if truncated {
		return string(buf) + truncatedMark
	}
	return string(buf)
}

func (s *stream) tailText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.tail, "\n")
}

func (s *stream) line(text string) error {
	sev := s.runner.opts.Classifier.Classify(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.file, text+"\n"); err != nil {
		return err
	}
	s.res.Lines++
	if len(s.tail) == tailLines {
		s.tail = s.tail[1:]
	}
	s.tail = append(s.tail, text)

	msg := strings.TrimSpace(text)
	switch sev {
	case classify.SeverityWarning:
		s.res.Warnings++
		if !s.runner.opts.Silent {
			s.log.Warn(msg)
		}
	case classify.SeverityError:
		s.res.Errors++
		s.log.Error(msg)
	case classify.SeverityFatal:
		s.res.Errors++
		s.log.Error(msg, zap.Bool("fatal", true))
	default:
		if !s.runner.opts.Silent {
			s.log.Info(msg)
		}
	}
	return nil
}
