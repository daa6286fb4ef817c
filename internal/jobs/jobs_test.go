package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"jobsub/internal/generate"
	"jobsub/internal/lock"
	"jobsub/internal/manifest"
	"jobsub/internal/report"
	"jobsub/internal/runner"
	"jobsub/internal/runset"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]int
	err   error
}

func (f *fakeExecutor) Run(ctx context.Context, name, confPath string) (*runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	logPath := runner.LogPath(confPath)
	if err := os.WriteFile(logPath, []byte("---=== Analysis started ===---\n"), 0644); err != nil {
		return nil, err
	}
	res := &runner.Result{LogPath: logPath, ExitCode: f.fail[name], Duration: time.Second}
	if res.ExitCode != 0 {
		res.LastError = "(ERROR) broken"
	}
	return res, nil
}

type fakeSubmitter struct {
	calls []string
	fail  string
}

func (f *fakeSubmitter) Submit(ctx context.Context, name, confPath string) error {
	f.calls = append(f.calls, confPath)
	if name == f.fail {
		return errors.New("HTCondor submission returned with error code 1")
	}
	return nil
}

func newGenerator(t *testing.T, tmpl, runs string, rep *report.Collector) *generate.Generator {
	t.Helper()
	overrides, err := generate.ParseOverrides(nil)
	require.NoError(t, err)
	return generate.New(generate.Options{
		Template:  tmpl,
		TaskName:  "analysis",
		Overrides: overrides,
		Runs:      runset.Parse(runs),
		Report:    rep,
	})
}

func newReport() (*report.Collector, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return report.New(zap.New(core)), logs
}

func TestDryRunWithSubdirs(t *testing.T) {
	dir := t.TempDir()
	rep, _ := newReport()
	mf := manifest.NewWriter(filepath.Join(dir, "manifest.jsonl"))

	p := New(Options{
		Generator: newGenerator(t, "run = @RunNumber@\n", "7-8", rep),
		Dir:       dir,
		Subdir:    true,
		DryRun:    true,
		Manifest:  mf,
		Report:    rep,
	})
	assert.Equal(t, manifest.ModeDryRun, p.Mode())

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, mf.Close())
	assert.Equal(t, 2, sum.Written)
	assert.Zero(t, sum.Executed)

	data, err := os.ReadFile(filepath.Join(dir, "run_7", "analysis_run7.conf"))
	require.NoError(t, err)
	assert.Equal(t, "run = 7\n", string(data))
	assert.FileExists(t, filepath.Join(dir, "run_8", "analysis_run8.conf"))

	entries, err := manifest.Read(mf.Path())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "analysis_run7", entries[0].Name)
	assert.Equal(t, manifest.ModeDryRun, entries[0].Mode)
	assert.Equal(t, "7", entries[0].Params["runnumber"])
	assert.Equal(t, -1, entries[0].Row)
}

func TestExecuteAndArchive(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "logs"), 0755))
	rep, _ := newReport()
	exec := &fakeExecutor{fail: map[string]int{"analysis_run2": 4}}
	mf := manifest.NewWriter(filepath.Join(dir, "manifest.jsonl"))

	p := New(Options{
		Generator: newGenerator(t, "run = @runnumber@\n", "1-3", rep),
		Dir:       dir,
		Executor:  exec,
		Archive:   true,
		LogPath:   "logs",
		Manifest:  mf,
		Report:    rep,
	})

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, mf.Close())

	assert.Equal(t, []string{"analysis_run1", "analysis_run2", "analysis_run3"}, exec.calls)
	assert.Equal(t, &Summary{Written: 3, Executed: 3, Failed: 1, Archived: 3}, sum)
	assert.Equal(t, 1, rep.Errors())

	for _, name := range exec.calls {
		assert.FileExists(t, filepath.Join(dir, "logs", name+".zip"))
		assert.NoFileExists(t, filepath.Join(dir, name+".conf"))
	}

	entries, err := manifest.Read(mf.Path())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, manifest.StatusFailed, entries[1].Status)
	require.NotNil(t, entries[1].ExitCode)
	assert.Equal(t, 4, *entries[1].ExitCode)
	assert.Equal(t, "exit code 4: (ERROR) broken", entries[1].Error)
	assert.Equal(t, filepath.Join(dir, "logs", "analysis_run3.zip"), entries[2].Archive)
}

func TestArchiveFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	rep, logs := newReport()

	p := New(Options{
		Generator: newGenerator(t, "@runnumber@", "5", rep),
		Dir:       dir,
		Executor:  &fakeExecutor{},
		Archive:   true,
		LogPath:   "missing",
		Report:    rep,
	})

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Archived)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, 1, logs.FilterMessage("input/output error").Len())
	assert.FileExists(t, filepath.Join(dir, "analysis_run5.conf"))
}

func TestExecutorErrorContinues(t *testing.T) {
	rep, _ := newReport()
	exec := &fakeExecutor{err: errors.New("cannot start")}

	p := New(Options{
		Generator: newGenerator(t, "@runnumber@", "1,2", rep),
		Dir:       t.TempDir(),
		Executor:  exec,
		Report:    rep,
	})

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, exec.calls, 2)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 2, rep.Errors())
}

func TestSubmit(t *testing.T) {
	dir := t.TempDir()
	rep, _ := newReport()
	sub := &fakeSubmitter{fail: "analysis_run11"}

	p := New(Options{
		Generator: newGenerator(t, "@runnumber@", "10-12", rep),
		Dir:       dir,
		Submitter: sub,
		Archive:   true,
		Report:    rep,
	})
	assert.Equal(t, manifest.ModeSubmit, p.Mode())

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, sub.calls, 3)
	assert.Equal(t, filepath.Join(dir, "analysis_run10.conf"), sub.calls[0])
	assert.Equal(t, 2, sum.Submitted)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, sum.Archived, "submitted jobs are not archived")
}

func TestUnresolvedContinues(t *testing.T) {
	dir := t.TempDir()
	rep, logs := newReport()

	p := New(Options{
		Generator: newGenerator(t, "@runnumber@ @missing@", "1,2", rep),
		Dir:       dir,
		DryRun:    true,
		Report:    rep,
	})

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Unresolved)
	assert.Zero(t, sum.Written)
	assert.Equal(t, 2, logs.FilterMessage("missing configuration parameters").Len())
	assert.NoFileExists(t, filepath.Join(dir, "analysis_run1.conf"))
}

func TestInterrupted(t *testing.T) {
	rep, _ := newReport()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(Options{
		Generator: newGenerator(t, "@runnumber@", "1,2", rep),
		Dir:       t.TempDir(),
		DryRun:    true,
		Report:    rep,
	})

	sum, err := p.Run(ctx)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Written)
}

func TestRunRequiresExecutor(t *testing.T) {
	rep, _ := newReport()
	p := New(Options{Generator: newGenerator(t, "x", "1", rep), Report: rep})
	_, err := p.Run(context.Background())
	assert.Error(t, err)
}

func TestWithSignals(t *testing.T) {
	ctx, cancel := WithSignals(context.Background(), zap.NewNop())
	defer cancel()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGINT")
	}
}

func TestLockedJobIsSkipped(t *testing.T) {
	dir := t.TempDir()
	rep, logs := newReport()

	held := lock.New(filepath.Join(dir, "analysis_run2"))
	require.NoError(t, held.TryAcquire())
	defer held.Release()

	exec := &fakeExecutor{}
	p := New(Options{
		Generator: newGenerator(t, "@runnumber@", "1-3", rep),
		Dir:       dir,
		Executor:  exec,
		Report:    rep,
	})

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"analysis_run1", "analysis_run3"}, exec.calls)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, logs.FilterMessage("job files are in use").Len())
	assert.NoFileExists(t, filepath.Join(dir, "analysis_run2.conf"))
	assert.NoDirExists(t, filepath.Join(dir, "analysis_run1.lock"))
}
