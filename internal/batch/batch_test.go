package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"jobsub/internal/util"
)

const fakeSubmit = `#!/bin/sh
for a in "$@"; do echo "$a"; done > args.txt
echo "Submitting job(s)."
echo "1 job(s) submitted to cluster 17."
exit ${FAKE_EXIT:-0}
`

func setup(t *testing.T) (string, string) {
	t.Helper()
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "fake_submit"), []byte(fakeSubmit), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "fakecorry"), []byte("#!/bin/sh\n"), 0755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	work := t.TempDir()
	sub := filepath.Join(work, "corry.sub")
	require.NoError(t, os.WriteFile(sub, []byte("queue\n"), 0644))
	return work, sub
}

func TestSubmit(t *testing.T) {
	work, sub := setup(t)
	core, logs := observer.New(zapcore.DebugLevel)

	s, err := New(Options{
		SubmitCmd:   "fake_submit",
		AnalysisCmd: "fakecorry -v INFO",
		SubmitFile:  sub,
		NamePrefix:  "Corry",
		Logger:      zap.New(core),
	})
	require.NoError(t, err)

	conf := filepath.Join(work, "analysis_run42.conf")
	require.NoError(t, os.WriteFile(conf, []byte("x"), 0644))
	require.NoError(t, s.Submit(context.Background(), "analysis_run42", conf))

	data, err := os.ReadFile(filepath.Join(work, "args.txt"))
	require.NoError(t, err)
	corry, _ := util.FindCommand("fakecorry")
	assert.Equal(t, []string{
		"-batch-name", "Corryanalysis_run42",
		"executable=" + corry,
		"arguments=-c " + conf,
		sub,
	}, strings.Split(strings.TrimSpace(string(data)), "\n"))

	assert.Equal(t, 1, logs.FilterMessage("1 job(s) submitted to cluster 17.").Len())
}

func TestSubmitFailure(t *testing.T) {
	work, sub := setup(t)
	t.Setenv("FAKE_EXIT", "1")

	s, err := New(Options{SubmitCmd: "fake_submit", AnalysisCmd: "fakecorry", SubmitFile: sub})
	require.NoError(t, err)

	err = s.Submit(context.Background(), "job", filepath.Join(work, "job.conf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error code 1")
}

func TestNewChecks(t *testing.T) {
	work, sub := setup(t)

	_, err := New(Options{SubmitCmd: "fake_submit", AnalysisCmd: "fakecorry", SubmitFile: filepath.Join(work, "missing.sub")})
	assert.True(t, errors.Is(err, ErrSubmitFile))

	_, err = New(Options{SubmitCmd: "fake_submit", AnalysisCmd: "fakecorry", SubmitFile: work})
	assert.True(t, errors.Is(err, ErrSubmitFile), "a directory is not a submit file")

	_, err = New(Options{SubmitCmd: "jobsub-no-submit", AnalysisCmd: "fakecorry", SubmitFile: sub})
	assert.True(t, errors.Is(err, util.ErrCommandNotFound))

	_, err = New(Options{SubmitCmd: "fake_submit", AnalysisCmd: "jobsub-no-corry", SubmitFile: sub})
	assert.True(t, errors.Is(err, util.ErrCommandNotFound))
}

func TestSubmitFileIsAbsolute(t *testing.T) {
	work, _ := setup(t)
	t.Chdir(work)

	s, err := New(Options{SubmitCmd: "fake_submit", AnalysisCmd: "fakecorry", SubmitFile: "corry.sub"})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(s.SubmitFile()))

	args, err := s.Args("job", "job.conf")
	require.NoError(t, err)
	assert.Equal(t, "arguments=-c "+filepath.Join(filepath.Dir(s.SubmitFile()), "job.conf"), args[4])
}
