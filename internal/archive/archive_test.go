package archive

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJob(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".conf"), []byte("[Corryvreckan]\nlog_level = INFO\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".log"), []byte("---=== Analysis started ===---\n\nok\n"), 0644))
}

func TestLogs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "logs"), 0755))
	writeJob(t, dir, "analysis_run42")

	res, err := Logs(dir, "logs", "analysis_run42", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logs", "analysis_run42.zip"), res.Path)
	assert.Positive(t, res.Size)

	for _, f := range res.Files {
		_, err := os.Stat(f)
		assert.True(t, os.IsNotExist(err), "%s should be removed", f)
	}

	zr, err := zip.OpenReader(res.Path)
	require.NoError(t, err)
	defer zr.Close()

	require.Len(t, zr.File, 2)
	assert.Equal(t, "analysis_run42.conf", zr.File[0].Name)
	assert.Equal(t, "analysis_run42.log", zr.File[1].Name)
	assert.Equal(t, zip.Deflate, zr.File[0].Method)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "[Corryvreckan]\nlog_level = INFO\n", string(data))
}

func TestLogsMissingDirectoryKeepsFiles(t *testing.T) {
	dir := t.TempDir()
	writeJob(t, dir, "job")

	_, err := Logs(dir, "does/not/exist", "job", nil)
	require.Error(t, err)

	for _, ext := range Extensions {
		_, err := os.Stat(filepath.Join(dir, "job"+ext))
		assert.NoError(t, err)
	}
}

func TestLogsMissingLogRemovesPartialArchive(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job.conf"), []byte("x"), 0644))

	_, err := Logs(dir, ".", "job", nil)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "job.zip"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "job.conf"))
	assert.NoError(t, statErr)
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("run_1", "job.zip"), Path("run_1", ".", "job"))
	assert.Equal(t, filepath.Join("/var/logs", "job.zip"), Path("run_1", "/var/logs", "job"))
}
