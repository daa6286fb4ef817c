// Package archive bundles a job's configuration and log into a zip file.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// Extensions of the files stored per job, in archive order.
var Extensions = []string{".conf", ".log"}

// Result describes a written archive.
type Result struct {
	Path  string
	Size  int64
	Files []string
}

// Path returns the archive location for job name. A relative logPath is
// taken relative to dir, the directory holding the job's files.
func Path(dir, logPath, name string) string {
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(dir, logPath)
	}
	return filepath.Join(logPath, name+".zip")
}

// Logs writes <name>.conf and <name>.log from dir into the archive and
// removes them once the archive is complete. On failure the originals are
// kept and a partial archive is removed.
func Logs(dir, logPath, name string, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	res := &Result{Path: Path(dir, logPath, name)}

	for _, ext := range Extensions {
		res.Files = append(res.Files, filepath.Join(dir, name+ext))
	}

	logger.Debug("creating compressed log archive", zap.String("path", res.Path))
	if err := write(res.Path, res.Files); err != nil {
		_ = os.Remove(res.Path)
		return nil, fmt.Errorf("could not create log and configuration archive (%s): %w", res.Path, err)
	}

	for _, f := range res.Files {
		if err := os.Remove(f); err != nil {
			return res, fmt.Errorf("removing archived file: %w", err)
		}
	}

	if info, err := os.Stat(res.Path); err == nil {
		res.Size = info.Size()
	}
	logger.Info("logs written", zap.String("path", res.Path), zap.String("size", humanize.Bytes(uint64(res.Size))))
	return res, nil
}

func write(path string, files []string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(out)
	for _, f := range files {
		if err := add(zw, f); err != nil {
			zw.Close()
			out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func add(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
