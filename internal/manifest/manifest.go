// Package manifest records every processed job as one JSON line.
package manifest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Mode is how a job was handled.
type Mode string

const (
	ModeDryRun Mode = "dry-run"
	ModeSubmit Mode = "submit"
	ModeRun    Mode = "run"
)

// Status summarises the outcome of a job.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
	StatusError  Status = "error"
)

// Entry is one manifest line.
type Entry struct {
	Time     time.Time         `json:"time"`
	Name     string            `json:"name"`
	Run      string            `json:"run"`
	Row      int               `json:"row"`
	Variant  int               `json:"variant"`
	Params   map[string]string `json:"params,omitempty"`
	Conf     string            `json:"conf"`
	Mode     Mode              `json:"mode"`
	Status   Status            `json:"status"`
	ExitCode *int              `json:"exit_code,omitempty"`
	Duration float64           `json:"duration_seconds,omitempty"`
	Archive  string            `json:"archive,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Writer appends entries to a JSONL file. A Writer with an empty path
// discards everything.
type Writer struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewWriter creates a writer for path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the manifest file path.
func (w *Writer) Path() string {
	return w.path
}

// Enabled returns true if the writer has a destination.
func (w *Writer) Enabled() bool {
	return w != nil && w.path != ""
}

// Open opens the manifest file for appending.
func (w *Writer) Open() error {
	if !w.Enabled() {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return nil
	}
	return w.openLocked()
}

// Close closes the manifest file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

// Write appends an entry. A zero Time is set to now.
func (w *Writer) Write(e *Entry) error {
	if !w.Enabled() {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.openLocked(); err != nil {
			return err
		}
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling manifest entry: %w", err)
	}

	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing manifest entry: %w", err)
	}

	return w.file.Sync()
}

func (w *Writer) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening manifest file: %w", err)
	}

	w.file = f
	return nil
}

// Read loads every entry of a manifest file.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// IntPtr returns a pointer to v, for Entry.ExitCode.
func IntPtr(v int) *int {
	return &v
}

// FailedRuns returns the runs with at least one job whose latest entry is
// not StatusOK, in order of first appearance. A later entry for the same job
// name supersedes earlier ones, so runs fixed by a rerun drop out.
func FailedRuns(entries []Entry) []string {
	latest := make(map[string]Status)
	var order []Entry
	for _, e := range entries {
		if _, seen := latest[e.Name]; !seen {
			order = append(order, e)
		}
		latest[e.Name] = e.Status
	}

	var runs []string
	seen := make(map[string]bool)
	for _, e := range order {
		if latest[e.Name] == StatusOK || seen[e.Run] {
			continue
		}
		seen[e.Run] = true
		runs = append(runs, e.Run)
	}
	return runs
}
