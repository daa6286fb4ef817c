// Package table loads per-run parameter tables.
//
// A table is a delimited text file whose first non-comment line is a header.
// One column must be labelled RunNumber (case-insensitive); every other column
// names a template placeholder. The delimiter and quoting are sniffed from the
// start of the file.
package table

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"jobsub/internal/report"
	"jobsub/internal/runset"
)

// RunNumberField is the required column, after case folding.
const RunNumberField = "runnumber"

var (
	// ErrNoRunNumberColumn is returned when the header lacks a RunNumber column.
	ErrNoRunNumberColumn = errors.New("no column with header label 'RunNumber'")

	// ErrNoHeader is returned when the table has no non-comment line at all.
	ErrNoHeader = errors.New("no header line found")

	// ErrUnmatchedRuns is wrapped by UnmatchedError.
	ErrUnmatchedRuns = errors.New("no table entry for runs")
)

// LoadError is a fatal problem with a table source.
type LoadError struct {
	Source string
	Line   int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("loading table '%s' (line %d): %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("loading table '%s': %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// UnmatchedError lists requested runs without any table row.
type UnmatchedError struct {
	Source string
	Runs   []runset.RunID
}

func (e *UnmatchedError) Error() string {
	return fmt.Sprintf("%v in '%s': %s", ErrUnmatchedRuns, e.Source, runset.Join(e.Runs))
}

func (e *UnmatchedError) Unwrap() error {
	return ErrUnmatchedRuns
}

// Options controls table loading.
type Options struct {
	// CommentPrefix marks lines to ignore. Defaults to "#".
	CommentPrefix string

	// SampleSize is the minimum number of bytes of whole lines handed to the
	// dialect sniffer. Defaults to 1024.
	SampleSize int

	// Report receives recoverable problems. May be nil.
	Report *report.Collector
}

func (o Options) withDefaults() Options {
	if o.CommentPrefix == "" {
		o.CommentPrefix = "#"
	}
	if o.SampleSize <= 0 {
		o.SampleSize = 1024
	}
	return o
}

// Row is one parsed data line. Field names are lower-cased and trimmed.
type Row struct {
	// Index is the position among successfully parsed data lines.
	Index int

	// Line is the line number in the source file.
	Line int

	// RunNumber is the parsed runnumber field.
	RunNumber int

	fields []string
	values map[string]string
}

// NewRow builds a row from ordered field names and values. Missing values
// are empty; a repeated field keeps its first position and its last value.
func NewRow(runNumber int, fields, values []string) Row {
	r := Row{RunNumber: runNumber, values: make(map[string]string, len(fields))}
	for i, f := range fields {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		r.set(f, v)
	}
	return r
}

func (r *Row) set(field, value string) {
	if _, ok := r.values[field]; !ok {
		r.fields = append(r.fields, field)
	}
	r.values[field] = value
}

// Fields returns the field names in column order.
func (r Row) Fields() []string {
	return append([]string(nil), r.fields...)
}

// Get returns the raw value of a field.
func (r Row) Get(field string) (string, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Table holds the rows of a parameter table that matched the requested runs.
type Table struct {
	Source  string
	Header  []string
	Dialect Dialect

	rows      []Row
	unmatched []runset.RunID
}

// Empty returns a table with no source and no rows.
func Empty() *Table {
	return &Table{}
}

// Rows returns the matched rows ordered by index.
func (t *Table) Rows() []Row {
	if t == nil {
		return nil
	}
	return t.rows
}

// Len returns the number of matched rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Loaded reports whether the table came from a source.
func (t *Table) Loaded() bool {
	return t != nil && t.Source != ""
}

// Match returns the rows whose run number equals run. String run ids never
// match.
func (t *Table) Match(run runset.RunID) []Row {
	n, ok := run.Int()
	if t == nil || !ok {
		return nil
	}
	var out []Row
	for _, r := range t.rows {
		if r.RunNumber == n {
			out = append(out, r)
		}
	}
	return out
}

// Unmatched returns the requested runs that no row matched, in request order.
func (t *Table) Unmatched() []runset.RunID {
	if t == nil {
		return nil
	}
	return t.unmatched
}

// CheckMatched returns an *UnmatchedError when any requested run is unmatched.
func (t *Table) CheckMatched() error {
	if len(t.Unmatched()) == 0 {
		return nil
	}
	return &UnmatchedError{Source: t.Source, Runs: t.unmatched}
}

// Load reads the table at path and keeps the rows matching runs. An empty
// path yields an empty table.
func Load(path string, runs []runset.RunID, opts Options) (*Table, error) {
	if path == "" {
		return Empty(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	defer f.Close()

	return Read(f, path, runs, opts)
}

type sourceLine struct {
	num  int
	text string
}

// Read parses a table from r. source names the input in messages.
func Read(r io.Reader, source string, runs []runset.RunID, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	rep := opts.Report
	log := rep.Logger()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}

	lines := filterLines(string(data), opts.CommentPrefix)
	if len(lines) == 0 {
		return nil, &LoadError{Source: source, Err: ErrNoHeader}
	}

	var sample strings.Builder
	for _, l := range lines {
		if sample.Len() >= opts.SampleSize {
			break
		}
		sample.WriteString(l.text)
		sample.WriteByte('\n')
	}
	dialect, err := Sniff(sample.String())
	if err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}
	log.Debug("determined table dialect", zap.String("source", source), zap.Stringer("dialect", dialect))

	header, err := dialect.Split(lines[0].text)
	if err != nil {
		return nil, &LoadError{Source: source, Line: lines[0].num, Err: err}
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	log.Debug("table header", zap.String("source", source), zap.Strings("fields", header))

	if !slices.Contains(header, RunNumberField) {
		return nil, &LoadError{Source: source, Err: ErrNoRunNumberColumn}
	}
	if slices.Contains(header, "") {
		rep.Warn("column without header label in table", zap.String("source", source))
	}

	wanted := make(map[int]bool)
	for _, id := range runs {
		if n, ok := id.Int(); ok {
			wanted[n] = true
		}
	}
	matched := make(map[int]bool)

	t := &Table{Source: source, Header: header, Dialect: dialect}
	index := 0
	for _, l := range lines[1:] {
		values, err := dialect.Split(l.text)
		if err != nil {
			return nil, &LoadError{Source: source, Line: l.num, Err: err}
		}
		if len(values) > len(header) {
			log.Debug("ignoring surplus fields", zap.String("source", source), zap.Int("line", l.num))
		}

		row := NewRow(0, header, values)
		row.Line = l.num

		raw := row.values[RunNumberField]
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			rep.Warn("could not interpret run number",
				zap.String("source", source), zap.Int("line", l.num), zap.String("value", raw))
			continue
		}
		row.RunNumber = n
		row.Index = index
		index++

		if wanted[n] {
			log.Debug("found table entry", zap.Int("run", n), zap.Int("line", l.num))
			matched[n] = true
			t.rows = append(t.rows, row)
		}
	}
	log.Debug("searched table", zap.String("source", source), zap.Int("rows", index))

	for _, id := range runs {
		if n, ok := id.Int(); ok && matched[n] {
			continue
		}
		t.unmatched = append(t.unmatched, id)
	}
	if len(t.unmatched) == 0 {
		log.Debug("found at least one table entry for each run")
	}

	return t, nil
}

// filterLines drops comment and blank lines and remembers line numbers.
func filterLines(data string, commentPrefix string) []sourceLine {
	var out []sourceLine
	for i, text := range strings.Split(data, "\n") {
		text = strings.TrimRight(text, "\r")
		if strings.HasPrefix(text, commentPrefix) || strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, sourceLine{num: i + 1, text: text})
	}
	return out
}
