// Package generate builds run specific configurations from a template.
//
// The template's @key@ placeholders are filled from global overrides first,
// then, per run, from every matching parameter table row. Rows with
// multi-valued cells yield one configuration per variant.
package generate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"jobsub/internal/placeholder"
	"jobsub/internal/report"
	"jobsub/internal/runset"
	"jobsub/internal/table"
	"jobsub/internal/variant"
)

// UnresolvedError is returned for a variant that still contains
// placeholders after substitution. Other variants are unaffected.
type UnresolvedError struct {
	Name         string
	Placeholders []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("missing configuration parameters for %s: %s",
		e.Name, strings.Join(e.Placeholders, ", "))
}

// Fatal reports whether err ends the generation rather than a single variant.
func Fatal(err error) bool {
	var unresolved *UnresolvedError
	return err != nil && !errors.As(err, &unresolved)
}

// Variant is one fully substituted configuration.
type Variant struct {
	// Name is "<task>_run<run><suffix>" and doubles as the file base name.
	Name string

	Run      runset.RunID
	RunLabel string

	// Row is the table row index, or -1 without a table.
	Row int

	// Index is the variant index within the row.
	Index  int
	Suffix string

	Bindings []variant.Binding
	Text     string
}

// Options configures a Generator.
type Options struct {
	// Template is the raw configuration template.
	Template string

	// TaskName prefixes every variant name.
	TaskName string

	Overrides Overrides
	Table     *table.Table
	Runs      []runset.RunID

	// ZeroPad left-fills numeric run ids with zeros to this many digits.
	ZeroPad int

	Policy variant.Policy
	Report *report.Collector
}

// Generator produces the configurations of a set of runs.
type Generator struct {
	opts Options
	base string
}

// TaskName derives the task name from a template path: its base name
// without extension.
func TaskName(templatePath string) string {
	base := filepath.Base(templatePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// New applies the overrides to the template and returns the generator.
// Overrides missing from the template are reported as warnings, except for
// the reserved defaults.
func New(opts Options) *Generator {
	rep := opts.Report
	log := rep.Logger()

	base := opts.Template
	for _, ov := range opts.Overrides {
		out, err := placeholder.Replace(placeholder.Key(ov.Key), ov.Value, base)
		if errors.Is(err, placeholder.ErrNotFound) {
			if !IsReserved(ov.Key) {
				rep.Warn("parameter was not found in configuration template", zap.String("key", ov.Key))
			}
			continue
		}
		log.Debug("substituted parameter", zap.String("key", ov.Key), zap.String("value", ov.Value))
		base = out
	}

	return &Generator{opts: opts, base: base}
}

// Base returns the template with the global overrides applied.
func (g *Generator) Base() string {
	return g.base
}

// Variants returns the configurations run by run, row by row, variant by
// variant. Each call starts a fresh sequence.
//
// Errors for which Fatal returns false concern one variant only and the
// sequence continues. A fatal error (a malformed row, cancellation) is the
// last value yielded. Cancellation is checked before each run.
func (g *Generator) Variants(ctx context.Context) iter.Seq2[*Variant, error] {
	return func(yield func(*Variant, error) bool) {
		for _, run := range g.opts.Runs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !g.run(run, yield) {
				return
			}
		}
	}
}

// run yields every variant of one run. It returns false when iteration must
// stop.
func (g *Generator) run(run runset.RunID, yield func(*Variant, error) bool) bool {
	rep := g.opts.Report
	log := rep.Logger()
	label := run.Pad(g.opts.ZeroPad)
	log.Info("generating configuration", zap.String("run", label))

	if !g.opts.Table.Loaded() {
		bindings := []variant.Binding{{Field: table.RunNumberField, Value: label}}
		return yield(g.build(run, label, -1, 0, "", bindings))
	}

	rows := g.opts.Table.Match(run)
	if len(rows) == 0 {
		rep.Skip(label, "run was not found in the parameter table")
		return true
	}

	for _, row := range rows {
		exp, err := variant.Expand(row, g.opts.Policy)
		if err != nil {
			yield(nil, fmt.Errorf("table '%s' line %d: %w", g.opts.Table.Source, row.Line, err))
			return false
		}
		log.Debug("expanded table row", zap.String("run", label),
			zap.Int("row", row.Index), zap.Int("variants", exp.Count()))

		for i := 0; i < exp.Count(); i++ {
			if !yield(g.build(run, label, row.Index, i, exp.Suffix(i), exp.Bindings(i))) {
				return false
			}
		}
	}
	return true
}

// build substitutes bindings into a copy of the base text. The run number
// column is bound to the padded run label, so @runnumber@ always matches the
// run id in the variant name.
func (g *Generator) build(run runset.RunID, label string, row, index int, suffix string, bindings []variant.Binding) (*Variant, error) {
	rep := g.opts.Report
	text := g.base

	for i := range bindings {
		if bindings[i].Field == table.RunNumberField {
			bindings[i].Value = label
		}
	}

	for _, b := range bindings {
		if b.Field == "" {
			continue
		}
		out, err := placeholder.Replace(placeholder.Key(b.Field), b.Value, text)
		if errors.Is(err, placeholder.ErrNotFound) {
			if row >= 0 {
				rep.Warn("table parameter was not found in the template (already set by an option?)",
					zap.String("field", b.Field), zap.String("run", label))
			}
			continue
		}
		text = out
	}

	v := &Variant{
		Name:     g.opts.TaskName + "_run" + label + suffix,
		Run:      run,
		RunLabel: label,
		Row:      row,
		Index:    index,
		Suffix:   suffix,
		Bindings: bindings,
		Text:     text,
	}

	if left := placeholder.Unresolved(text); len(left) > 0 {
		return v, &UnresolvedError{Name: v.Name, Placeholders: left}
	}
	return v, nil
}
